// Package store persists the version ledger and the document registry.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/reqflow/internal/model"
)

// Store is the persistence boundary used by the version manager and the
// workflows. Implementations deep-copy payloads on write and read.
type Store interface {
	// Append persists v, assigning ID and, when zero, CreatedAt. Seq must be
	// greater than every existing seq for the document.
	Append(ctx context.Context, v model.Version) (model.Version, error)
	// Latest returns the highest-seq version of a document
	Latest(ctx context.Context, docID string) (model.Version, error)
	Get(ctx context.Context, id int64) (model.Version, error)
	// List returns a document's versions in ascending seq
	List(ctx context.Context, docID string) ([]model.Version, error)

	// PutDocument registers or updates a document. An empty ID gets a
	// fresh uuid and a zero Seq the next position.
	PutDocument(ctx context.Context, doc model.Document) (model.Document, error)
	Document(ctx context.Context, id string) (model.Document, error)
	Documents(ctx context.Context) ([]model.Document, error)

	Close() error
}

// Open selects an implementation by driver name
func Open(cfg model.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (want sqlite or memory)", cfg.Driver)
	}
}

func checkAppend(v model.Version, latestSeq int) error {
	if v.DocumentID == "" {
		return fmt.Errorf("append: %w: empty document id", model.ErrInvalidState)
	}
	if v.Seq <= latestSeq {
		return fmt.Errorf("append: %w: seq %d not after %d for document %s", model.ErrInvalidState, v.Seq, latestSeq, v.DocumentID)
	}
	if _, err := v.Kind.MarshalText(); err != nil {
		return fmt.Errorf("append: %w: %v", model.ErrInvalidState, err)
	}
	return nil
}

func prepareDocument(doc model.Document, nextSeq int) (model.Document, error) {
	if _, err := doc.Kind.MarshalText(); err != nil {
		return model.Document{}, fmt.Errorf("put document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Seq == 0 {
		doc.Seq = nextSeq
	}
	return doc, nil
}

func stamp(v model.Version) model.Version {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return v
}
