// Package version manages per-document, append-only version chains.
package version

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/metrics"
	"github.com/ppiankov/reqflow/internal/model"
)

// Ledger is the persistence the manager needs. store.Store satisfies it.
type Ledger interface {
	Append(ctx context.Context, v model.Version) (model.Version, error)
	Latest(ctx context.Context, docID string) (model.Version, error)
	Get(ctx context.Context, id int64) (model.Version, error)
	List(ctx context.Context, docID string) ([]model.Version, error)
}

// Manager serialises version creation per document and answers history
// queries. Operations on different documents never contend.
type Manager struct {
	ledger  Ledger
	locks   keyedMutex
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics counts created versions by kind
func WithMetrics(m *metrics.Metrics) Option { return func(mgr *Manager) { mgr.metrics = m } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(mgr *Manager) {
		if l != nil {
			mgr.logger = l
		}
	}
}

// NewManager creates a manager over a ledger
func NewManager(ledger Ledger, opts ...Option) *Manager {
	m := &Manager{ledger: ledger, logger: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create appends a version with seq = latest+1 (1 for the first). The
// payload is deep-copied. derivedFrom, when set, must name a version of
// the same document.
func (m *Manager) Create(ctx context.Context, docID string, payload model.Payload, kind model.VersionKind, derivedFrom *int64) (model.Version, error) {
	if docID == "" {
		return model.Version{}, fmt.Errorf("create version: %w: empty document id", model.ErrInvalidState)
	}
	if _, err := kind.MarshalText(); err != nil {
		return model.Version{}, fmt.Errorf("create version: %w: %v", model.ErrInvalidState, err)
	}

	unlock := m.locks.Lock(docID)
	defer unlock()

	if derivedFrom != nil {
		if _, err := m.Get(ctx, docID, *derivedFrom); err != nil {
			return model.Version{}, fmt.Errorf("create version: derived from: %w", err)
		}
	}

	seq := 1
	latest, err := m.ledger.Latest(ctx, docID)
	switch {
	case err == nil:
		seq = latest.Seq + 1
	case errors.Is(err, model.ErrNotFound):
	default:
		return model.Version{}, fmt.Errorf("create version: %w", err)
	}

	v := model.Version{
		DocumentID: docID,
		Seq:        seq,
		Kind:       kind,
		Payload:    payload.Clone(),
	}
	if derivedFrom != nil {
		d := *derivedFrom
		v.DerivedFrom = &d
	}

	created, err := m.ledger.Append(ctx, v)
	if err != nil {
		return model.Version{}, fmt.Errorf("create version: %w", err)
	}

	m.metrics.VersionCreated(kind.String())
	m.logger.Info("version created",
		zap.String("document", docID),
		zap.Int64("version", created.ID),
		zap.Int("seq", created.Seq),
		zap.Stringer("kind", kind),
		zap.Int("items", len(created.Payload.Items)))
	return created, nil
}

// Latest returns the newest version matching pred, falling back to the
// newest version overall when none matches. A nil pred is strict latest.
func (m *Manager) Latest(ctx context.Context, docID string, pred Predicate) (model.Version, error) {
	if pred == nil {
		v, err := m.ledger.Latest(ctx, docID)
		if err != nil {
			return model.Version{}, fmt.Errorf("latest version: %w", err)
		}
		return v, nil
	}

	history, err := m.ledger.List(ctx, docID)
	if err != nil {
		return model.Version{}, fmt.Errorf("latest version: %w", err)
	}
	if len(history) == 0 {
		return model.Version{}, fmt.Errorf("latest version: document %s has no versions: %w", docID, model.ErrNotFound)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if pred(history[i]) {
			return history[i], nil
		}
	}
	return history[len(history)-1], nil
}

// Get returns a version of a document. A version belonging to another
// document is reported as not found.
func (m *Manager) Get(ctx context.Context, docID string, versionID int64) (model.Version, error) {
	v, err := m.ledger.Get(ctx, versionID)
	if err != nil {
		return model.Version{}, err
	}
	if v.DocumentID != docID {
		return model.Version{}, fmt.Errorf("version %d of document %s: %w", versionID, docID, model.ErrNotFound)
	}
	return v, nil
}

// History returns all versions of a document in ascending seq
func (m *Manager) History(ctx context.Context, docID string) ([]model.Version, error) {
	history, err := m.ledger.List(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return history, nil
}

// Revert copies target's payload forward into a new reverted version.
// Nothing is deleted.
func (m *Manager) Revert(ctx context.Context, docID string, target int64) (model.Version, error) {
	v, err := m.Get(ctx, docID, target)
	if err != nil {
		return model.Version{}, fmt.Errorf("revert: %w", err)
	}
	return m.Create(ctx, docID, v.Payload, model.KindReverted, &v.ID)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is held and returns the matching unlock
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
