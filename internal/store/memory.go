package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/reqflow/internal/model"
)

// Memory is an in-process Store. Versions live in an arena keyed by ID
// with a per-document index.
type Memory struct {
	mu        sync.RWMutex
	versions  map[int64]model.Version
	byDoc     map[string][]int64 // ascending seq
	nextID    int64
	documents map[string]model.Document
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		versions:  make(map[int64]model.Version),
		byDoc:     make(map[string][]int64),
		documents: make(map[string]model.Document),
	}
}

func (m *Memory) Append(ctx context.Context, v model.Version) (model.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := 0
	if ids := m.byDoc[v.DocumentID]; len(ids) > 0 {
		latest = m.versions[ids[len(ids)-1]].Seq
	}
	if err := checkAppend(v, latest); err != nil {
		return model.Version{}, err
	}

	m.nextID++
	v = stamp(v.Clone())
	v.ID = m.nextID
	m.versions[v.ID] = v
	m.byDoc[v.DocumentID] = append(m.byDoc[v.DocumentID], v.ID)
	return v.Clone(), nil
}

func (m *Memory) Latest(ctx context.Context, docID string) (model.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDoc[docID]
	if len(ids) == 0 {
		return model.Version{}, fmt.Errorf("document %s has no versions: %w", docID, model.ErrNotFound)
	}
	return m.versions[ids[len(ids)-1]].Clone(), nil
}

func (m *Memory) Get(ctx context.Context, id int64) (model.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return model.Version{}, fmt.Errorf("version %d: %w", id, model.ErrNotFound)
	}
	return v.Clone(), nil
}

func (m *Memory) List(ctx context.Context, docID string) ([]model.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDoc[docID]
	out := make([]model.Version, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.versions[id].Clone())
	}
	return out, nil
}

func (m *Memory) PutDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 1
	for _, d := range m.documents {
		if d.Seq >= next {
			next = d.Seq + 1
		}
	}
	doc, err := prepareDocument(doc, next)
	if err != nil {
		return model.Document{}, err
	}
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *Memory) Document(ctx context.Context, id string) (model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return doc, nil
}

func (m *Memory) Documents(ctx context.Context) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Document, 0, len(m.documents))
	for _, d := range m.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }
