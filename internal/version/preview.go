package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/reqflow/internal/model"
)

// Preview describes what committing a candidate payload would do.
// Building one never appends.
type Preview struct {
	DocumentID string         `json:"document_id"`
	Base       *model.Version `json:"base,omitempty"` // nil when the document has no versions
	NextSeq    int            `json:"next_seq"`
	Candidate  model.Payload  `json:"candidate"`
	Diff       Diff           `json:"diff"`
}

// Diff compares a candidate payload with its base
type Diff struct {
	Added       []model.Item `json:"added,omitempty"`
	Removed     []model.Item `json:"removed,omitempty"`
	Changed     []Change     `json:"changed,omitempty"`
	Unchanged   int          `json:"unchanged"`
	TextChanged bool         `json:"text_changed,omitempty"`
}

// Change pairs an item before and after
type Change struct {
	Before model.Item `json:"before"`
	After  model.Item `json:"after"`
}

// Empty reports whether the candidate equals the base
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && !d.TextChanged
}

// Preview compares candidate against the strict latest version
func (m *Manager) Preview(ctx context.Context, docID string, candidate model.Payload) (Preview, error) {
	p := Preview{DocumentID: docID, NextSeq: 1, Candidate: candidate.Clone()}

	base, err := m.ledger.Latest(ctx, docID)
	switch {
	case err == nil:
		p.Base = &base
		p.NextSeq = base.Seq + 1
		p.Diff = Compare(base.Payload, candidate)
	case errors.Is(err, model.ErrNotFound):
		p.Diff = Compare(model.Payload{}, candidate)
	default:
		return Preview{}, fmt.Errorf("preview: %w", err)
	}
	return p, nil
}

// Compare diffs two payloads. Items with identical content (ignoring ID
// and segment) are unchanged wherever they moved. Remaining items are
// paired by ID as changes; the rest are additions or removals.
func Compare(base, candidate model.Payload) Diff {
	d := Diff{TextChanged: base.Text != candidate.Text}

	pool := make(map[string][]int) // fingerprint -> unmatched base indexes
	for i, it := range base.Items {
		fp := fingerprint(it)
		pool[fp] = append(pool[fp], i)
	}

	matched := make([]bool, len(base.Items))
	var leftover []model.Item
	for _, it := range candidate.Items {
		fp := fingerprint(it)
		if idx := pool[fp]; len(idx) > 0 {
			matched[idx[0]] = true
			pool[fp] = idx[1:]
			d.Unchanged++
			continue
		}
		leftover = append(leftover, it)
	}

	baseByID := make(map[int]int)
	for i, it := range base.Items {
		if !matched[i] {
			baseByID[it.ID] = i
		}
	}
	for _, it := range leftover {
		if i, ok := baseByID[it.ID]; ok && base.Items[i].Kind() == it.Kind() {
			matched[i] = true
			delete(baseByID, it.ID)
			d.Changed = append(d.Changed, Change{Before: base.Items[i].Clone(), After: it.Clone()})
			continue
		}
		d.Added = append(d.Added, it.Clone())
	}
	for i, it := range base.Items {
		if !matched[i] {
			d.Removed = append(d.Removed, it.Clone())
		}
	}
	return d
}

func fingerprint(it model.Item) string {
	it.ID = 0
	it.Segment = ""
	b, _ := json.Marshal(it)
	return string(b)
}
