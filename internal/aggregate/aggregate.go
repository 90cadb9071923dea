// Package aggregate is the reduce stage: it merges per-segment results
// into one ordered, renumbered item list.
package aggregate

import (
	"sort"

	"github.com/ppiankov/reqflow/internal/model"
)

// Merge orders parts by segment ordinal and concatenates their items,
// assigning IDs 1..n. Items within a part keep the order the backend
// returned them in. Inputs are not modified.
func Merge(parts []model.PartialResult) []model.Item {
	ordered := make([]model.PartialResult, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	items := make([]model.Item, 0, countItems(parts))
	for _, p := range ordered {
		for _, it := range p.Items {
			items = append(items, it.Clone())
		}
	}
	return Renumber(items)
}

// Renumber assigns IDs 1..n in slice order. It rewrites the slice in place
// and returns it.
func Renumber(items []model.Item) []model.Item {
	for i := range items {
		items[i].ID = i + 1
	}
	return items
}

// Stats summarises a map stage run
type Stats struct {
	Segments int
	Failed   int
	Items    int
	PerLabel map[string]int
}

// Summarize counts segments, failures and items per segment label
func Summarize(parts []model.PartialResult) Stats {
	s := Stats{Segments: len(parts), PerLabel: make(map[string]int, len(parts))}
	for _, p := range parts {
		if p.Failed {
			s.Failed++
		}
		s.Items += len(p.Items)
		s.PerLabel[p.Label] += len(p.Items)
	}
	return s
}

// FailedLabels lists the labels of failed segments in ordinal order
func FailedLabels(parts []model.PartialResult) []string {
	ordered := make([]model.PartialResult, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	var out []string
	for _, p := range ordered {
		if p.Failed {
			out = append(out, p.Label)
		}
	}
	return out
}

func countItems(parts []model.PartialResult) int {
	n := 0
	for _, p := range parts {
		n += len(p.Items)
	}
	return n
}
