package version

import (
	"slices"

	"github.com/ppiankov/reqflow/internal/model"
)

// Predicate selects versions for Manager.Latest
type Predicate func(model.Version) bool

// KindIs matches versions of any of the given kinds
func KindIs(kinds ...model.VersionKind) Predicate {
	return func(v model.Version) bool {
		return slices.Contains(kinds, v.Kind)
	}
}

// HasItems matches versions carrying at least one item of kind
func HasItems(kind model.ItemKind) Predicate {
	return func(v model.Version) bool {
		return v.Payload.Count(kind) > 0
	}
}

// HasText matches versions carrying a revised document body
func HasText() Predicate {
	return func(v model.Version) bool {
		return v.Payload.Text != ""
	}
}
