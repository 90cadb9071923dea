package model

import (
	"fmt"
	"strings"
	"time"
)

// Version is an immutable, sequence-numbered snapshot of derived content
type Version struct {
	ID          int64       `json:"id"`
	DocumentID  string      `json:"document_id"`
	Seq         int         `json:"seq"` // Per document, starting at 1
	Kind        VersionKind `json:"kind"`
	Payload     Payload     `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
	DerivedFrom *int64      `json:"derived_from,omitempty"` // Source version for revert/fix provenance
}

// Clone returns a deep copy of the version
func (v Version) Clone() Version {
	out := v
	out.Payload = v.Payload.Clone()
	if v.DerivedFrom != nil {
		d := *v.DerivedFrom
		out.DerivedFrom = &d
	}
	return out
}

// VersionKind tags how a version came to exist
type VersionKind int

const (
	KindGenerated VersionKind = iota + 1
	KindRevised
	KindReverted
	KindFixProposed
	KindFixApplied
)

// VersionKinds lists every valid kind in declaration order
var VersionKinds = []VersionKind{KindGenerated, KindRevised, KindReverted, KindFixProposed, KindFixApplied}

func (k VersionKind) String() string {
	switch k {
	case KindGenerated:
		return "generated"
	case KindRevised:
		return "revised"
	case KindReverted:
		return "reverted"
	case KindFixProposed:
		return "fix-proposed"
	case KindFixApplied:
		return "fix-applied"
	default:
		return "unknown"
	}
}

// ParseVersionKind parses the string form produced by String
func ParseVersionKind(s string) (VersionKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range VersionKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown version kind %q", s)
}

func (k VersionKind) MarshalText() ([]byte, error) {
	if k < KindGenerated || k > KindFixApplied {
		return nil, fmt.Errorf("invalid version kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *VersionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseVersionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
