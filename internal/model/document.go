package model

import (
	"fmt"
	"strings"
)

// Document identifies a requirement document owned outside the core.
// Only its text is read; derived versions are keyed by ID.
type Document struct {
	ID       string  `json:"id" yaml:"id"`
	Kind     DocKind `json:"kind" yaml:"kind"`
	Seq      int     `json:"seq" yaml:"seq"`           // Position within the parent collection
	Location string  `json:"location" yaml:"location"` // File path or http(s) URL; empty for converted documents
	Title    string  `json:"title,omitempty" yaml:"title,omitempty"`

	// SourceID is the business document an FRD was converted from
	SourceID string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
}

// DocKind classifies a document as business-level or functional-level
type DocKind int

const (
	DocBusiness DocKind = iota + 1
	DocFunctional
)

func (k DocKind) String() string {
	switch k {
	case DocBusiness:
		return "brd"
	case DocFunctional:
		return "frd"
	default:
		return "unknown"
	}
}

// ParseDocKind accepts "brd"/"business" and "frd"/"functional"
func ParseDocKind(s string) (DocKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "brd", "business":
		return DocBusiness, nil
	case "frd", "functional":
		return DocFunctional, nil
	default:
		return 0, fmt.Errorf("unknown document kind %q (want brd or frd)", s)
	}
}

func (k DocKind) MarshalText() ([]byte, error) {
	switch k {
	case DocBusiness, DocFunctional:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid document kind %d", int(k))
	}
}

func (k *DocKind) UnmarshalText(b []byte) error {
	parsed, err := ParseDocKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
