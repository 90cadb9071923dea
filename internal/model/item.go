package model

import (
	"fmt"
	"strings"
)

// ItemKind is the variant tag of an Item
type ItemKind int

const (
	ItemUnknown ItemKind = iota
	ItemAnomaly
	ItemTestCase
	ItemFix
	ItemRequirement
)

func (k ItemKind) String() string {
	switch k {
	case ItemAnomaly:
		return "anomaly"
	case ItemTestCase:
		return "testcase"
	case ItemFix:
		return "fix"
	case ItemRequirement:
		return "requirement"
	default:
		return "unknown"
	}
}

// Item is one structured unit inside a version payload.
// Exactly one variant pointer is set.
type Item struct {
	ID          int          `json:"id"`
	Segment     string       `json:"segment,omitempty"` // Label of the segment that produced the item
	Anomaly     *Anomaly     `json:"anomaly,omitempty"`
	TestCase    *TestCase    `json:"testcase,omitempty"`
	Fix         *Fix         `json:"fix,omitempty"`
	Requirement *Requirement `json:"requirement,omitempty"`
}

// Kind reports which variant the item carries
func (it Item) Kind() ItemKind {
	switch {
	case it.Anomaly != nil:
		return ItemAnomaly
	case it.TestCase != nil:
		return ItemTestCase
	case it.Fix != nil:
		return ItemFix
	case it.Requirement != nil:
		return ItemRequirement
	default:
		return ItemUnknown
	}
}

// Clone returns a deep copy of the item
func (it Item) Clone() Item {
	out := Item{ID: it.ID, Segment: it.Segment}
	switch it.Kind() {
	case ItemAnomaly:
		a := *it.Anomaly
		out.Anomaly = &a
	case ItemTestCase:
		tc := *it.TestCase
		tc.Preconditions = append([]string(nil), it.TestCase.Preconditions...)
		tc.Steps = append([]string(nil), it.TestCase.Steps...)
		out.TestCase = &tc
	case ItemFix:
		f := *it.Fix
		out.Fix = &f
	case ItemRequirement:
		r := *it.Requirement
		r.AcceptanceCriteria = append([]string(nil), it.Requirement.AcceptanceCriteria...)
		r.Dependencies = append([]string(nil), it.Requirement.Dependencies...)
		out.Requirement = &r
	case ItemUnknown:
	}
	return out
}

// Summary is a one-line rendering used by the CLI and logs
func (it Item) Summary() string {
	switch it.Kind() {
	case ItemAnomaly:
		return fmt.Sprintf("[%s] %s: %s", it.Anomaly.Severity, it.Anomaly.Section, it.Anomaly.Issue)
	case ItemTestCase:
		return fmt.Sprintf("[%s] %s %s", it.TestCase.Priority, it.TestCase.Ref, it.TestCase.Title)
	case ItemFix:
		return fmt.Sprintf("fix for #%d (%s)", it.Fix.AnomalyID, it.Fix.Section)
	case ItemRequirement:
		return fmt.Sprintf("%s %s", it.Requirement.Ref, it.Requirement.Title)
	default:
		return "(empty item)"
	}
}

// Anomaly is an issue detected in a requirement segment
type Anomaly struct {
	Section    string   `json:"section"`
	Issue      string   `json:"issue"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion"`
}

// Severity of an anomaly: low, medium or high
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// NormalizeSeverity maps free-form model output onto the three levels
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "major", "severe":
		return SeverityHigh
	case "low", "minor", "trivial", "info":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// TestCase is a synthesized test case
type TestCase struct {
	Ref           string   `json:"ref"` // Model-supplied reference such as TC-001
	Title         string   `json:"title"`
	Preconditions []string `json:"preconditions,omitempty"`
	Steps         []string `json:"steps,omitempty"`
	Expected      string   `json:"expected"`
	Priority      Priority `json:"priority"`
}

// Priority of a test case: P0, P1 or P2
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// NormalizePriority maps free-form model output onto P0..P2
func NormalizePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P0", "CRITICAL", "HIGH":
		return PriorityP0
	case "P2", "LOW":
		return PriorityP2
	default:
		return PriorityP1
	}
}

// Fix is a proposed replacement for the text of one section
type Fix struct {
	AnomalyID int    `json:"anomaly_id"`
	Section   string `json:"section"`
	Proposed  string `json:"proposed"`
	Rationale string `json:"rationale,omitempty"`
}

// Requirement is a functional requirement derived from a business section
type Requirement struct {
	Ref                string   `json:"ref"` // Model-supplied reference such as FR-001
	Section            string   `json:"section"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// Payload is the merged content stored in a Version
type Payload struct {
	Items []Item `json:"items"`

	// Text is a rewritten document body; set on fix-applied versions and
	// on the first version of a converted document
	Text string `json:"text,omitempty"`
}

// Clone returns a deep copy so stored payloads cannot be mutated through aliases
func (p Payload) Clone() Payload {
	out := Payload{Text: p.Text}
	if p.Items != nil {
		out.Items = make([]Item, len(p.Items))
		for i, it := range p.Items {
			out.Items[i] = it.Clone()
		}
	}
	return out
}

// Count returns the number of items of the given kind
func (p Payload) Count(kind ItemKind) int {
	n := 0
	for _, it := range p.Items {
		if it.Kind() == kind {
			n++
		}
	}
	return n
}
