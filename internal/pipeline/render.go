package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/version"
)

// RenderJSON writes v as indented JSON
func RenderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("render JSON: %w", err)
	}
	return nil
}

// RenderMarkdown writes a version as a Markdown report
func RenderMarkdown(w io.Writer, doc model.Document, v model.Version) error {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = doc.ID
	}
	fmt.Fprintf(&b, "# %s (%s)\n\n", title, doc.Kind)
	fmt.Fprintf(&b, "Version %d · %s · %s", v.Seq, v.Kind, v.CreatedAt.Format("2006-01-02 15:04 MST"))
	if v.DerivedFrom != nil {
		fmt.Fprintf(&b, " · derived from #%d", *v.DerivedFrom)
	}
	b.WriteString("\n\n")

	for _, kind := range []model.ItemKind{model.ItemAnomaly, model.ItemTestCase, model.ItemFix, model.ItemRequirement} {
		if n := v.Payload.Count(kind); n > 0 {
			fmt.Fprintf(&b, "## %s (%d)\n\n", sectionTitle(kind), n)
			for _, it := range v.Payload.Items {
				if it.Kind() == kind {
					renderItem(&b, it)
				}
			}
		}
	}
	if len(v.Payload.Items) == 0 {
		b.WriteString("_No items._\n\n")
	}

	if v.Payload.Text != "" {
		b.WriteString("## Revised text\n\n```\n")
		b.WriteString(v.Payload.Text)
		b.WriteString("\n```\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func sectionTitle(kind model.ItemKind) string {
	switch kind {
	case model.ItemAnomaly:
		return "Anomalies"
	case model.ItemTestCase:
		return "Test cases"
	case model.ItemFix:
		return "Fixes"
	case model.ItemRequirement:
		return "Functional requirements"
	default:
		return "Items"
	}
}

func renderItem(b *strings.Builder, it model.Item) {
	switch it.Kind() {
	case model.ItemAnomaly:
		a := it.Anomaly
		fmt.Fprintf(b, "%d. **[%s] %s**: %s\n", it.ID, a.Severity, a.Section, a.Issue)
		if a.Suggestion != "" {
			fmt.Fprintf(b, "   - Suggestion: %s\n", a.Suggestion)
		}
	case model.ItemTestCase:
		tc := it.TestCase
		fmt.Fprintf(b, "%d. **%s** %s (%s)\n", it.ID, tc.Ref, tc.Title, tc.Priority)
		for _, p := range tc.Preconditions {
			fmt.Fprintf(b, "   - Given: %s\n", p)
		}
		for i, s := range tc.Steps {
			fmt.Fprintf(b, "   - Step %d: %s\n", i+1, s)
		}
		if tc.Expected != "" {
			fmt.Fprintf(b, "   - Expected: %s\n", tc.Expected)
		}
	case model.ItemFix:
		f := it.Fix
		fmt.Fprintf(b, "%d. **%s** (anomaly %d)\n", it.ID, f.Section, f.AnomalyID)
		if f.Rationale != "" {
			fmt.Fprintf(b, "   - Rationale: %s\n", f.Rationale)
		}
		for _, line := range strings.Split(strings.TrimSpace(f.Proposed), "\n") {
			fmt.Fprintf(b, "   > %s\n", line)
		}
	case model.ItemRequirement:
		r := it.Requirement
		fmt.Fprintf(b, "%d. **%s** %s (section %s)\n", it.ID, r.Ref, r.Title, r.Section)
		if r.Description != "" {
			fmt.Fprintf(b, "   - %s\n", r.Description)
		}
		for _, c := range r.AcceptanceCriteria {
			fmt.Fprintf(b, "   - Accept: %s\n", c)
		}
		if len(r.Dependencies) > 0 {
			fmt.Fprintf(b, "   - Depends on: %s\n", strings.Join(r.Dependencies, ", "))
		}
	case model.ItemUnknown:
	}
	b.WriteString("\n")
}

// RenderSummary writes one line per item
func RenderSummary(w io.Writer, v model.Version) {
	fmt.Fprintf(w, "version %d (seq %d, %s): %d items\n", v.ID, v.Seq, v.Kind, len(v.Payload.Items))
	for _, it := range v.Payload.Items {
		fmt.Fprintf(w, "  %3d  %s\n", it.ID, it.Summary())
	}
}

// RenderDiff writes a preview's diff in a compact +/-/~ form
func RenderDiff(w io.Writer, p version.Preview) {
	base := "none"
	if p.Base != nil {
		base = fmt.Sprintf("seq %d", p.Base.Seq)
	}
	fmt.Fprintf(w, "preview against %s -> seq %d: +%d -%d ~%d =%d\n",
		base, p.NextSeq, len(p.Diff.Added), len(p.Diff.Removed), len(p.Diff.Changed), p.Diff.Unchanged)
	for _, it := range p.Diff.Added {
		fmt.Fprintf(w, "  + %s\n", it.Summary())
	}
	for _, it := range p.Diff.Removed {
		fmt.Fprintf(w, "  - %s\n", it.Summary())
	}
	for _, c := range p.Diff.Changed {
		fmt.Fprintf(w, "  ~ %s\n    -> %s\n", c.Before.Summary(), c.After.Summary())
	}
	if p.Diff.TextChanged {
		fmt.Fprintln(w, "  text changed")
	}
}
