package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/reqflow/internal/model"
)

func fixItem(id int, segment, section, proposed string) model.Item {
	return model.Item{ID: id, Segment: segment, Fix: &model.Fix{Section: section, Proposed: proposed}}
}

func TestApplyToSegments(t *testing.T) {
	segs := []model.Segment{
		{Label: "1", Text: "1 Scope\nOld scope.", Ordinal: 0},
		{Label: "2", Text: "2 Payments\nOld payments.", Ordinal: 1},
		{Label: "PREAMBLE", Text: "plain intro", Ordinal: 2},
	}

	tests := []struct {
		name      string
		fixes     []model.Item
		want      string
		unmatched int
	}{
		{
			name:  "heading kept when omitted",
			fixes: []model.Item{fixItem(1, "2", "2", "New payments.")},
			want:  "1 Scope\nOld scope.\n\n2 Payments\nNew payments.\n\nplain intro",
		},
		{
			name:  "proposal with heading used as is",
			fixes: []model.Item{fixItem(1, "1", "1", "1 Scope\nNew scope.")},
			want:  "1 Scope\nNew scope.\n\n2 Payments\nOld payments.\n\nplain intro",
		},
		{
			name:  "matched by section when label is missing",
			fixes: []model.Item{fixItem(1, "", "PREAMBLE", "better intro")},
			want:  "1 Scope\nOld scope.\n\n2 Payments\nOld payments.\n\nbetter intro",
		},
		{
			name:      "unmatched fixes go to the addendum",
			fixes:     []model.Item{fixItem(1, "", "9.9", "Audit logs are kept for a year."), fixItem(2, "", "Glossary", "Define SSO.")},
			want:      "1 Scope\nOld scope.\n\n2 Payments\nOld payments.\n\nplain intro\n\nADDENDUM\n9.9: Audit logs are kept for a year.\nGlossary: Define SSO.",
			unmatched: 2,
		},
		{
			name:  "blank proposal is ignored",
			fixes: []model.Item{fixItem(1, "1", "1", "   ")},
			want:  "1 Scope\nOld scope.\n\n2 Payments\nOld payments.\n\nplain intro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unmatched := ApplyToSegments(segs, tt.fixes)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ApplyToSegments() mismatch (-want +got):\n%s", diff)
			}
			assert.Len(t, unmatched, tt.unmatched)
		})
	}
}

func TestProposeAndApplyFixes(t *testing.T) {
	be := analysisBackend()
	f := newFixture(t, be, frd)
	ctx := context.Background()

	analysis, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)

	proposal, err := f.runner.ProposeFixes(ctx, f.docID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.KindFixProposed, proposal.Kind)
	require.NotNil(t, proposal.DerivedFrom)
	assert.Equal(t, analysis.ID, *proposal.DerivedFrom)
	require.Len(t, proposal.Payload.Items, 2)
	assert.Equal(t, 1, proposal.Payload.Items[0].Fix.AnomalyID)
	assert.Equal(t, "3", proposal.Payload.Items[1].Segment)
	assert.Equal(t, 2, proposal.Payload.Items[1].ID)
	// Both anomalies of segment 3 travel in one request
	assert.True(t, be.sawPrompt("Chunk 3:", "Vague refund time", "No refund channel"))

	applied, err := f.runner.ApplyFixes(ctx, f.docID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.KindFixApplied, applied.Kind)
	assert.Equal(t, proposal.ID, *applied.DerivedFrom)
	want := "1 Scope\nThe system shall let users log in via SSO.\n\n" +
		"2 Payments\nPayments are processed somehow.\n\n" +
		"3 Refunds\nRefunds are issued within 5 business days."
	assert.Equal(t, want, applied.Payload.Text)
	assert.Equal(t, 2, applied.Payload.Count(model.ItemFix))

	// Test cases now read the fixed text
	tcs, err := f.runner.GenerateTestCases(ctx, f.docID)
	require.NoError(t, err)
	require.NotNil(t, tcs.DerivedFrom)
	assert.Equal(t, applied.ID, *tcs.DerivedFrom)
	assert.True(t, be.sawPrompt("Chunk 3:", "5 business days"))
	assert.Len(t, f.history(t), 4)
}

// twoRoundBackend answers by section content, so the second analysis sees
// whether the first round's fix survived
func twoRoundBackend() *backend {
	return newBackend().
		on(anomalyPrompt, "users log in.", `{"anomalies":[{"section":"1","issue":"Login method unspecified","severity":"high"}]}`).
		on(anomalyPrompt, "log in via SSO", `{"anomalies":[]}`).
		on(anomalyPrompt, "processed somehow", `{"anomalies":[]}`).
		on(anomalyPrompt, "reasonable time", `{"anomalies":[{"section":"3","issue":"Vague refund time","severity":"medium"}]}`).
		on(fixPrompt, "users log in.", `{"fixes":[{"anomaly_id":1,"section":"1","proposed_text":"The system shall let users log in via SSO."}]}`).
		on(fixPrompt, "reasonable time", `{"fixes":[{"section":"3","proposed_text":"Refunds are issued within 5 business days."}]}`)
}

func TestFixRounds_BuildOnPreviousText(t *testing.T) {
	be := twoRoundBackend()
	f := newFixture(t, be, frd)
	ctx := context.Background()

	first, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)
	require.Equal(t, []string{"Login method unspecified", "Vague refund time"}, issues(first))

	_, err = f.runner.ProposeFixes(ctx, f.docID, []int{1})
	require.NoError(t, err)
	round1, err := f.runner.ApplyFixes(ctx, f.docID, nil)
	require.NoError(t, err)
	require.Contains(t, round1.Payload.Text, "log in via SSO")
	require.Contains(t, round1.Payload.Text, "reasonable time")

	second, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vague refund time"}, issues(second), "fixed section is not reported again")
	require.NotNil(t, second.DerivedFrom)
	assert.Equal(t, round1.ID, *second.DerivedFrom)
	assert.Equal(t, "3", second.Payload.Items[0].Segment)

	_, err = f.runner.ProposeFixes(ctx, f.docID, []int{1})
	require.NoError(t, err)
	round2, err := f.runner.ApplyFixes(ctx, f.docID, nil)
	require.NoError(t, err)

	want := "1 Scope\nThe system shall let users log in via SSO.\n\n" +
		"2 Payments\nPayments are processed somehow.\n\n" +
		"3 Refunds\nRefunds are issued within 5 business days."
	assert.Equal(t, want, round2.Payload.Text)

	segs, err := f.runner.Segments(ctx, f.docID)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Contains(t, segs[2].Text, "5 business days")

	kinds := make([]model.VersionKind, 0, 6)
	for _, v := range f.history(t) {
		kinds = append(kinds, v.Kind)
	}
	assert.Equal(t, []model.VersionKind{
		model.KindGenerated, model.KindFixProposed, model.KindFixApplied,
		model.KindGenerated, model.KindFixProposed, model.KindFixApplied,
	}, kinds)
}

func TestProposeFixes_Selection(t *testing.T) {
	be := analysisBackend()
	f := newFixture(t, be, frd)
	ctx := context.Background()

	_, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)

	proposal, err := f.runner.ProposeFixes(ctx, f.docID, []int{1})
	require.NoError(t, err)
	require.Len(t, proposal.Payload.Items, 1)
	assert.Equal(t, "1", proposal.Payload.Items[0].Segment)
	assert.False(t, be.sawPrompt("Selected issues", "Chunk 3:"))

	_, err = f.runner.ProposeFixes(ctx, f.docID, []int{42})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestProposeFixes_NoAnomalies(t *testing.T) {
	f := newFixture(t, analysisBackend(), frd)
	ctx := context.Background()

	_, err := f.runner.ProposeFixes(ctx, f.docID, nil)
	assert.ErrorIs(t, err, model.ErrNotFound, "no versions at all")

	_, err = f.runner.GenerateTestCases(ctx, f.docID)
	require.NoError(t, err)
	_, err = f.runner.ProposeFixes(ctx, f.docID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidState, "only test cases recorded")
	assert.Len(t, f.history(t), 1)
}

func TestApplyFixes_RequiresProposal(t *testing.T) {
	f := newFixture(t, analysisBackend(), frd)
	ctx := context.Background()

	_, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)

	_, err = f.runner.ApplyFixes(ctx, f.docID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Len(t, f.history(t), 1)
}

func TestRenderMarkdown(t *testing.T) {
	f := newFixture(t, analysisBackend(), frd)
	ctx := context.Background()

	_, err := f.runner.Analyze(ctx, f.docID)
	require.NoError(t, err)
	_, err = f.runner.ProposeFixes(ctx, f.docID, nil)
	require.NoError(t, err)
	applied, err := f.runner.ApplyFixes(ctx, f.docID, nil)
	require.NoError(t, err)

	doc, err := f.mem.Document(ctx, f.docID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, doc, applied))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# frd (frd)\n"), out)
	assert.Contains(t, out, "Version 3 · fix-applied")
	assert.Contains(t, out, "## Fixes (2)")
	assert.Contains(t, out, "   > Refunds are issued within 5 business days.")
	assert.Contains(t, out, "## Revised text")

	buf.Reset()
	RenderSummary(&buf, applied)
	assert.Contains(t, buf.String(), "(seq 3, fix-applied): 2 items")
}
