package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reqflow/internal/aggregate"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/segment"
	"github.com/ppiankov/reqflow/internal/version"
)

const addendumHeader = "ADDENDUM"

// ProposeFixes asks the backend for replacement text for the selected
// anomalies (all when selected is empty) of the newest version holding
// anomalies, and records a fix-proposed version derived from it. Segments
// come from the current text, so earlier rounds of fixes are kept.
func (r *Runner) ProposeFixes(ctx context.Context, docID string, selected []int) (model.Version, error) {
	if _, err := r.document(ctx, docID); err != nil {
		return model.Version{}, err
	}
	base, err := r.versions.Latest(ctx, docID, version.HasItems(model.ItemAnomaly))
	if err != nil {
		return model.Version{}, fmt.Errorf("propose fixes: %w", err)
	}
	anomalies, err := pick(base, model.ItemAnomaly, selected)
	if err != nil {
		return model.Version{}, fmt.Errorf("propose fixes: %w", err)
	}

	segs, err := r.Segments(ctx, docID)
	if err != nil {
		return model.Version{}, err
	}

	groups := make(map[int][]model.Item) // segment index -> anomalies
	var orphans []int
	for _, it := range anomalies {
		i := findSegment(segs, it.Segment, it.Anomaly.Section)
		if i < 0 {
			orphans = append(orphans, it.ID)
			continue
		}
		groups[i] = append(groups[i], it)
	}
	if len(orphans) > 0 {
		r.logger.Warn("anomalies without a matching segment",
			zap.String("document", docID),
			zap.Ints("anomalies", orphans))
	}
	if len(groups) == 0 {
		return model.Version{}, fmt.Errorf("propose fixes: %w: no selected anomaly matches a current segment", model.ErrInvalidState)
	}

	order := make([]int, 0, len(groups))
	for i := range groups {
		order = append(order, i)
	}
	slices.Sort(order)

	parts := make([]model.PartialResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for n, i := range order {
		g.Go(func() error {
			res, err := r.processor.ProcessInput(gctx, chunk.Input{
				Task:      model.TaskFixes,
				Segment:   segs[i],
				Neighbors: chunk.Neighbors(segs, i, r.neighbors),
				Items:     groups[i],
			})
			if err != nil {
				return err
			}
			linkAnomalies(res.Items, groups[i])
			parts[n] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Version{}, fmt.Errorf("propose fixes %s: %w", docID, err)
	}

	fixes := aggregate.Merge(parts)
	if len(fixes) == 0 {
		r.logger.Warn("no fixes proposed", zap.String("document", docID), zap.Strings("failed", aggregate.FailedLabels(parts)))
	}
	return r.versions.Create(ctx, docID, model.Payload{Items: fixes}, model.KindFixProposed, &base.ID)
}

// ApplyFixes rewrites the current text with the selected fixes (all when
// selected is empty) of the newest fix-proposed version and records a
// fix-applied version carrying the new text
func (r *Runner) ApplyFixes(ctx context.Context, docID string, selected []int) (model.Version, error) {
	if _, err := r.document(ctx, docID); err != nil {
		return model.Version{}, err
	}
	proposal, err := r.versions.Latest(ctx, docID, version.KindIs(model.KindFixProposed))
	if err != nil {
		return model.Version{}, fmt.Errorf("apply fixes: %w", err)
	}
	if proposal.Kind != model.KindFixProposed {
		return model.Version{}, fmt.Errorf("apply fixes: %w: no fix proposal (latest is %s)", model.ErrInvalidState, proposal.Kind)
	}
	fixes, err := pick(proposal, model.ItemFix, selected)
	if err != nil {
		return model.Version{}, fmt.Errorf("apply fixes: %w", err)
	}

	segs, err := r.Segments(ctx, docID)
	if err != nil {
		return model.Version{}, err
	}

	text, unmatched := ApplyToSegments(segs, fixes)
	if len(unmatched) > 0 {
		r.logger.Warn("fixes appended as addendum",
			zap.String("document", docID),
			zap.Int("count", len(unmatched)))
	}

	payload := model.Payload{Items: aggregate.Renumber(cloneItems(fixes)), Text: text}
	return r.versions.Create(ctx, docID, payload, model.KindFixApplied, &proposal.ID)
}

// ApplyToSegments replaces the text of each fixed segment with the fix's
// proposed text and joins the segments back into a document. A segment's
// header line is kept when the proposal omits it. Fixes that match no
// segment are appended under an addendum header and returned.
func ApplyToSegments(segs []model.Segment, fixes []model.Item) (string, []model.Item) {
	bodies := make([]string, len(segs))
	for i, s := range segs {
		bodies[i] = s.Text
	}

	var unmatched []model.Item
	for _, it := range fixes {
		proposed := strings.TrimSpace(it.Fix.Proposed)
		if proposed == "" {
			continue
		}
		i := findSegment(segs, it.Segment, it.Fix.Section)
		if i < 0 {
			unmatched = append(unmatched, it)
			continue
		}
		if heading, ok := segment.Heading(segs[i].Text); ok && !strings.HasPrefix(proposed, heading) {
			proposed = heading + "\n" + proposed
		}
		bodies[i] = proposed
	}

	if len(unmatched) > 0 {
		var add strings.Builder
		add.WriteString(addendumHeader)
		for _, it := range unmatched {
			fmt.Fprintf(&add, "\n%s: %s", it.Fix.Section, strings.TrimSpace(it.Fix.Proposed))
		}
		bodies = append(bodies, add.String())
	}
	return strings.Join(bodies, "\n\n"), unmatched
}

// pick returns the items of kind in v, restricted to ids when given
func pick(v model.Version, kind model.ItemKind, ids []int) ([]model.Item, error) {
	var all []model.Item
	for _, it := range v.Payload.Items {
		if it.Kind() == kind {
			all = append(all, it)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: version %d has no %s items", model.ErrInvalidState, v.Seq, kind)
	}
	if len(ids) == 0 {
		return all, nil
	}

	var out []model.Item
	for _, id := range ids {
		i := slices.IndexFunc(all, func(it model.Item) bool { return it.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: version %d has no %s %d", model.ErrNotFound, v.Seq, kind, id)
		}
		out = append(out, all[i])
	}
	return out, nil
}

// findSegment matches by segment label first, then by section name
func findSegment(segs []model.Segment, label, section string) int {
	for _, key := range []string{label, section} {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		for i, s := range segs {
			if s.Label == key {
				return i
			}
		}
	}
	return -1
}

// linkAnomalies fills a missing anomaly id when the group leaves no doubt
func linkAnomalies(fixes, anomalies []model.Item) {
	if len(anomalies) != 1 {
		return
	}
	for i := range fixes {
		if fixes[i].Fix != nil && fixes[i].Fix.AnomalyID == 0 {
			fixes[i].Fix.AnomalyID = anomalies[0].ID
		}
	}
}

func cloneItems(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
