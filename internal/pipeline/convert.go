package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/reqflow/internal/aggregate"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/segment"
)

// Conversion is the result of turning a business document into a
// functional one
type Conversion struct {
	Document model.Document `json:"document"`
	Version  model.Version  `json:"version"`

	// Failed lists the business sections that produced no requirements
	// because the backend call or the parse failed
	Failed []string `json:"failed,omitempty"`
}

// ConvertBRD derives functional requirements from every segment of a
// business document's current text, registers a new FRD linked to it by
// SourceID, and records the requirements and the rendered FRD body as the
// FRD's first version. instructions replaces the default conversion
// request when not blank.
func (r *Runner) ConvertBRD(ctx context.Context, brdID, instructions string) (Conversion, error) {
	brd, err := r.document(ctx, brdID)
	if err != nil {
		return Conversion{}, err
	}
	if brd.Kind != model.DocBusiness {
		return Conversion{}, fmt.Errorf("convert %s: %w: document is %s, want brd", brdID, model.ErrInvalidState, brd.Kind)
	}

	segs, _, err := r.currentSegments(ctx, brdID)
	if err != nil {
		return Conversion{}, err
	}

	parts := make([]model.PartialResult, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, seg := range segs {
		g.Go(func() error {
			res, err := r.processor.ProcessInput(gctx, chunk.Input{
				Task:      model.TaskConvert,
				Segment:   seg,
				Neighbors: chunk.Neighbors(segs, i, r.neighbors),
				Message:   instructions,
			})
			if err != nil {
				return err
			}
			parts[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Conversion{}, fmt.Errorf("convert %s: %w", brdID, err)
	}

	failed := aggregate.FailedLabels(parts)
	reqs := renumberRequirements(aggregate.Merge(parts))
	if len(reqs) == 0 {
		return Conversion{}, fmt.Errorf("convert %s: %w: no functional requirements produced", brdID, model.ErrBackendFailure)
	}

	frd, err := r.docs.PutDocument(ctx, model.Document{
		Kind:     model.DocFunctional,
		Title:    frdTitle(brd),
		SourceID: brd.ID,
	})
	if err != nil {
		return Conversion{}, fmt.Errorf("convert %s: register frd: %w", brdID, err)
	}

	v, err := r.versions.Create(ctx, frd.ID, model.Payload{Items: reqs, Text: RenderFRD(segs, reqs)}, model.KindGenerated, nil)
	if err != nil {
		return Conversion{}, fmt.Errorf("convert %s: %w", brdID, err)
	}

	if len(failed) > 0 {
		r.logger.Warn("sections not converted", zap.String("document", brdID), zap.Strings("labels", failed))
	}
	r.logger.Info("brd converted",
		zap.String("document", brdID),
		zap.String("frd", frd.ID),
		zap.Int("requirements", len(reqs)))
	return Conversion{Document: frd, Version: v, Failed: failed}, nil
}

// Conversions lists the FRDs converted from a business document, newest
// first
func (r *Runner) Conversions(ctx context.Context, brdID string) ([]model.Document, error) {
	if _, err := r.document(ctx, brdID); err != nil {
		return nil, err
	}
	docs, err := r.docs.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	var out []model.Document
	for _, d := range docs {
		if d.SourceID == brdID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

// AnalyzeConversion runs anomaly analysis on the newest FRD converted from
// a business document
func (r *Runner) AnalyzeConversion(ctx context.Context, brdID string) (model.Version, error) {
	frds, err := r.Conversions(ctx, brdID)
	if err != nil {
		return model.Version{}, err
	}
	if len(frds) == 0 {
		return model.Version{}, fmt.Errorf("analyze conversion %s: %w: document has not been converted", brdID, model.ErrNotFound)
	}
	return r.Analyze(ctx, frds[0].ID)
}

// renumberRequirements gives every requirement a unique FR-NNN reference.
// Backends number each section from FR-001, so dependencies are rewritten
// within the section they came from.
func renumberRequirements(items []model.Item) []model.Item {
	n := 0
	refs := make(map[string]map[string]string) // segment -> old ref -> new ref
	for _, it := range items {
		if it.Requirement == nil {
			continue
		}
		n++
		ref := fmt.Sprintf("FR-%03d", n)
		if old := it.Requirement.Ref; old != "" {
			if refs[it.Segment] == nil {
				refs[it.Segment] = make(map[string]string)
			}
			refs[it.Segment][old] = ref
		}
		it.Requirement.Ref = ref
	}
	for _, it := range items {
		if it.Requirement == nil {
			continue
		}
		for i, dep := range it.Requirement.Dependencies {
			if ref, ok := refs[it.Segment][dep]; ok {
				it.Requirement.Dependencies[i] = ref
			}
		}
	}
	return items
}

// RenderFRD lays requirements out under one numbered heading per business
// section, in section order, so the FRD segments back into those sections
func RenderFRD(segs []model.Segment, reqs []model.Item) string {
	bySegment := make(map[string][]model.Item)
	for _, it := range reqs {
		if it.Requirement != nil {
			bySegment[it.Segment] = append(bySegment[it.Segment], it)
		}
	}

	var b strings.Builder
	n := 0
	for _, seg := range segs {
		items := bySegment[seg.Label]
		if len(items) == 0 {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d %s", n, headingTitle(seg))
		for _, it := range items {
			req := it.Requirement
			fmt.Fprintf(&b, "\n%s: %s", req.Ref, req.Title)
			if req.Description != "" {
				fmt.Fprintf(&b, "\nDescription: %s", req.Description)
			}
			if len(req.AcceptanceCriteria) > 0 {
				b.WriteString("\nAcceptance criteria:")
				for _, c := range req.AcceptanceCriteria {
					fmt.Fprintf(&b, "\n- %s", c)
				}
			}
			if len(req.Dependencies) > 0 {
				fmt.Fprintf(&b, "\nDependencies: %s", strings.Join(req.Dependencies, ", "))
			}
		}
	}
	return b.String()
}

// headingTitle is the segment's heading without its numeral
func headingTitle(seg model.Segment) string {
	heading, ok := segment.Heading(seg.Text)
	if !ok {
		return "Section " + seg.Label
	}
	fields := strings.Fields(heading)
	if len(fields) > 1 && fields[0][0] >= '0' && fields[0][0] <= '9' {
		return strings.Join(fields[1:], " ")
	}
	return heading
}

func frdTitle(brd model.Document) string {
	if brd.Title == "" {
		return "FRD for " + brd.ID
	}
	return brd.Title + " (FRD)"
}
