package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/aggregate"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/version"
)

// ErrNoRevision means the backend answered but produced nothing usable
var ErrNoRevision = errors.New("backend returned no usable revision")

// Revision is the outcome of Revise: a preview, plus the version when
// committed
type Revision struct {
	Preview version.Preview `json:"preview"`
	Version *model.Version  `json:"version,omitempty"`
}

// Revise applies a free-text change request to the items of the latest
// version. Without commit nothing is recorded and only the preview is
// returned. With commit a revised version derived from the base is
// created.
func (r *Runner) Revise(ctx context.Context, docID, message string, commit bool) (Revision, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Revision{}, fmt.Errorf("revise: %w: empty request", model.ErrInvalidState)
	}
	if _, err := r.document(ctx, docID); err != nil {
		return Revision{}, err
	}

	base, err := r.versions.Latest(ctx, docID, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("revise: %w", err)
	}

	res, err := r.processor.ProcessInput(ctx, chunk.Input{
		Task:    model.TaskRevise,
		Items:   base.Payload.Items,
		Message: message,
	})
	if err != nil {
		return Revision{}, fmt.Errorf("revise %s: %w", docID, err)
	}
	if res.Failed {
		return Revision{}, fmt.Errorf("revise %s: %w", docID, ErrNoRevision)
	}

	candidate := model.Payload{
		Items: aggregate.Renumber(restoreSegments(res.Items, base.Payload.Items)),
		Text:  base.Payload.Text,
	}

	preview, err := r.versions.Preview(ctx, docID, candidate)
	if err != nil {
		return Revision{}, err
	}
	out := Revision{Preview: preview}
	if !commit {
		r.logger.Info("revision previewed",
			zap.String("document", docID),
			zap.Int("added", len(preview.Diff.Added)),
			zap.Int("removed", len(preview.Diff.Removed)),
			zap.Int("changed", len(preview.Diff.Changed)))
		return out, nil
	}

	v, err := r.versions.Create(ctx, docID, candidate, model.KindRevised, &base.ID)
	if err != nil {
		return Revision{}, err
	}
	out.Version = &v
	return out, nil
}

// restoreSegments carries segment labels over from the base items with the
// same id, since the backend never sees them
func restoreSegments(revised, base []model.Item) []model.Item {
	labels := make(map[int]string, len(base))
	for _, it := range base {
		labels[it.ID] = it.Segment
	}
	out := make([]model.Item, len(revised))
	for i, it := range revised {
		if it.Segment == "" {
			it.Segment = labels[it.ID]
		}
		out[i] = it
	}
	return out
}
