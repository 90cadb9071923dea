// Package pipeline runs requirement-document tasks end to end: resolve
// text, segment, map over segments, reduce, and record a version
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/aggregate"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/segment"
	"github.com/ppiankov/reqflow/internal/version"
)

// Documents is the document registry. Conversion registers new documents.
type Documents interface {
	Document(ctx context.Context, id string) (model.Document, error)
	Documents(ctx context.Context) ([]model.Document, error)
	PutDocument(ctx context.Context, doc model.Document) (model.Document, error)
}

// TextSource extracts a document's text
type TextSource interface {
	Text(ctx context.Context, doc model.Document) (string, error)
}

// Processor is the per-segment Map stage
type Processor interface {
	ProcessAll(ctx context.Context, segs []model.Segment, task model.Task) ([]model.PartialResult, error)
	ProcessInput(ctx context.Context, in chunk.Input) (model.PartialResult, error)
}

// Runner executes tasks against documents and records the results as
// versions
type Runner struct {
	docs      Documents
	source    TextSource
	splitter  segment.Splitter
	processor Processor
	versions  *version.Manager

	neighbors   int
	concurrency int
	logger      *zap.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithNeighbors sets how many related segments accompany a fix request
func WithNeighbors(n int) Option { return func(r *Runner) { r.neighbors = n } }

// WithConcurrency bounds parallel fix requests
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(docs Documents, source TextSource, splitter segment.Splitter, processor Processor, versions *version.Manager, opts ...Option) *Runner {
	r := &Runner{
		docs:        docs,
		source:      source,
		splitter:    splitter,
		processor:   processor,
		versions:    versions,
		neighbors:   1,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Versions exposes the version manager for read operations
func (r *Runner) Versions() *version.Manager { return r.versions }

// Segments segments the document's current text: the newest stored text
// (applied fixes, or the body of a converted document), else the source
func (r *Runner) Segments(ctx context.Context, docID string) ([]model.Segment, error) {
	segs, _, err := r.currentSegments(ctx, docID)
	return segs, err
}

// Plan resolves the segments a task runs over. Anomaly analysis and test
// case generation both read the current text, so fixes applied earlier are
// never analyzed again. The returned error is ErrNotFound for an unknown
// document and ErrDocumentUnreadable when no text can be produced.
func (r *Runner) Plan(ctx context.Context, docID string, task model.Task) ([]model.Segment, error) {
	switch task {
	case model.TaskAnomalies, model.TaskTestCases:
		return r.Segments(ctx, docID)
	default:
		return nil, fmt.Errorf("plan %s: %w: task needs a base version", task, model.ErrInvalidState)
	}
}

// Analyze extracts anomalies from every segment of the current text and
// records a generated version, derived from the version whose text was used
func (r *Runner) Analyze(ctx context.Context, docID string) (model.Version, error) {
	return r.generate(ctx, docID, model.TaskAnomalies)
}

// GenerateTestCases synthesizes test cases from the current text and
// records a generated version, derived from the version whose text was used
func (r *Runner) GenerateTestCases(ctx context.Context, docID string) (model.Version, error) {
	return r.generate(ctx, docID, model.TaskTestCases)
}

func (r *Runner) generate(ctx context.Context, docID string, task model.Task) (model.Version, error) {
	segs, base, err := r.currentSegments(ctx, docID)
	if err != nil {
		return model.Version{}, err
	}
	var derivedFrom *int64
	if base != nil {
		derivedFrom = &base.ID
	}
	return r.mapReduce(ctx, docID, segs, task, derivedFrom)
}

// Revert copies an earlier version forward
func (r *Runner) Revert(ctx context.Context, docID string, versionID int64) (model.Version, error) {
	if _, err := r.docs.Document(ctx, docID); err != nil {
		return model.Version{}, err
	}
	return r.versions.Revert(ctx, docID, versionID)
}

// Run executes a task with default arguments. It satisfies worker.Runner.
func (r *Runner) Run(ctx context.Context, docID string, task model.Task) (model.Version, error) {
	switch task {
	case model.TaskAnomalies:
		return r.Analyze(ctx, docID)
	case model.TaskTestCases:
		return r.GenerateTestCases(ctx, docID)
	case model.TaskFixes:
		return r.ProposeFixes(ctx, docID, nil)
	case model.TaskConvert:
		conv, err := r.ConvertBRD(ctx, docID, "")
		return conv.Version, err
	default:
		return model.Version{}, fmt.Errorf("run %s: %w: task needs arguments", task, model.ErrInvalidState)
	}
}

func (r *Runner) mapReduce(ctx context.Context, docID string, segs []model.Segment, task model.Task, derivedFrom *int64) (model.Version, error) {
	start := time.Now()
	parts, err := r.processor.ProcessAll(ctx, segs, task)
	if err != nil {
		return model.Version{}, fmt.Errorf("%s %s: %w", task, docID, err)
	}

	stats := aggregate.Summarize(parts)
	if stats.Failed > 0 {
		r.logger.Warn("segments failed",
			zap.String("document", docID),
			zap.Stringer("task", task),
			zap.Strings("labels", aggregate.FailedLabels(parts)))
	}

	v, err := r.versions.Create(ctx, docID, model.Payload{Items: aggregate.Merge(parts)}, model.KindGenerated, derivedFrom)
	if err != nil {
		return model.Version{}, err
	}
	r.logger.Info("task complete",
		zap.String("document", docID),
		zap.Stringer("task", task),
		zap.Int("segments", stats.Segments),
		zap.Int("failed", stats.Failed),
		zap.Int("items", stats.Items),
		zap.Duration("took", time.Since(start)))
	return v, nil
}

func (r *Runner) document(ctx context.Context, docID string) (model.Document, error) {
	doc, err := r.docs.Document(ctx, docID)
	if err != nil {
		return model.Document{}, fmt.Errorf("document %s: %w", docID, err)
	}
	return doc, nil
}

func (r *Runner) sourceText(ctx context.Context, docID string) (string, error) {
	doc, err := r.document(ctx, docID)
	if err != nil {
		return "", err
	}
	return r.source.Text(ctx, doc)
}

// currentText returns the newest version text, or the source text when no
// version carries one. base is the version the text came from.
func (r *Runner) currentText(ctx context.Context, docID string) (string, *model.Version, error) {
	if _, err := r.document(ctx, docID); err != nil {
		return "", nil, err
	}

	v, err := r.versions.Latest(ctx, docID, version.HasText())
	switch {
	case err == nil && strings.TrimSpace(v.Payload.Text) != "":
		r.logger.Debug("using stored text",
			zap.String("document", docID),
			zap.Int64("version", v.ID),
			zap.Stringer("kind", v.Kind))
		return v.Payload.Text, &v, nil
	case err != nil && !errors.Is(err, model.ErrNotFound):
		return "", nil, err
	}

	text, err := r.sourceText(ctx, docID)
	return text, nil, err
}

func (r *Runner) currentSegments(ctx context.Context, docID string) ([]model.Segment, *model.Version, error) {
	text, base, err := r.currentText(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	segs, err := r.split(docID, text)
	return segs, base, err
}

func (r *Runner) split(docID, text string) ([]model.Segment, error) {
	segs := r.splitter.Split(text)
	if len(segs) == 0 {
		return nil, fmt.Errorf("document %s: %w: no text to segment", docID, model.ErrDocumentUnreadable)
	}
	return segs, nil
}
