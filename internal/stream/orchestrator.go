package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/aggregate"
	"github.com/ppiankov/reqflow/internal/chunk"
	"github.com/ppiankov/reqflow/internal/metrics"
	"github.com/ppiankov/reqflow/internal/model"
)

const DefaultBuffer = 64

// Planner resolves a document to the ordered segments a task runs over.
// Its errors are returned before any event is emitted.
type Planner interface {
	Plan(ctx context.Context, docID string, task model.Task) ([]model.Segment, error)
}

// SegmentProcessor streams one segment through the backend
type SegmentProcessor interface {
	ProcessStream(ctx context.Context, seg model.Segment, neighbors []model.Segment, task model.Task, onToken func(string)) (model.PartialResult, error)
}

// VersionCreator records the merged result
type VersionCreator interface {
	Create(ctx context.Context, docID string, payload model.Payload, kind model.VersionKind, derivedFrom *int64) (model.Version, error)
}

// Orchestrator runs a task over one document and reports progress as a
// channel of events
type Orchestrator struct {
	planner   Planner
	processor SegmentProcessor
	versions  VersionCreator

	neighbors int
	buffer    int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBuffer sets the event channel capacity
func WithBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithNeighbors sets how many related segments on each side are sent as context
func WithNeighbors(n int) Option { return func(o *Orchestrator) { o.neighbors = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewOrchestrator(planner Planner, processor SegmentProcessor, versions VersionCreator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:   planner,
		processor: processor,
		versions:  versions,
		neighbors: 1,
		buffer:    DefaultBuffer,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Streamable reports whether task runs segment by segment. Fixes and
// revisions work from a recorded version, and conversion registers a new
// document, so neither streams.
func Streamable(task model.Task) bool {
	return task == model.TaskAnomalies || task == model.TaskTestCases
}

// Run plans the document and starts the run. Planning errors (unknown
// document, unreadable or empty text) are returned directly and no
// channel is opened. Otherwise the channel yields start, per-segment
// events and exactly one complete or error event, then closes. If ctx is
// cancelled the channel closes without a terminal event and nothing is
// persisted.
func (o *Orchestrator) Run(ctx context.Context, docID string, task model.Task) (<-chan Event, error) {
	if !Streamable(task) {
		return nil, fmt.Errorf("stream %s: %w: task cannot be streamed", task, model.ErrInvalidState)
	}

	segs, err := o.planner.Plan(ctx, docID, task)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("stream %s: %w: no segments", docID, model.ErrDocumentUnreadable)
	}

	r := &run{
		Orchestrator: o,
		id:           uuid.NewString(),
		docID:        docID,
		task:         task,
		segs:         segs,
		events:       make(chan Event, o.buffer),
	}
	go r.execute(ctx)
	return r.events, nil
}

type run struct {
	*Orchestrator
	id     string
	docID  string
	task   model.Task
	segs   []model.Segment
	events chan Event
}

func (r *run) execute(ctx context.Context) {
	defer close(r.events)

	log := r.logger.With(zap.String("run", r.id), zap.String("document", r.docID), zap.Stringer("task", r.task))
	log.Info("stream started", zap.Int("segments", len(r.segs)))

	if !r.emit(ctx, Event{Type: EventStart, Total: len(r.segs)}) {
		return
	}

	// Backend calls outlive consumer cancellation; their results are dropped
	callCtx := context.WithoutCancel(ctx)

	parts := make([]model.PartialResult, 0, len(r.segs))
	accumulated := 0
	for i, seg := range r.segs {
		if ctx.Err() != nil {
			log.Info("stream cancelled", zap.Int("completed", i))
			return
		}
		if !r.emit(ctx, Event{Type: EventSegmentStart, Index: seg.Ordinal, Label: seg.Label}) {
			return
		}

		res, err := r.processor.ProcessStream(callCtx, seg, chunk.Neighbors(r.segs, i, r.neighbors), r.task, func(delta string) {
			r.emit(ctx, Event{Type: EventToken, Index: seg.Ordinal, Label: seg.Label, Text: delta})
		})
		if err != nil {
			log.Error("stream aborted", zap.String("segment", seg.Label), zap.Error(err))
			r.fail(ctx, err)
			return
		}

		parts = append(parts, res)
		accumulated += len(res.Items)
		if !r.emit(ctx, Event{
			Type:        EventSegmentDone,
			Index:       seg.Ordinal,
			Label:       seg.Label,
			Count:       len(res.Items),
			Accumulated: accumulated,
			Failed:      res.Failed,
		}) {
			return
		}
	}

	if ctx.Err() != nil {
		log.Info("stream cancelled before commit")
		return
	}

	payload := model.Payload{Items: aggregate.Merge(parts)}
	v, err := r.versions.Create(callCtx, r.docID, payload, model.KindGenerated, nil)
	if err != nil {
		log.Error("stream commit failed", zap.Error(err))
		r.fail(ctx, err)
		return
	}

	stats := aggregate.Summarize(parts)
	log.Info("stream complete",
		zap.Int64("version", v.ID),
		zap.Int("seq", v.Seq),
		zap.Int("items", stats.Items),
		zap.Int("failed_segments", stats.Failed))
	r.emit(ctx, Event{Type: EventComplete, VersionID: v.ID, Seq: v.Seq, Count: stats.Items, Payload: &v.Payload})
}

func (r *run) fail(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	r.emit(ctx, Event{Type: EventError, Message: err.Error()})
}

// emit stamps and sends ev. It gives up when the consumer has cancelled.
func (r *run) emit(ctx context.Context, ev Event) bool {
	ev.RunID = r.id
	ev.DocumentID = r.docID
	ev.Task = r.task.String()
	ev.Time = r.now().UTC()

	select {
	case r.events <- ev:
		r.metrics.StreamEvent(ev.Type.String())
		return true
	case <-ctx.Done():
		return false
	}
}
