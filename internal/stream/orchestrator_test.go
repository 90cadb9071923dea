package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/store"
	"github.com/ppiankov/reqflow/internal/version"
)

// ignoreOpenCensus skips the goroutine go.opencensus.io starts at package init,
// pulled in transitively via google.golang.org/genai.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

type fakePlanner struct {
	segs []model.Segment
	err  error
}

func (p fakePlanner) Plan(ctx context.Context, docID string, task model.Task) ([]model.Segment, error) {
	return p.segs, p.err
}

type segmentReply struct {
	tokens []string
	items  int
	failed bool
	err    error
	wait   chan struct{}
}

// fakeProcessor streams canned tokens and items per segment label
type fakeProcessor struct {
	mu      sync.Mutex
	replies map[string]segmentReply
	seen    []string
	ctxErrs []error
}

func (f *fakeProcessor) ProcessStream(ctx context.Context, seg model.Segment, neighbors []model.Segment, task model.Task, onToken func(string)) (model.PartialResult, error) {
	f.mu.Lock()
	r := f.replies[seg.Label]
	f.seen = append(f.seen, seg.Label)
	f.mu.Unlock()

	if r.wait != nil {
		<-r.wait
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	res := model.PartialResult{Label: seg.Label, Ordinal: seg.Ordinal, Items: []model.Item{}, Failed: r.failed}
	if r.err != nil {
		return res, r.err
	}
	for _, tok := range r.tokens {
		onToken(tok)
	}
	for i := 0; i < r.items; i++ {
		res.Items = append(res.Items, model.Item{
			ID:      i + 1,
			Segment: seg.Label,
			Anomaly: &model.Anomaly{Section: seg.Label, Issue: fmt.Sprintf("%s-%d", seg.Label, i+1), Severity: model.SeverityLow},
		})
	}
	return res, nil
}

func threeSegments() []model.Segment {
	return []model.Segment{
		{Label: "1", Text: "one", Ordinal: 0},
		{Label: "2", Text: "two", Ordinal: 1},
		{Label: "3", Text: "three", Ordinal: 2},
	}
}

func setup(t *testing.T, replies map[string]segmentReply) (*Orchestrator, *fakeProcessor, *version.Manager) {
	t.Helper()
	proc := &fakeProcessor{replies: replies}
	mgr := version.NewManager(store.NewMemory())
	orch := NewOrchestrator(fakePlanner{segs: threeSegments()}, proc, mgr, WithBuffer(4))
	return orch, proc, mgr
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRun_EventSequence(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	orch, _, mgr := setup(t, map[string]segmentReply{
		"1": {tokens: []string{`{"anom`, `alies":[]}`}, items: 2},
		"2": {tokens: []string{"x"}, items: 0},
		"3": {tokens: []string{"y"}, items: 1},
	})

	ch, err := orch.Run(context.Background(), "doc", model.TaskAnomalies)
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []EventType{
		EventStart,
		EventSegmentStart, EventToken, EventToken, EventSegmentDone,
		EventSegmentStart, EventToken, EventSegmentDone,
		EventSegmentStart, EventToken, EventSegmentDone,
		EventComplete,
	}, types(events))

	runID := events[0].RunID
	assert.NotEmpty(t, runID)
	for _, ev := range events {
		assert.Equal(t, runID, ev.RunID)
		assert.Equal(t, "doc", ev.DocumentID)
	}
	assert.Equal(t, 3, events[0].Total)

	assert.Equal(t, `{"anom`, events[2].Text)
	done := []Event{events[4], events[7], events[10]}
	assert.Equal(t, []int{2, 0, 1}, []int{done[0].Count, done[1].Count, done[2].Count})
	assert.Equal(t, []int{2, 2, 3}, []int{done[0].Accumulated, done[1].Accumulated, done[2].Accumulated})

	complete := events[len(events)-1]
	require.NotNil(t, complete.Payload)
	assert.Equal(t, 1, complete.Seq)
	assert.Equal(t, 3, complete.Count)
	for i, it := range complete.Payload.Items {
		assert.Equal(t, i+1, it.ID, "ids are renumbered")
	}
	assert.Equal(t, "3", complete.Payload.Items[2].Segment)

	latest, err := mgr.Latest(context.Background(), "doc", nil)
	require.NoError(t, err)
	assert.Equal(t, complete.VersionID, latest.ID)
	assert.Equal(t, model.KindGenerated, latest.Kind)
}

func TestRun_PreRunErrorsAreSynchronous(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	mgr := version.NewManager(store.NewMemory())
	proc := &fakeProcessor{}

	notFound := NewOrchestrator(fakePlanner{err: fmt.Errorf("document x: %w", model.ErrNotFound)}, proc, mgr)
	ch, err := notFound.Run(context.Background(), "x", model.TaskAnomalies)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Nil(t, ch)

	empty := NewOrchestrator(fakePlanner{}, proc, mgr)
	_, err = empty.Run(context.Background(), "x", model.TaskAnomalies)
	assert.ErrorIs(t, err, model.ErrDocumentUnreadable)

	_, err = empty.Run(context.Background(), "x", model.TaskRevise)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	assert.Empty(t, proc.seen)
}

func TestRun_LocalFailureStillCompletes(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	orch, _, _ := setup(t, map[string]segmentReply{
		"1": {items: 1},
		"2": {failed: true},
		"3": {items: 1},
	})

	ch, err := orch.Run(context.Background(), "doc", model.TaskAnomalies)
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, 2, last.Count)

	var failed []string
	for _, ev := range events {
		if ev.Type == EventSegmentDone && ev.Failed {
			failed = append(failed, ev.Label)
		}
	}
	assert.Equal(t, []string{"2"}, failed)
}

func TestRun_SystemicFailureEmitsErrorOnly(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	orch, proc, mgr := setup(t, map[string]segmentReply{
		"1": {items: 3},
		"2": {err: fmt.Errorf("segment 2: %w: quota", model.ErrBackendFailure)},
		"3": {items: 1},
	})

	ch, err := orch.Run(context.Background(), "doc", model.TaskAnomalies)
	require.NoError(t, err)
	events := collect(t, ch)

	var terminal []Event
	for _, ev := range events {
		if ev.Type.Terminal() {
			terminal = append(terminal, ev)
		}
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, EventError, terminal[0].Type)
	assert.Contains(t, terminal[0].Message, "quota")
	assert.Equal(t, EventError, events[len(events)-1].Type)

	assert.Equal(t, []string{"1", "2"}, proc.seen, "no segment starts after a systemic failure")

	history, err := mgr.History(context.Background(), "doc")
	require.NoError(t, err)
	assert.Empty(t, history, "partial results are discarded")
}

func TestRun_CancellationStopsWithoutCommit(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	release := make(chan struct{})
	orch, proc, mgr := setup(t, map[string]segmentReply{
		"1": {items: 1},
		"2": {items: 1, tokens: []string{"late"}, wait: release},
		"3": {items: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := orch.Run(ctx, "doc", model.TaskAnomalies)
	require.NoError(t, err)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
		if ev.Type == EventSegmentStart && ev.Label == "2" {
			cancel()
			close(release)
		}
	}

	for _, ev := range events {
		assert.NotEqual(t, EventComplete, ev.Type)
		assert.NotEqual(t, EventError, ev.Type)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, proc.seen, "no new segment after cancellation")
	require.Len(t, proc.ctxErrs, 2)
	assert.NoError(t, proc.ctxErrs[1], "in-flight call is not cancelled")

	history, err := mgr.History(context.Background(), "doc")
	require.NoError(t, err)
	assert.Empty(t, history)
}

type failingCreator struct{}

func (failingCreator) Create(ctx context.Context, docID string, payload model.Payload, kind model.VersionKind, derivedFrom *int64) (model.Version, error) {
	return model.Version{}, errors.New("disk full")
}

func TestRun_CommitFailureIsTerminalError(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	proc := &fakeProcessor{replies: map[string]segmentReply{}}
	orch := NewOrchestrator(fakePlanner{segs: threeSegments()}, proc, failingCreator{})

	ch, err := orch.Run(context.Background(), "doc", model.TaskTestCases)
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "disk full")
	assert.Equal(t, "testcases", last.Task)
}

func TestEventType_Text(t *testing.T) {
	for et := EventStart; et <= EventError; et++ {
		b, err := et.MarshalText()
		require.NoError(t, err)

		var back EventType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, et, back)
	}

	_, err := EventType(0).MarshalText()
	assert.Error(t, err)
	var bad EventType
	assert.Error(t, bad.UnmarshalText([]byte("progress")))
}
