package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/store"
	"github.com/ppiankov/reqflow/internal/version"
)

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func dataFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestWriteSSE(t *testing.T) {
	var buf strings.Builder
	err := WriteSSE(&buf, feed(
		Event{Type: EventStart, RunID: "r1", Total: 1},
		Event{Type: EventComplete, RunID: "r1", VersionID: 7, Seq: 2},
	))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(buf.String(), DoneFrame))
	frames := dataFrames(t, buf.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "[DONE]", frames[2])

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, "start", first["type"])
	assert.Equal(t, "r1", first["run_id"])

	var last Event
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &last))
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, int64(7), last.VersionID)
}

func TestWriteSSE_EmptyStreamStillEnds(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteSSE(&buf, feed()))
	assert.Equal(t, DoneFrame, buf.String())
}

type brokenWriter struct{ n int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("broken pipe")
}

func TestWriteSSE_WriteErrorDrains(t *testing.T) {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for i := 0; i < 5; i++ {
			ch <- Event{Type: EventToken, Text: "x"}
		}
	}()

	w := &brokenWriter{}
	err := WriteSSE(w, ch)
	assert.Error(t, err)
	assert.Equal(t, 1, w.n)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	failOn   string
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && strings.HasSuffix(subject, p.failOn) {
		return errors.New("nats: connection closed")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func TestPublish(t *testing.T) {
	pub := &recordingPublisher{}
	err := Publish(context.Background(), feed(
		Event{Type: EventStart, RunID: "abc"},
		Event{Type: EventToken, RunID: "abc"},
		Event{Type: EventComplete, RunID: "abc"},
	), pub, "reqflow.runs.")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"reqflow.runs.abc.start",
		"reqflow.runs.abc.token",
		"reqflow.runs.abc.complete",
	}, pub.subjects)
}

func TestPublish_StopsOnError(t *testing.T) {
	pub := &recordingPublisher{failOn: ".token"}
	err := Publish(context.Background(), feed(
		Event{Type: EventStart, RunID: "abc"},
		Event{Type: EventToken, RunID: "abc"},
		Event{Type: EventComplete, RunID: "abc"},
	), pub, "")
	assert.ErrorContains(t, err, "publish token event")
	assert.Equal(t, []string{"reqflow.runs.abc.start"}, pub.subjects)
}

func TestTee(t *testing.T) {
	a, b := Tee(feed(Event{Type: EventStart}, Event{Type: EventComplete}), 1)

	var wg sync.WaitGroup
	var gotB []EventType
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range b {
			gotB = append(gotB, ev.Type)
		}
	}()

	var gotA []EventType
	for ev := range a {
		gotA = append(gotA, ev.Type)
	}
	wg.Wait()

	assert.Equal(t, []EventType{EventStart, EventComplete}, gotA)
	assert.Equal(t, gotA, gotB)
}

func TestHandler(t *testing.T) {
	proc := &fakeProcessor{replies: map[string]segmentReply{"1": {tokens: []string{"{}"}, items: 1}}}
	mgr := version.NewManager(store.NewMemory())
	orch := NewOrchestrator(plannerFor("doc"), proc, mgr)

	srv := httptest.NewServer(NewHandler(orch, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?document=doc&task=anomalies")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := dataFrames(t, string(body))
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])
	assert.Contains(t, frames[len(frames)-2], `"type":"complete"`)
}

func TestHandler_Errors(t *testing.T) {
	orch := NewOrchestrator(plannerFor("doc"), &fakeProcessor{}, version.NewManager(store.NewMemory()))
	srv := httptest.NewServer(NewHandler(orch, nil))
	defer srv.Close()

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?document=missing", http.StatusNotFound},
		{"?document=doc&task=bogus", http.StatusBadRequest},
		{"?document=doc&task=revise", http.StatusBadRequest},
		{"?document=doc&task=fixes", http.StatusBadRequest},
		{"?document=doc&task=convert", http.StatusBadRequest},
		{"?document=missing&task=testcases", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.query)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

// plannerFor knows a single one-segment document
type plannerFor string

func (p plannerFor) Plan(ctx context.Context, docID string, task model.Task) ([]model.Segment, error) {
	if docID != string(p) {
		return nil, model.ErrNotFound
	}
	return []model.Segment{{Label: "1", Text: "body", Ordinal: 0}}, nil
}
