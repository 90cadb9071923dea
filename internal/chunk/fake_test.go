package chunk

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/reqflow/internal/llm"
)

// fakeReply is what fakeProvider returns for a prompt containing a marker
type fakeReply struct {
	text  string
	err   error
	delay time.Duration
}

// fakeProvider answers by looking for a marker string in the user message
type fakeProvider struct {
	mu       sync.Mutex
	replies  map[string]fakeReply
	fallback fakeReply
	requests []llm.Request

	calls    int32
	inFlight int32
	maxSeen  int32
}

func newFakeProvider(fallback string) *fakeProvider {
	return &fakeProvider{replies: map[string]fakeReply{}, fallback: fakeReply{text: fallback}}
}

func (f *fakeProvider) on(marker string, r fakeReply) *fakeProvider {
	f.replies[marker] = r
	return f
}

func (f *fakeProvider) Name() string                         { return "fake" }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeProvider) reply(ctx context.Context, req llm.Request) (fakeReply, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	r := f.fallback
	user := req.Messages[len(req.Messages)-1].Content
	for marker, candidate := range f.replies {
		if strings.Contains(user, marker) {
			r = candidate
			break
		}
	}
	f.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}
	return r, r.err
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r, err := f.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: r.text}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	r, err := f.reply(ctx, req)
	if err != nil {
		return nil, err
	}
	// Split into small deltas to exercise accumulation
	var deltas []string
	for s := r.text; len(s) > 0; {
		n := 7
		if n > len(s) {
			n = len(s)
		}
		deltas = append(deltas, s[:n])
		s = s[n:]
	}
	return &sliceStream{deltas: deltas}, nil
}

type sliceStream struct {
	deltas []string
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }
