package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "reqflow.runs"

// Publisher is the subset of *nats.Conn used to forward events
type Publisher interface {
	Publish(subject string, data []byte) error
}

type flusher interface {
	FlushTimeout(timeout time.Duration) error
}

// Connect dials NATS for event publication
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("reqflow"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns <prefix>.<runID>.<type>
func Subject(prefix, runID string, t EventType) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + runID + "." + t.String()
}

// Publish forwards every event to its subject until the channel closes.
// Publishing stops at the first error or when ctx is done; the channel is
// drained either way.
func Publish(ctx context.Context, events <-chan Event, pub Publisher, prefix string) error {
	var pubErr error
	for ev := range events {
		if pubErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			pubErr = err
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			pubErr = fmt.Errorf("encode %s event: %w", ev.Type, err)
			continue
		}
		if err := pub.Publish(Subject(prefix, ev.RunID, ev.Type), data); err != nil {
			pubErr = fmt.Errorf("publish %s event: %w", ev.Type, err)
		}
	}
	if pubErr != nil {
		return pubErr
	}
	if f, ok := pub.(flusher); ok {
		if err := f.FlushTimeout(5 * time.Second); err != nil {
			return fmt.Errorf("flush NATS: %w", err)
		}
	}
	return nil
}

// Tee copies every event of in onto two channels. Both must be drained.
func Tee(in <-chan Event, buffer int) (<-chan Event, <-chan Event) {
	a := make(chan Event, buffer)
	b := make(chan Event, buffer)
	go func() {
		defer close(a)
		defer close(b)
		for ev := range in {
			a <- ev
			b <- ev
		}
	}()
	return a, b
}
