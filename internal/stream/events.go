package stream

import (
	"fmt"
	"time"

	"github.com/ppiankov/reqflow/internal/model"
)

// EventType tags a stream event
type EventType int

const (
	EventStart EventType = iota + 1
	EventSegmentStart
	EventToken
	EventSegmentDone
	EventComplete
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventSegmentStart:
		return "segment_start"
	case EventToken:
		return "token"
	case EventSegmentDone:
		return "segment_done"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends a run
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

func (t EventType) MarshalText() ([]byte, error) {
	if t < EventStart || t > EventError {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	for c := EventStart; c <= EventError; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(b))
}

// Event is one notification of a run. Which fields are set depends on Type.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Time  time.Time `json:"time"`

	DocumentID string `json:"document_id,omitempty"`
	Task       string `json:"task,omitempty"`

	Total int    `json:"total,omitempty"` // start: number of segments
	Index int    `json:"index"`           // segment ordinal
	Label string `json:"label,omitempty"`
	Text  string `json:"text,omitempty"` // token delta

	Count       int  `json:"count,omitempty"`       // segment_done: items parsed from the segment
	Accumulated int  `json:"accumulated,omitempty"` // segment_done: items so far
	Failed      bool `json:"failed,omitempty"`      // segment_done: local failure

	VersionID int64          `json:"version_id,omitempty"`
	Seq       int            `json:"seq,omitempty"`
	Payload   *model.Payload `json:"payload,omitempty"` // complete

	Message string `json:"message,omitempty"` // error
}
