package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/model"
)

// DoneFrame is the last SSE frame of every stream
const DoneFrame = "data: [DONE]\n\n"

// WriteSSE drains events as server-sent events, one data frame per event,
// and finishes with the [DONE] frame. It flushes after every frame when w
// supports it. On a write error the rest of the channel is drained so the
// producer can finish.
func WriteSSE(w io.Writer, events <-chan Event) error {
	flusher, _ := w.(http.Flusher)
	for ev := range events {
		if err := writeFrame(w, ev); err != nil {
			for range events {
			}
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if _, err := io.WriteString(w, DoneFrame); err != nil {
		return fmt.Errorf("write sse: %w", err)
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func writeFrame(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse: %w", err)
	}
	return nil
}

// Handler serves GET ?document=<id>&task=<task> as an SSE stream
type Handler struct {
	orch   *Orchestrator
	logger *zap.Logger
}

func NewHandler(orch *Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("document")
	if docID == "" {
		http.Error(w, "missing document", http.StatusBadRequest)
		return
	}
	task := model.TaskAnomalies
	if t := r.URL.Query().Get("task"); t != "" {
		parsed, err := model.ParseTask(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		task = parsed
	}
	if !Streamable(task) {
		http.Error(w, fmt.Sprintf("task %s cannot be streamed (want anomalies or testcases)", task), http.StatusBadRequest)
		return
	}

	events, err := h.orch.Run(r.Context(), docID, task)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := WriteSSE(w, events); err != nil {
		h.logger.Debug("client disconnected", zap.String("document", docID), zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, model.ErrDocumentUnreadable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
