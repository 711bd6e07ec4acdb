package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/foreman/internal/event"
)

// streamBuffer is how many events a slow client may fall behind before
// events are dropped for it.
const streamBuffer = 256

// StreamEvent is the data payload of one server-sent event.
type StreamEvent struct {
	Type       string    `json:"type"`
	PipelineID string    `json:"pipeline_id,omitempty"`
	At         time.Time `json:"timestamp"`
	StageIndex int       `json:"stage_index"`
	Detail     string    `json:"detail,omitempty"`
}

func toStreamEvent(e event.Event) StreamEvent {
	se := StreamEvent{Type: e.EventType(), At: e.Timestamp()}
	switch ev := e.(type) {
	case event.PipelineEvent:
		se.PipelineID = ev.PipelineID
		se.StageIndex = ev.StageIndex
		se.Detail = ev.Detail
	case event.StageStalledEvent:
		se.PipelineID = ev.PipelineID
		se.StageIndex = ev.StageIndex
		se.Detail = "in flight since " + ev.Since.Format(time.RFC3339)
	default:
		if scoped, ok := e.(event.PipelineScoped); ok {
			se.PipelineID = scoped.Pipeline()
		}
	}
	return se
}

// handleEvents streams bus events as text/event-stream. Under
// /api/pipelines/{id}/events only that pipeline's events are sent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if id != "" {
		if _, err := s.manager.Get(id); err != nil {
			s.writeError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var filter func(event.Event) bool
	if id != "" {
		filter = func(e event.Event) bool {
			scoped, ok := e.(event.PipelineScoped)
			return ok && scoped.Pipeline() == id
		}
	}
	stream := event.NewStream(s.bus, streamBuffer, filter)
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ":ok\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	ctx := r.Context()

	for {
		select {
		case e, open := <-stream.C():
			if !open {
				return
			}
			se := toStreamEvent(e)
			data, err := json.Marshal(se)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", se.Type, data)
			flusher.Flush()

		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ":heartbeat\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
