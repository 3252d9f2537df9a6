package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/examlens/internal/engine"
	"github.com/seantiz/examlens/internal/model"
)

// eventPayload is the data line of one SSE event.
type eventPayload struct {
	Mode     model.Mode        `json:"mode"`
	BatchID  string            `json:"batch_id,omitempty"`
	Task     *model.Task       `json:"task,omitempty"`
	Tasks    []model.Task      `json:"tasks,omitempty"`
	Progress *progressResponse `json:"progress,omitempty"`
}

func newEventPayload(ev engine.Event) eventPayload {
	p := eventPayload{Mode: ev.Mode, BatchID: ev.BatchID, Task: ev.Task, Tasks: ev.Tasks}
	if ev.Progress != nil {
		pr := newProgressResponse(*ev.Progress)
		p.Progress = &pr
	}
	return p
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	// Subscribe before looking at the session so a completion between the
	// two is not missed.
	ch, unsub := s.engine.Broker().Subscribe(sess.Mode())
	defer unsub()

	streams := eventStreams.WithLabelValues(string(sess.Mode()))
	streams.Inc()
	defer streams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	snap := sess.Snapshot()
	if !snap.Running {
		p := newProgressResponse(snap.Progress)
		_ = writeSSEEvent(w, engine.EventDone, eventPayload{Mode: snap.Mode, BatchID: snap.BatchID, Progress: &p})
		flush()
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Engine shut down.
				_ = writeSSEEvent(w, engine.EventDone, eventPayload{Mode: sess.Mode()})
				flush()
				return
			}
			if err := writeSSEEvent(w, ev.Type, newEventPayload(ev)); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
			if ev.Type == engine.EventDone {
				return
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes a named SSE event whose data is v encoded as one
// line of JSON.
func writeSSEEvent(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
