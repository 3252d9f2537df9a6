package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/examlens/internal/engine"
)

type sseEvent struct {
	Type string
	Data eventPayload
}

// readSSE parses named events until the stream ends.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if typ, ok := strings.CutPrefix(line, "event: "); ok {
			current.Type = typ
		} else if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := json.Unmarshal([]byte(data), &current.Data); err != nil {
				t.Fatalf("decode event data %q: %v", data, err)
			}
		} else if line == "" && current.Type != "" {
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestStreamEventsUnknownMode(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/school/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsIdleSession(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/class/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	events := readSSE(t, resp)
	if len(events) != 1 || events[0].Type != engine.EventDone {
		t.Fatalf("events = %+v, want a single done event", events)
	}
}

func TestStreamEventsFollowsBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Start the batch first; the stream then sees it running.
	body := classTable()
	body["models"] = testModels[:1]
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/class/batches", body)
	var started struct {
		BatchID string `json:"batch_id"`
	}
	decodeBody(t, resp, &started)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/sessions/class/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	events := readSSE(t, stream)
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.Type != engine.EventDone {
		t.Errorf("last event = %q, want done", last.Type)
	}
	if last.Data.BatchID != started.BatchID {
		t.Errorf("done batch_id = %q, want %q", last.Data.BatchID, started.BatchID)
	}
	if last.Data.Progress == nil || !last.Data.Progress.Done {
		t.Errorf("done progress = %+v, want done", last.Data.Progress)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == engine.EventDone {
			t.Error("done event sent more than once")
		}
	}
}
