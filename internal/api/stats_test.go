package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
	"github.com/seantiz/examlens/internal/store"
)

func remoteConfigSteps(n int) remote.MemoryConfig {
	return remote.MemoryConfig{Steps: n, Batch: true}
}

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("avg_duration_ms = %f, want 0", stats.AvgDurationMS)
	}
	for _, mode := range []model.Mode{model.ModeClass, model.ModeStudent} {
		live, ok := stats.Live[mode]
		if !ok {
			t.Errorf("missing live counts for %q", mode)
			continue
		}
		if live.Total != 0 {
			t.Errorf("live %q total = %d, want 0", mode, live.Total)
		}
	}
}

func archivedTask(batchID, subject, label, status, kind string, dur time.Duration) model.Task {
	start := time.Now().UTC().Add(-time.Minute)
	end := start.Add(dur)
	return model.Task{
		ID: model.NewID(), BatchID: batchID, Mode: model.ModeClass,
		SubjectID: subject, SubjectKind: model.SubjectQuestion,
		ModelConfigID: 1, ModelLabel: label, Backend: "memory",
		JobHandle: "memory-" + model.NewID(), Status: status, ErrorKind: kind,
		StartedAt: start, EndedAt: &end,
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	rec := &store.BatchRecord{
		ID: model.NewID(), Mode: model.ModeClass, Target: "questions",
		Total: 3, Succeeded: 2, Failed: 1,
		CreatedAt: time.Now().UTC(), FinishedAt: time.Now().UTC(),
	}
	tasks := []model.Task{
		archivedTask(rec.ID, "Q1", "gpt", model.StatusSuccess, "", 100*time.Millisecond),
		archivedTask(rec.ID, "Q2", "gpt", model.StatusSuccess, "", 300*time.Millisecond),
		archivedTask(rec.ID, "Q3", "claude", model.StatusFailure, model.ErrorKindRemote, 200*time.Millisecond),
	}
	if err := srv.store.ArchiveBatch(ctx, rec, tasks); err != nil {
		t.Fatalf("ArchiveBatch: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Batches != 1 {
		t.Errorf("batches = %d, want 1", stats.Batches)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[model.StatusSuccess] != 2 {
		t.Errorf("by_status[success] = %d, want 2", stats.ByStatus[model.StatusSuccess])
	}
	if stats.ByErrorKind[model.ErrorKindRemote] != 1 {
		t.Errorf("by_error_kind[remote] = %d, want 1", stats.ByErrorKind[model.ErrorKindRemote])
	}
	if stats.ByModel["gpt"] != 2 {
		t.Errorf("by_model[gpt] = %d, want 2", stats.ByModel["gpt"])
	}
	if stats.AvgDurationMS != 200 {
		t.Errorf("avg_duration_ms = %f, want 200", stats.AvgDurationMS)
	}
}

func TestBatchArchiveEndpoints(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/class/batches", classTable())
	var started struct {
		BatchID string `json:"batch_id"`
	}
	decodeBody(t, resp, &started)
	waitForTasks(t, ts.URL, model.ModeClass, func(r tasksResponse) bool { return !r.Running })

	// Archiving happens right after completion.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, ts.URL+"/v1/batches/"+started.BatchID+"/tasks", nil)
		if resp.StatusCode == http.StatusOK || time.Now().After(deadline) {
			break
		}
		resp.Body.Close()
		time.Sleep(10 * time.Millisecond)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var archived batchTasksResponse
	decodeBody(t, resp, &archived)
	if len(archived.Tasks) != 4 {
		t.Errorf("archived %d tasks, want 4", len(archived.Tasks))
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/batches/"+started.BatchID, nil)
	var rec store.BatchRecord
	decodeBody(t, resp, &rec)
	if rec.Succeeded != 4 || rec.Target != "questions" {
		t.Errorf("record = %+v", rec)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/batches?limit=500", nil)
	var list listBatchesResponse
	decodeBody(t, resp, &list)
	if list.Total != 1 || list.Limit != defaultListLimit {
		t.Errorf("list total/limit = %d/%d", list.Total, list.Limit)
	}

	for _, path := range []string{"/v1/batches/missing", "/v1/batches/missing/tasks"} {
		resp = doJSON(t, http.MethodGet, ts.URL+path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}
