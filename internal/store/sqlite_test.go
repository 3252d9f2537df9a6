package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/examlens/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestBatch(finished time.Time) *BatchRecord {
	return &BatchRecord{
		ID:         model.NewID(),
		Mode:       model.ModeClass,
		Target:     "questions",
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func makeTestTasks(batchID string) []model.Task {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	return []model.Task{
		{
			ID: model.NewID(), BatchID: batchID, Mode: model.ModeClass,
			SubjectID: "Q1", SubjectKind: model.SubjectQuestion, ModelConfigID: 1, ModelLabel: "gpt",
			Backend: "memory", JobHandle: "job-1", Status: model.StatusSuccess,
			Result: json.RawMessage(`{"summary":"ok"}`), Attempt: 1, StartedAt: start, EndedAt: &end,
		},
		{
			ID: model.NewID(), BatchID: batchID, Mode: model.ModeClass,
			SubjectID: "Q1", SubjectKind: model.SubjectQuestion, ModelConfigID: 2, ModelLabel: "claude",
			Backend: "memory", JobHandle: "job-2", Status: model.StatusFailure,
			Error: "rate limited", ErrorKind: model.ErrorKindDispatch, StartedAt: start, EndedAt: &end,
		},
		{
			ID: model.NewID(), BatchID: batchID, Mode: model.ModeClass,
			SubjectID: "Q2", SubjectKind: model.SubjectQuestion, ModelConfigID: 1, ModelLabel: "gpt",
			Backend: "memory", JobHandle: "local-x", Status: model.StatusFailure,
			Error: model.MsgUserCancelled, ErrorKind: model.ErrorKindCancelled, StartedAt: start,
		},
	}
}

func TestOverrideUpsertAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LookupOverride(ctx, model.ModeClass, "Q1", "gpt")
	if err != nil {
		t.Fatalf("LookupOverride: %v", err)
	}
	if ok {
		t.Fatal("LookupOverride found an override in an empty store")
	}

	o := model.Override{
		Mode: model.ModeClass, SubjectID: "Q1", ModelLabel: "gpt",
		Metadata: model.Metadata{Topic: "algebra", Ability: "reasoning"},
	}
	if err := s.UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride: %v", err)
	}

	o.Metadata = model.Metadata{Topic: "geometry", Difficulty: "hard"}
	if err := s.UpsertOverride(ctx, o); err != nil {
		t.Fatalf("UpsertOverride replace: %v", err)
	}

	md, ok, err := s.LookupOverride(ctx, model.ModeClass, "Q1", "gpt")
	if err != nil {
		t.Fatalf("LookupOverride: %v", err)
	}
	if !ok {
		t.Fatal("LookupOverride: not found after upsert")
	}
	want := model.Metadata{Topic: "geometry", Difficulty: "hard"}
	if md != want {
		t.Errorf("metadata = %+v, want %+v", md, want)
	}

	// Overrides are scoped by mode.
	if _, ok, _ := s.LookupOverride(ctx, model.ModeStudent, "Q1", "gpt"); ok {
		t.Error("override leaked across modes")
	}
}

func TestListAndDeleteOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, subject := range []string{"Q2", "Q1"} {
		o := model.Override{Mode: model.ModeStudent, SubjectID: subject, ModelLabel: "gpt", Metadata: model.Metadata{Topic: subject}}
		if err := s.UpsertOverride(ctx, o); err != nil {
			t.Fatalf("UpsertOverride(%s): %v", subject, err)
		}
	}

	list, err := s.ListOverrides(ctx, model.ModeStudent)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].SubjectID != "Q1" || list[0].Mode != model.ModeStudent {
		t.Errorf("list[0] = %+v, want Q1 in student mode", list[0])
	}

	if err := s.DeleteOverride(ctx, model.ModeStudent, "Q1", "gpt"); err != nil {
		t.Fatalf("DeleteOverride: %v", err)
	}
	if err := s.DeleteOverride(ctx, model.ModeStudent, "Q1", "gpt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteOverride twice: error = %v, want ErrNotFound", err)
	}
}

func TestArchiveBatchAndGetTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := makeTestBatch(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
	b.Total, b.Succeeded, b.Failed, b.Cancelled = 3, 1, 2, true
	tasks := makeTestTasks(b.ID)

	if err := s.ArchiveBatch(ctx, b, tasks); err != nil {
		t.Fatalf("ArchiveBatch: %v", err)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Mode != model.ModeClass || got.Total != 3 || got.Failed != 2 || !got.Cancelled {
		t.Errorf("batch = %+v", got)
	}
	if !got.FinishedAt.Equal(b.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, b.FinishedAt)
	}

	archived, err := s.GetBatchTasks(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatchTasks: %v", err)
	}
	if len(archived) != 3 {
		t.Fatalf("len(archived) = %d, want 3", len(archived))
	}
	for i := range tasks {
		if archived[i].ID != tasks[i].ID {
			t.Errorf("archived[%d].ID = %q, want %q (order must be preserved)", i, archived[i].ID, tasks[i].ID)
		}
	}
	if string(archived[0].Result) != `{"summary":"ok"}` {
		t.Errorf("Result = %s", archived[0].Result)
	}
	if archived[1].ErrorKind != model.ErrorKindDispatch {
		t.Errorf("ErrorKind = %q, want %q", archived[1].ErrorKind, model.ErrorKindDispatch)
	}
	if archived[2].EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", archived[2].EndedAt)
	}
	if archived[2].Result != nil {
		t.Errorf("Result = %s, want nil", archived[2].Result)
	}
}

func TestArchiveBatchReplacesSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := makeTestBatch(time.Now().UTC())
	tasks := makeTestTasks(b.ID)
	if err := s.ArchiveBatch(ctx, b, tasks); err != nil {
		t.Fatalf("ArchiveBatch: %v", err)
	}

	tasks[1].Status = model.StatusSuccess
	tasks[1].Error, tasks[1].ErrorKind = "", ""
	tasks[1].Attempt = 2
	b.Succeeded, b.Failed = 2, 1
	if err := s.ArchiveBatch(ctx, b, tasks); err != nil {
		t.Fatalf("ArchiveBatch again: %v", err)
	}

	got, err := s.GetBatchTasks(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatchTasks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[1].Status != model.StatusSuccess || got[1].Attempt != 2 {
		t.Errorf("task[1] = %+v, want success on attempt 2", got[1])
	}

	rec, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if rec.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", rec.Succeeded)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetBatch(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("GetBatch error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBatchTasks(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("GetBatchTasks error = %v, want ErrNotFound", err)
	}
}

func TestArchiveBatchDuplicateRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := makeTestBatch(time.Now().UTC())
	tasks := makeTestTasks(b.ID)
	if err := s.ArchiveBatch(ctx, b, tasks); err != nil {
		t.Fatalf("ArchiveBatch: %v", err)
	}

	// Same task IDs under a new batch violate the primary key.
	b2 := makeTestBatch(time.Now().UTC())
	if err := s.ArchiveBatch(ctx, b2, tasks); err == nil {
		t.Fatal("ArchiveBatch with duplicate task IDs: expected error")
	}
	if _, err := s.GetBatch(ctx, b2.ID); err != ErrNotFound {
		t.Errorf("failed archive left a batch row behind: %v", err)
	}
}

func TestListBatchesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b := makeTestBatch(time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC))
		if err := s.ArchiveBatch(ctx, b, nil); err != nil {
			t.Fatalf("ArchiveBatch[%d]: %v", i, err)
		}
	}

	batches, total, err := s.ListBatches(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(batches) != 2 {
		t.Fatalf("len(batches) = %d, want 2", len(batches))
	}
	if batches[1].FinishedAt.After(batches[0].FinishedAt) {
		t.Errorf("batches not in DESC order: %v then %v", batches[0].FinishedAt, batches[1].FinishedAt)
	}

	page3, _, err := s.ListBatches(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListBatches page 3: %v", err)
	}
	if len(page3) != 1 {
		t.Errorf("len(page3) = %d, want 1", len(page3))
	}
}

func TestListBatchesEmpty(t *testing.T) {
	s := newTestStore(t)

	batches, total, err := s.ListBatches(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if batches != nil {
		t.Errorf("batches = %v, want nil", batches)
	}
}

func TestGetTaskStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b := makeTestBatch(time.Now().UTC())
		if err := s.ArchiveBatch(ctx, b, makeTestTasks(b.ID)); err != nil {
			t.Fatalf("ArchiveBatch[%d]: %v", i, err)
		}
	}

	stats, err := s.GetTaskStats(ctx)
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}

	if stats.Batches != 2 {
		t.Errorf("Batches = %d, want 2", stats.Batches)
	}
	if stats.Total != 6 {
		t.Errorf("Total = %d, want 6", stats.Total)
	}
	if stats.CountByStatus[model.StatusSuccess] != 2 || stats.CountByStatus[model.StatusFailure] != 4 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.CountByErrorKind[model.ErrorKindCancelled] != 2 {
		t.Errorf("CountByErrorKind = %v", stats.CountByErrorKind)
	}
	if _, ok := stats.CountByErrorKind[""]; ok {
		t.Error("CountByErrorKind should not count tasks without an error kind")
	}
	if stats.CountByModel["gpt"] != 4 {
		t.Errorf("CountByModel = %v", stats.CountByModel)
	}
	if stats.AvgDurationMS != 1500 {
		t.Errorf("AvgDurationMS = %v, want 1500", stats.AvgDurationMS)
	}
}

func TestGetTaskStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetTaskStats(context.Background())
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgDurationMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if len(stats.CountByStatus) != 0 {
		t.Errorf("CountByStatus = %v, want empty", stats.CountByStatus)
	}
}

func TestStoreConcurrentOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errCh := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			errCh <- s.UpsertOverride(ctx, model.Override{
				Mode: model.ModeClass, SubjectID: fmt.Sprintf("Q%d", i), ModelLabel: "gpt",
			})
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("UpsertOverride: %v", err)
		}
	}

	list, err := s.ListOverrides(ctx, model.ModeClass)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(list) != 10 {
		t.Errorf("len(list) = %d, want 10", len(list))
	}
}
