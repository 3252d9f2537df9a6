package store

import (
	"context"
	"time"

	"github.com/seantiz/examlens/internal/model"
)

// BatchRecord summarizes one archived batch.
type BatchRecord struct {
	ID         string     `json:"id"`
	Mode       model.Mode `json:"mode"`
	Target     string     `json:"target"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Cancelled  bool       `json:"cancelled"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// TaskStats holds aggregate statistics over archived tasks.
type TaskStats struct {
	Batches          int            `json:"batches"`
	Total            int            `json:"total"`
	CountByStatus    map[string]int `json:"count_by_status"`
	CountByErrorKind map[string]int `json:"count_by_error_kind"`
	CountByModel     map[string]int `json:"count_by_model"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for overrides and archived
// batches.
type Store interface {
	UpsertOverride(ctx context.Context, o model.Override) error
	LookupOverride(ctx context.Context, mode model.Mode, subjectID, modelLabel string) (model.Metadata, bool, error)
	ListOverrides(ctx context.Context, mode model.Mode) ([]model.Override, error)
	DeleteOverride(ctx context.Context, mode model.Mode, subjectID, modelLabel string) error

	ArchiveBatch(ctx context.Context, b *BatchRecord, tasks []model.Task) error
	GetBatch(ctx context.Context, id string) (*BatchRecord, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*BatchRecord, int, error)
	GetBatchTasks(ctx context.Context, batchID string) ([]model.Task, error)
	GetTaskStats(ctx context.Context) (*TaskStats, error)

	Close() error
}
