package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/examlens/internal/model"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS overrides (
    mode        TEXT NOT NULL,
    subject_id  TEXT NOT NULL,
    model_label TEXT NOT NULL,
    topic       TEXT NOT NULL DEFAULT '',
    ability     TEXT NOT NULL DEFAULT '',
    difficulty  TEXT NOT NULL DEFAULT '',
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (mode, subject_id, model_label)
)`,
	`CREATE TABLE IF NOT EXISTS batches (
    id          TEXT PRIMARY KEY,
    mode        TEXT NOT NULL,
    target      TEXT NOT NULL,
    total       INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    cancelled   INTEGER NOT NULL,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id              TEXT PRIMARY KEY,
    batch_id        TEXT NOT NULL REFERENCES batches(id),
    seq             INTEGER NOT NULL,
    mode            TEXT NOT NULL,
    subject_id      TEXT NOT NULL,
    subject_kind    TEXT NOT NULL,
    model_config_id INTEGER NOT NULL,
    model_label     TEXT NOT NULL,
    backend         TEXT NOT NULL,
    job_handle      TEXT NOT NULL,
    parent_id       TEXT NOT NULL,
    status          TEXT NOT NULL,
    result          TEXT,
    error           TEXT NOT NULL,
    error_kind      TEXT NOT NULL,
    attempt         INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL,
    started_at      DATETIME NOT NULL,
    ended_at        DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_batch ON tasks(batch_id, seq)`,
}

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertOverride stores a metadata override, replacing any previous one for
// the same (mode, subject, model label).
func (s *SQLiteStore) UpsertOverride(ctx context.Context, o model.Override) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO overrides (mode, subject_id, model_label, topic, ability, difficulty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mode, subject_id, model_label) DO UPDATE SET
			topic = excluded.topic,
			ability = excluded.ability,
			difficulty = excluded.difficulty,
			updated_at = excluded.updated_at`,
		string(o.Mode), o.SubjectID, o.ModelLabel,
		o.Metadata.Topic, o.Metadata.Ability, o.Metadata.Difficulty,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// LookupOverride returns the override for one pair. It satisfies
// dispatch.OverrideSource.
func (s *SQLiteStore) LookupOverride(ctx context.Context, mode model.Mode, subjectID, modelLabel string) (model.Metadata, bool, error) {
	var md model.Metadata
	err := s.db.QueryRowContext(ctx,
		`SELECT topic, ability, difficulty FROM overrides
		WHERE mode = ? AND subject_id = ? AND model_label = ?`,
		string(mode), subjectID, modelLabel,
	).Scan(&md.Topic, &md.Ability, &md.Difficulty)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Metadata{}, false, nil
	}
	if err != nil {
		return model.Metadata{}, false, fmt.Errorf("lookup override: %w", err)
	}
	return md, true, nil
}

// ListOverrides returns every override of one mode ordered by subject and
// model label.
func (s *SQLiteStore) ListOverrides(ctx context.Context, mode model.Mode) ([]model.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, model_label, topic, ability, difficulty FROM overrides
		WHERE mode = ? ORDER BY subject_id, model_label`, string(mode),
	)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		o := model.Override{Mode: mode}
		if err := rows.Scan(&o.SubjectID, &o.ModelLabel, &o.Metadata.Topic, &o.Metadata.Ability, &o.Metadata.Difficulty); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return out, nil
}

// DeleteOverride removes one override.
func (s *SQLiteStore) DeleteOverride(ctx context.Context, mode model.Mode, subjectID, modelLabel string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM overrides WHERE mode = ? AND subject_id = ? AND model_label = ?`,
		string(mode), subjectID, modelLabel,
	)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveBatch stores a finished batch and its tasks in one transaction.
// Archiving the same batch again, e.g. after a retry, replaces the earlier
// snapshot.
func (s *SQLiteStore) ArchiveBatch(ctx context.Context, b *BatchRecord, tasks []model.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE batch_id = ?", b.ID); err != nil {
		return fmt.Errorf("clear archived tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", b.ID); err != nil {
		return fmt.Errorf("clear archived batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, mode, target, total, succeeded, failed, cancelled, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Mode), b.Target, b.Total, b.Succeeded, b.Failed, b.Cancelled, b.CreatedAt, b.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks (
			id, batch_id, seq, mode, subject_id, subject_kind, model_config_id,
			model_label, backend, job_handle, parent_id, status, result, error,
			error_kind, attempt, duration_ms, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range tasks {
		var result any
		if len(t.Result) > 0 {
			result = string(t.Result)
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, b.ID, i, string(t.Mode), t.SubjectID, t.SubjectKind, t.ModelConfigID,
			t.ModelLabel, t.Backend, t.JobHandle, t.ParentID, t.Status, result, t.Error,
			t.ErrorKind, t.Attempt, t.Duration().Milliseconds(), t.StartedAt, t.EndedAt,
		); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// GetBatch retrieves an archived batch by ID.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	b := &BatchRecord{}
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, target, total, succeeded, failed, cancelled, created_at, finished_at
		FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &mode, &b.Target, &b.Total, &b.Succeeded, &b.Failed, &b.Cancelled, &b.CreatedAt, &b.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.Mode = model.Mode(mode)
	return b, nil
}

// ListBatches returns a page of archived batches ordered by finished_at
// DESC, along with the total count.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]*BatchRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, mode, target, total, succeeded, failed, cancelled, created_at, finished_at
		FROM batches ORDER BY finished_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*BatchRecord
	for rows.Next() {
		b := &BatchRecord{}
		var mode string
		if err := rows.Scan(&b.ID, &mode, &b.Target, &b.Total, &b.Succeeded, &b.Failed, &b.Cancelled, &b.CreatedAt, &b.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		b.Mode = model.Mode(mode)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, total, nil
}

// GetBatchTasks returns the archived tasks of a batch in registry order.
// It returns ErrNotFound when the batch does not exist.
func (s *SQLiteStore) GetBatchTasks(ctx context.Context, batchID string) ([]model.Task, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, mode, subject_id, subject_kind, model_config_id,
			model_label, backend, job_handle, parent_id, status, result, error,
			error_kind, attempt, started_at, ended_at
		FROM tasks WHERE batch_id = ? ORDER BY seq`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("get batch tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var mode string
		var result sql.NullString
		if err := rows.Scan(
			&t.ID, &t.BatchID, &mode, &t.SubjectID, &t.SubjectKind, &t.ModelConfigID,
			&t.ModelLabel, &t.Backend, &t.JobHandle, &t.ParentID, &t.Status, &result, &t.Error,
			&t.ErrorKind, &t.Attempt, &t.StartedAt, &t.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Mode = model.Mode(mode)
		if result.Valid {
			t.Result = []byte(result.String)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// GetTaskStats aggregates every archived task.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		CountByStatus:    make(map[string]int),
		CountByErrorKind: make(map[string]int),
		CountByModel:     make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches").Scan(&stats.Batches); err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(CASE WHEN ended_at IS NOT NULL THEN duration_ms END) FROM tasks",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"status", stats.CountByStatus},
		{"error_kind", stats.CountByErrorKind},
		{"model_label", stats.CountByModel},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.into); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// countBy fills into with task counts grouped by column. column is always
// a constant from GetTaskStats.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM tasks WHERE %s != '' GROUP BY %s", column, column, column),
	)
	if err != nil {
		return fmt.Errorf("count tasks by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}
