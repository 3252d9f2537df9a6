package engine

import "errors"

var (
	// ErrTaskNotFound is returned when no task has the given ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotRetryable is returned when a retry targets a task that has not failed.
	ErrNotRetryable = errors.New("task is not retryable")
	// ErrBatchRunning is returned when a batch is started while another one
	// in the same session still has unfinished tasks.
	ErrBatchRunning = errors.New("batch already running")
	// ErrEmptyBatch is returned when a batch has no subjects or no models.
	ErrEmptyBatch = errors.New("batch needs at least one subject and one model")
	// ErrUnknownMode is returned for a session mode the engine does not run.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrStopped is returned once the engine has shut down.
	ErrStopped = errors.New("engine stopped")
)
