// Package remote defines the interface to the remote analysis job queue and
// the implementations the engine submits to and polls.
package remote

import (
	"context"
	"fmt"

	"github.com/seantiz/examlens/internal/model"
)

// Payload is the request body for one (subject, model) analysis job.
type Payload struct {
	TaskID        string            `json:"task_id"`
	BatchID       string            `json:"batch_id"`
	Mode          model.Mode        `json:"mode"`
	SubjectID     string            `json:"subject_id"`
	SubjectKind   string            `json:"subject_kind"`
	Groups        []string          `json:"groups,omitempty"`
	Model         model.ModelConfig `json:"model"`
	Content       map[string]any    `json:"content"`
	PriorAnalysis any               `json:"prior_analysis,omitempty"`
	Metadata      model.Metadata    `json:"metadata"`
}

// Dispatcher submits analysis jobs.
type Dispatcher interface {
	// Submit enqueues a job and returns its opaque handle. Failures are
	// returned as *DispatchError.
	Submit(ctx context.Context, p Payload) (string, error)
}

// StatusService reports the state of a single job.
type StatusService interface {
	GetStatus(ctx context.Context, handle string) (model.RemoteStatus, error)
}

// BatchStatusService is implemented by services that can report many jobs
// in one round trip. Handles missing from the response are treated as not
// yet known and queried again on the next tick.
type BatchStatusService interface {
	GetStatusBatch(ctx context.Context, handles []string) (map[string]model.RemoteStatus, error)
}

// Stopper revokes running jobs. Stopping is best effort.
type Stopper interface {
	Stop(ctx context.Context, handles []string) error
}

// JobService is the full contract a remote provider implements.
type JobService interface {
	Dispatcher
	StatusService
	Stopper

	// Capabilities reports the provider name and its polling limits.
	Capabilities() Capabilities
}

// Capabilities describes what a job service supports.
type Capabilities struct {
	Name           string `json:"name"`
	Batch          bool   `json:"batch"`
	MaxConcurrency int    `json:"max_concurrency"`
}

// DispatchError is returned when a job could not be submitted.
type DispatchError struct {
	SubjectID  string
	ModelLabel string
	// StatusCode is the HTTP status of the rejected submit, or 0.
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch %s/%s: status %d: %v", e.SubjectID, e.ModelLabel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch %s/%s: %v", e.SubjectID, e.ModelLabel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
