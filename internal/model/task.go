package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task status constants.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailure    = "failure"
)

// Error kind constants attached to failed tasks.
const (
	ErrorKindDispatch      = "dispatch"
	ErrorKindRemote        = "remote"
	ErrorKindApplication   = "application"
	ErrorKindCancelled     = "cancelled"
	ErrorKindTerminated    = "terminated"
	ErrorKindUnknownStatus = "unknown_status"
)

// Error messages for locally finalized tasks.
const (
	MsgUserCancelled = "user cancelled"
	MsgTerminated    = "terminated"
	MsgUnknownStatus = "unknown status"
)

// Mode selects one of the two isolated orchestration sessions.
type Mode string

// Session modes.
const (
	ModeClass   Mode = "class"
	ModeStudent Mode = "student"
)

// ParseMode converts s into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeClass, ModeStudent:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry; leaving them requires a retry, which
// replaces the job handle instead of transitioning it.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusPending:    true,
		StatusProcessing: true,
		StatusSuccess:    true,
		StatusFailure:    true,
	},
	StatusProcessing: {
		StatusProcessing: true,
		StatusSuccess:    true,
		StatusFailure:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is success or failure.
func IsTerminal(status string) bool {
	return status == StatusSuccess || status == StatusFailure
}

// CanRetry reports whether a task in the given status may be retried.
func CanRetry(status string) bool {
	return status == StatusFailure
}

// Task is one (subject, model) analysis job and its lifecycle state.
type Task struct {
	ID            string          `json:"id"`
	BatchID       string          `json:"batch_id"`
	Mode          Mode            `json:"mode"`
	SubjectID     string          `json:"subject_id"`
	SubjectKind   string          `json:"subject_kind"`
	ModelConfigID int             `json:"model_config_id"`
	ModelLabel    string          `json:"model_label"`
	Backend       string          `json:"backend"`
	JobHandle     string          `json:"job_handle"`
	ParentID      string          `json:"parent_id,omitempty"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Attempt       int             `json:"attempt"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
}

// PairKey identifies a (subject, model) pair.
func PairKey(subjectID string, modelConfigID int) string {
	return fmt.Sprintf("%s\x00%d", subjectID, modelConfigID)
}

// PairKey identifies the (subject, model) pair a task belongs to.
func (t *Task) PairKey() string {
	return PairKey(t.SubjectID, t.ModelConfigID)
}

// IsUmbrella reports whether the task runs an umbrella subject.
func (t *Task) IsUmbrella() bool {
	return IsUmbrellaSubject(t.SubjectKind, t.SubjectID)
}

// Fail marks the task as failed with the given kind and message.
func (t *Task) Fail(kind, msg string, at time.Time) {
	t.Status = StatusFailure
	t.ErrorKind = kind
	t.Error = msg
	t.EndedAt = &at
}

// Succeed marks the task as successful with the given result payload.
func (t *Task) Succeed(result json.RawMessage, at time.Time) {
	t.Status = StatusSuccess
	t.Result = result
	t.Error = ""
	t.ErrorKind = ""
	t.EndedAt = &at
}

// Duration returns how long the task ran, or zero while it is still live.
func (t *Task) Duration() time.Duration {
	if t.EndedAt == nil {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}
