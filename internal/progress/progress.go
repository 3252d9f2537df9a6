// Package progress estimates the remaining time of a running batch.
package progress

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of batch progress.
type Snapshot struct {
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Elapsed     time.Duration  `json:"elapsed"`
	Average     time.Duration  `json:"average"`
	ETA         *time.Duration `json:"eta,omitempty"`
	Calculating bool           `json:"calculating"`
	Done        bool           `json:"done"`
}

// Percent returns completion in [0, 100].
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) * 100 / float64(s.Total)
}

// Estimator tracks completions against a fixed total. The average task
// duration only moves when the completed count changes, so the ETA counts
// down smoothly between completions.
type Estimator struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	total     int
	completed int
	avg       time.Duration
}

// New returns an Estimator that reads time from now. A nil now uses
// time.Now.
func New(now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{now: now}
}

// Start resets the estimator for a batch of total tasks.
func (e *Estimator) Start(total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = e.now()
	e.total = total
	e.completed = 0
	e.avg = 0
}

// SetTotal changes the task count, e.g. after an umbrella expansion.
func (e *Estimator) SetTotal(total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = total
	if e.completed > total {
		e.completed = total
	}
}

// Update records the current number of terminal tasks.
func (e *Estimator) Update(completed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if completed > e.total {
		completed = e.total
	}
	if completed == e.completed {
		return
	}
	e.completed = completed
	if completed == 0 {
		e.avg = 0
		return
	}
	e.avg = e.now().Sub(e.start) / time.Duration(completed)
}

// Snapshot computes the current estimate.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Total:     e.total,
		Completed: e.completed,
		Average:   e.avg,
	}
	if !e.start.IsZero() {
		s.Elapsed = e.now().Sub(e.start)
	}

	switch {
	case e.total > 0 && e.completed >= e.total:
		s.Done = true
	case e.completed == 0:
		s.Calculating = true
	default:
		eta := e.avg*time.Duration(e.total) - s.Elapsed
		if eta < 0 {
			eta = 0
		}
		s.ETA = &eta
	}
	return s
}
