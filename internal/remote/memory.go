package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/examlens/internal/model"
)

// ErrJobNotFound is returned for handles the service never issued.
var ErrJobNotFound = errors.New("job not found")

// MemoryConfig scripts the behavior of a MemoryService.
type MemoryConfig struct {
	Name string
	// Steps is the number of status reads before a job reaches its final
	// state. The first read reports PENDING, later ones PROCESSING.
	Steps int
	// Batch enables GetStatusBatch in Capabilities.
	Batch          bool
	MaxConcurrency int
	// Result returns the final status of a job. Defaults to DefaultResult.
	Result func(Payload) model.RemoteStatus
	// SubmitErr, when set, may reject a submit.
	SubmitErr func(Payload) error
}

type memoryJob struct {
	payload Payload
	reads   int
	final   model.RemoteStatus
	revoked bool
}

// MemoryService is an in-process job queue with scripted outcomes.
type MemoryService struct {
	cfg MemoryConfig

	mu      sync.Mutex
	jobs    map[string]*memoryJob
	order   []string
	stopped []string
	reads   int
}

// NewMemoryService returns a scripted job queue.
func NewMemoryService(cfg MemoryConfig) *MemoryService {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.Result == nil {
		cfg.Result = DefaultResult
	}
	return &MemoryService{cfg: cfg, jobs: make(map[string]*memoryJob)}
}

// DefaultResult succeeds with a short summary. Umbrella subjects succeed
// with one entry per group.
func DefaultResult(p Payload) model.RemoteStatus {
	summary := func(subject string) map[string]string {
		return map[string]string{"summary": fmt.Sprintf("%s analysed by %s", subject, p.Model.Label)}
	}
	var v any = summary(p.SubjectID)
	if model.IsUmbrellaSubject(p.SubjectKind, p.SubjectID) && len(p.Groups) > 0 {
		groups := make(map[string]any, len(p.Groups))
		for _, g := range p.Groups {
			groups[g] = summary(g)
		}
		v = groups
	}
	raw, _ := json.Marshal(v)
	return model.RemoteStatus{State: model.RemoteSuccess, Result: raw}
}

// Capabilities implements JobService.
func (m *MemoryService) Capabilities() Capabilities {
	return Capabilities{Name: m.cfg.Name, Batch: m.cfg.Batch, MaxConcurrency: m.cfg.MaxConcurrency}
}

// Submit implements Dispatcher.
func (m *MemoryService) Submit(ctx context.Context, p Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &DispatchError{SubjectID: p.SubjectID, ModelLabel: p.Model.Label, Err: err}
	}
	if m.cfg.SubmitErr != nil {
		if err := m.cfg.SubmitErr(p); err != nil {
			return "", &DispatchError{SubjectID: p.SubjectID, ModelLabel: p.Model.Label, Err: err}
		}
	}

	handle := m.cfg.Name + "-" + model.NewID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[handle] = &memoryJob{payload: p, final: m.cfg.Result(p)}
	m.order = append(m.order, handle)
	return handle, nil
}

// GetStatus implements StatusService.
func (m *MemoryService) GetStatus(ctx context.Context, handle string) (model.RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.RemoteStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(handle)
}

// GetStatusBatch implements BatchStatusService.
func (m *MemoryService) GetStatusBatch(ctx context.Context, handles []string) (map[string]model.RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.RemoteStatus, len(handles))
	for _, h := range handles {
		st, err := m.read(h)
		if err != nil {
			continue
		}
		out[h] = st
	}
	return out, nil
}

// read advances the job one step. Callers hold m.mu.
func (m *MemoryService) read(handle string) (model.RemoteStatus, error) {
	job, ok := m.jobs[handle]
	if !ok {
		return model.RemoteStatus{}, fmt.Errorf("%s: %w", handle, ErrJobNotFound)
	}
	m.reads++
	if job.revoked {
		return model.RemoteStatus{State: model.RemoteRevoked}, nil
	}
	job.reads++
	switch {
	case job.reads > m.cfg.Steps:
		return job.final, nil
	case job.reads == 1:
		return model.RemoteStatus{State: model.RemotePending}, nil
	default:
		return model.RemoteStatus{State: model.RemoteProcessing}, nil
	}
}

// Stop implements Stopper.
func (m *MemoryService) Stop(_ context.Context, handles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if job, ok := m.jobs[h]; ok {
			job.revoked = true
		}
		m.stopped = append(m.stopped, h)
	}
	return nil
}

// Submitted returns the payloads accepted so far, in submit order.
func (m *MemoryService) Submitted() []Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Payload, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.jobs[h].payload)
	}
	return out
}

// Handles returns the issued handles in submit order.
func (m *MemoryService) Handles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Stopped returns every handle passed to Stop.
func (m *MemoryService) Stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

// Reads returns the number of status reads served.
func (m *MemoryService) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
