package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/examlens/internal/dispatch"
	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/progress"
	"github.com/seantiz/examlens/internal/remote"
	"github.com/seantiz/examlens/internal/store"
)

// archiveTimeout bounds the store write made when a batch completes.
const archiveTimeout = 10 * time.Second

// stopTimeout bounds one round of best-effort stop requests.
const stopTimeout = 10 * time.Second

// BatchRequest is the input of one batch run.
type BatchRequest struct {
	Target   string
	Subjects []model.Subject
	Models   []model.ModelConfig
}

// BatchSummary describes a batch that was just started.
type BatchSummary struct {
	BatchID  string       `json:"batch_id"`
	Mode     model.Mode   `json:"mode"`
	Target   string       `json:"target"`
	Subjects int          `json:"subjects"`
	Models   int          `json:"models"`
	Tasks    []model.Task `json:"tasks"`
}

// SessionSnapshot is a consistent view of one session.
type SessionSnapshot struct {
	Mode     model.Mode        `json:"mode"`
	BatchID  string            `json:"batch_id,omitempty"`
	Target   string            `json:"target,omitempty"`
	Running  bool              `json:"running"`
	Counts   Counts            `json:"counts"`
	Progress progress.Snapshot `json:"progress"`
	Tasks    []model.Task      `json:"tasks"`
}

// batchRun is the state of the current batch. Fields other than the
// subject and model lookups are guarded by Session.mu.
type batchRun struct {
	record    store.BatchRecord
	subjects  map[string]model.Subject
	models    map[int]model.ModelConfig
	ctx       context.Context
	cancel    context.CancelFunc
	completed bool
	done      chan struct{}
}

// Session is one isolated orchestration session. Class and student
// analyses each run in their own session with their own registry, poller
// and progress estimator.
type Session struct {
	mode    model.Mode
	cfg     Config
	reg     *registry
	poller  *poller
	est     *progress.Estimator
	planner *dispatch.Planner
	remotes *remote.Registry
	store   store.Store
	broker  *EventBroker
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu     sync.Mutex
	base   context.Context
	batch  *batchRun
	dispWG sync.WaitGroup
}

func newSession(mode model.Mode, cfg Config, planner *dispatch.Planner, remotes *remote.Registry, st store.Store, broker *EventBroker, logger *slog.Logger, tracer trace.Tracer) *Session {
	s := &Session{
		mode:    mode,
		cfg:     cfg,
		reg:     newRegistry(),
		est:     progress.New(cfg.Now),
		planner: planner,
		remotes: remotes,
		store:   st,
		broker:  broker,
		logger:  logger.With("mode", mode),
		tracer:  tracer,
		now:     cfg.Now,
		base:    context.Background(),
	}
	s.poller = newPoller(s, remotes, cfg.PollInterval, cfg.PollConcurrency)
	return s
}

// start launches the registry and poller goroutines. Both stop with ctx.
func (s *Session) start(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	wg.Go(func() { s.reg.run(ctx) })
	wg.Go(func() { s.poller.run(ctx) })
}

// Mode returns the session mode.
func (s *Session) Mode() model.Mode { return s.mode }

// StartBatch plans the request, replaces the registry contents and starts
// dispatching in the background. It fails with ErrBatchRunning while the
// previous batch still has unfinished tasks.
func (s *Session) StartBatch(req BatchRequest) (*BatchSummary, error) {
	if len(req.Subjects) == 0 || len(req.Models) == 0 {
		return nil, ErrEmptyBatch
	}

	s.mu.Lock()
	if s.batch != nil && !s.batch.completed {
		s.mu.Unlock()
		return nil, ErrBatchRunning
	}

	b := s.planner.Plan(s.mode, req.Subjects, req.Models)
	s.reg.Replace(b.Tasks)
	s.est.Start(len(b.Tasks))

	ctx, cancel := context.WithCancel(s.base)
	run := &batchRun{
		record: store.BatchRecord{
			ID:        b.ID,
			Mode:      s.mode,
			Target:    req.Target,
			Total:     len(b.Tasks),
			CreatedAt: s.now().UTC(),
		},
		subjects: make(map[string]model.Subject, len(req.Subjects)),
		models:   make(map[int]model.ModelConfig, len(req.Models)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, sub := range req.Subjects {
		run.subjects[sub.ID] = sub
	}
	for _, mc := range req.Models {
		run.models[mc.ID] = mc
	}
	s.batch = run
	s.mu.Unlock()

	s.logger.Info("batch started",
		"batch_id", b.ID,
		"target", req.Target,
		"subjects", len(req.Subjects),
		"models", len(req.Models),
		"tasks", len(b.Tasks),
	)
	s.broker.Publish(Event{Type: EventBatch, Mode: s.mode, BatchID: b.ID, Tasks: b.Tasks})

	s.dispWG.Go(func() {
		s.planner.Dispatch(ctx, b, req.Subjects, req.Models, func(ts []model.Task) {
			s.attach(ts)
		})
	})
	s.poller.Kick()

	return &BatchSummary{
		BatchID:  b.ID,
		Mode:     s.mode,
		Target:   req.Target,
		Subjects: len(req.Subjects),
		Models:   len(req.Models),
		Tasks:    b.Tasks,
	}, nil
}

// attach hands dispatch results to the registry. Jobs whose task is gone,
// finished or retried meanwhile are stopped on their backend.
func (s *Session) attach(tasks []model.Task) {
	orphans := make(map[string][]string)
	for _, r := range s.reg.ResolveHandles(tasks) {
		if r.Orphan {
			orphans[r.Task.Backend] = append(orphans[r.Task.Backend], r.Task.JobHandle)
			continue
		}
		if !r.Changed {
			continue
		}
		outcome := "submitted"
		if r.Task.Status == model.StatusFailure {
			outcome = r.Task.ErrorKind
			taskTransitionsTotal.WithLabelValues(string(s.mode), r.Task.Status).Inc()
		}
		tasksDispatchedTotal.WithLabelValues(string(s.mode), outcome).Inc()
		t := r.Task
		s.broker.Publish(Event{Type: EventTask, Mode: s.mode, BatchID: t.BatchID, Task: &t})
	}
	if len(orphans) > 0 {
		s.logger.Info("stopping orphaned jobs", "backends", len(orphans))
		s.stopHandles(context.Background(), orphans)
	}
	s.poller.Kick()
}

// applyStatus feeds one status response into the registry and publishes
// the effect.
func (s *Session) applyStatus(handle string, st model.RemoteStatus) {
	a := s.reg.ApplyStatus(handle, st, s.now().UTC())
	if !a.Changed {
		return
	}

	if a.Expanded != nil {
		umbrella := a.Task
		taskTransitionsTotal.WithLabelValues(string(s.mode), model.StatusSuccess).Add(float64(len(a.Expanded)))
		s.logger.Info("umbrella task expanded",
			"task_id", umbrella.ID,
			"job_handle", handle,
			"groups", len(a.Expanded),
		)
		s.broker.Publish(Event{Type: EventExpanded, Mode: s.mode, BatchID: umbrella.BatchID, Task: &umbrella, Tasks: a.Expanded})
		return
	}

	t := a.Task
	taskTransitionsTotal.WithLabelValues(string(s.mode), t.Status).Inc()
	if t.Status == model.StatusFailure {
		s.logger.Warn("task failed", "task_id", t.ID, "subject_id", t.SubjectID, "model", t.ModelLabel, "error_kind", t.ErrorKind, "error", t.Error)
	}
	s.broker.Publish(Event{Type: EventTask, Mode: s.mode, BatchID: t.BatchID, Task: &t})
}

// expireStale fails tasks that exceeded the configured timeout.
func (s *Session) expireStale(ctx context.Context) {
	if s.cfg.TaskTimeout <= 0 {
		return
	}
	c := s.reg.ExpireOlderThan(s.cfg.TaskTimeout, s.now().UTC())
	s.publishFinalized(c)
	s.stopHandles(ctx, c.Handles)
}

func (s *Session) publishFinalized(c cancelled) {
	for i := range c.Tasks {
		t := c.Tasks[i]
		taskTransitionsTotal.WithLabelValues(string(s.mode), t.Status).Inc()
		s.broker.Publish(Event{Type: EventTask, Mode: s.mode, BatchID: t.BatchID, Task: &t})
	}
}

// refresh updates the estimator and gauges from the registry counts and
// completes the batch once nothing is left unfinished.
func (s *Session) refresh() Counts {
	c := s.reg.Counts()
	outstandingTasks.WithLabelValues(string(s.mode)).Set(float64(c.NonTerminal()))

	s.est.SetTotal(c.Total)
	s.est.Update(c.Terminal())
	snap := s.est.Snapshot()

	s.mu.Lock()
	var batchID string
	if s.batch != nil {
		batchID = s.batch.record.ID
	}
	s.mu.Unlock()
	if batchID == "" {
		return c
	}

	s.broker.Publish(Event{Type: EventProgress, Mode: s.mode, BatchID: batchID, Progress: &snap})
	if c.Total > 0 && c.NonTerminal() == 0 {
		s.complete(c)
	}
	return c
}

// complete archives the batch and signals waiters. It runs once per batch,
// and once more after each retry that reopened it.
func (s *Session) complete(c Counts) {
	s.mu.Lock()
	run := s.batch
	if run == nil || run.completed {
		s.mu.Unlock()
		return
	}
	run.completed = true
	run.record.Total = c.Total
	run.record.Succeeded = c.Succeeded
	run.record.Failed = c.Failed
	run.record.FinishedAt = s.now().UTC()
	record := run.record
	close(run.done)
	s.mu.Unlock()

	snap := s.est.Snapshot()
	s.logger.Info("batch completed",
		"batch_id", record.ID,
		"total", record.Total,
		"succeeded", record.Succeeded,
		"failed", record.Failed,
		"cancelled", record.Cancelled,
	)
	s.broker.Publish(Event{Type: EventDone, Mode: s.mode, BatchID: record.ID, Progress: &snap})

	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.store.ArchiveBatch(ctx, &record, s.reg.Snapshot()); err != nil {
		s.logger.Error("failed to archive batch", "batch_id", record.ID, "error", err)
	}
}

// Retry re-dispatches one failed task under a new placeholder handle. The
// old handle is retired so late responses for it are ignored.
func (s *Session) Retry(ctx context.Context, id string) (model.Task, error) {
	s.mu.Lock()
	run := s.batch
	s.mu.Unlock()
	if run == nil {
		return model.Task{}, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}

	t, err := s.reg.BeginRetry(id, s.now().UTC())
	if err != nil {
		return model.Task{}, err
	}

	sub, ok := run.subjects[t.SubjectID]
	if !ok {
		sub = model.Subject{ID: t.SubjectID, Kind: t.SubjectKind}
	}
	mc, ok := run.models[t.ModelConfigID]
	if !ok {
		mc = model.ModelConfig{ID: t.ModelConfigID, Label: t.ModelLabel, Provider: t.Backend}
	}

	s.mu.Lock()
	if run.completed {
		run.completed = false
		run.done = make(chan struct{})
	}
	if run.ctx.Err() != nil {
		run.ctx, run.cancel = context.WithCancel(s.base)
	}
	dctx := run.ctx
	s.mu.Unlock()

	s.logger.Info("retrying task", "task_id", t.ID, "subject_id", t.SubjectID, "model", t.ModelLabel, "attempt", t.Attempt)
	s.broker.Publish(Event{Type: EventTask, Mode: s.mode, BatchID: t.BatchID, Task: &t})

	s.dispWG.Go(func() {
		resolved := s.planner.Submit(dctx, t, sub, mc)
		s.attach([]model.Task{resolved})
	})
	return t, nil
}

// Cancel stops dispatching, fails every unfinished task with "user
// cancelled" and asks the backends to stop the live jobs. It returns the
// number of tasks cancelled.
func (s *Session) Cancel(ctx context.Context) (int, error) {
	s.mu.Lock()
	run := s.batch
	if run == nil {
		s.mu.Unlock()
		return 0, nil
	}
	run.cancel()
	c := s.reg.CancelOutstanding(s.now().UTC())
	if len(c.Tasks) > 0 {
		run.record.Cancelled = true
	}
	s.mu.Unlock()

	s.logger.Info("batch cancelled", "batch_id", run.record.ID, "tasks", len(c.Tasks))
	s.publishFinalized(c)
	s.stopHandles(ctx, c.Handles)
	s.refresh()
	return len(c.Tasks), nil
}

// stopHandles asks each backend to stop the given jobs. Errors are logged.
// Local state is already final, so the requests outlive cancellation of ctx.
func (s *Session) stopHandles(ctx context.Context, byBackend map[string][]string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	for name, handles := range byBackend {
		if len(handles) == 0 {
			continue
		}
		svc, ok := s.remotes.Lookup(name)
		if !ok {
			s.logger.Warn("cannot stop jobs: job service not registered", "backend", name, "handles", len(handles))
			continue
		}
		if err := svc.Stop(ctx, handles); err != nil {
			s.logger.Warn("failed to stop jobs", "backend", name, "handles", len(handles), "error", err)
		}
	}
}

// Wait blocks until the current batch completes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	var done chan struct{}
	if s.batch != nil {
		done = s.batch.done
	}
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the tasks, counts and progress of the session.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Mode:     s.mode,
		Tasks:    s.reg.Snapshot(),
		Counts:   s.reg.Counts(),
		Progress: s.est.Snapshot(),
	}
	s.mu.Lock()
	if s.batch != nil {
		snap.BatchID = s.batch.record.ID
		snap.Target = s.batch.record.Target
		snap.Running = !s.batch.completed
	}
	s.mu.Unlock()
	return snap
}

// Progress returns the current estimate.
func (s *Session) Progress() progress.Snapshot {
	return s.est.Snapshot()
}

// Get returns one task of the current batch.
func (s *Session) Get(id string) (model.Task, error) {
	return s.reg.Get(id)
}
