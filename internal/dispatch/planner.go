// Package dispatch turns resolved subjects and model configurations into
// remote analysis jobs.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
)

const instrumentationName = "github.com/seantiz/examlens/internal/dispatch"

// Batch is a planned set of tasks for one session run.
type Batch struct {
	ID    string
	Mode  model.Mode
	Tasks []model.Task
}

// Sink receives the tasks of one subject once all its submits returned.
type Sink func(tasks []model.Task)

// Planner builds payloads and submits them to the remote job services.
type Planner struct {
	registry  *remote.Registry
	overrides OverrideSource
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewPlanner returns a Planner submitting through reg. overrides may be nil.
func NewPlanner(reg *remote.Registry, overrides OverrideSource, logger *slog.Logger) *Planner {
	return &Planner{
		registry:  reg,
		overrides: overrides,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
}

// Plan creates one pending placeholder task per (subject, model) pair in
// subject-major order.
func (p *Planner) Plan(mode model.Mode, subjects []model.Subject, models []model.ModelConfig) *Batch {
	b := &Batch{ID: model.NewID(), Mode: mode}
	now := p.now().UTC()
	for _, s := range subjects {
		for _, mc := range models {
			b.Tasks = append(b.Tasks, model.Task{
				ID:            model.NewID(),
				BatchID:       b.ID,
				Mode:          mode,
				SubjectID:     s.ID,
				SubjectKind:   s.Kind,
				ModelConfigID: mc.ID,
				ModelLabel:    mc.Label,
				JobHandle:     model.NewPlaceholderHandle(),
				Status:        model.StatusPending,
				StartedAt:     now,
			})
		}
	}
	return b
}

// Dispatch submits the batch one subject at a time. All models of a
// subject are submitted concurrently and awaited before the next subject
// starts; sink receives each subject's tasks as soon as they resolve.
// Cancelling ctx stops before the next subject. The returned slice holds
// every task that was resolved.
func (p *Planner) Dispatch(ctx context.Context, b *Batch, subjects []model.Subject, models []model.ModelConfig, sink Sink) []model.Task {
	byPair := make(map[string]int, len(b.Tasks))
	for i := range b.Tasks {
		byPair[b.Tasks[i].PairKey()] = i
	}

	var out []model.Task
	for _, s := range subjects {
		if ctx.Err() != nil {
			p.logger.Info("dispatch stopped", "batch_id", b.ID, "mode", b.Mode, "next_subject", s.ID)
			break
		}

		var planned []model.Task
		var configs []model.ModelConfig
		for _, mc := range models {
			i, ok := byPair[model.PairKey(s.ID, mc.ID)]
			if !ok {
				continue
			}
			planned = append(planned, b.Tasks[i])
			configs = append(configs, mc)
		}

		resolved := p.dispatchSubject(ctx, b, s, planned, configs)
		out = append(out, resolved...)
		if sink != nil {
			sink(resolved)
		}
	}
	return out
}

func (p *Planner) dispatchSubject(ctx context.Context, b *Batch, s model.Subject, tasks []model.Task, configs []model.ModelConfig) []model.Task {
	ctx, span := p.tracer.Start(ctx, "dispatch.subject", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.String("mode", string(b.Mode)),
		attribute.String("subject.id", s.ID),
		attribute.Int("models", len(configs)),
	))
	defer span.End()

	resolved := make([]model.Task, len(tasks))
	var g errgroup.Group
	for i := range tasks {
		g.Go(func() error {
			resolved[i] = p.Submit(ctx, tasks[i], s, configs[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, t := range resolved {
		if t.Status == model.StatusFailure {
			failed++
		}
	}
	if failed > 0 {
		span.SetAttributes(attribute.Int("failed", failed))
		span.SetStatus(codes.Error, "dispatch failures")
	}
	return resolved
}

// Submit sends one task and returns it with its real handle, or already
// failed with kind dispatch when the submit was rejected.
func (p *Planner) Submit(ctx context.Context, t model.Task, s model.Subject, mc model.ModelConfig) model.Task {
	name, svc, err := p.registry.Resolve(mc.Provider)
	if err != nil {
		p.logger.Error("resolve job service", "task_id", t.ID, "provider", mc.Provider, "error", err)
		t.Fail(model.ErrorKindDispatch, err.Error(), p.now().UTC())
		return t
	}
	t.Backend = name

	handle, err := svc.Submit(ctx, p.buildPayload(ctx, t, s, mc))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			t.Fail(model.ErrorKindCancelled, model.MsgUserCancelled, p.now().UTC())
			return t
		}
		p.logger.Warn("dispatch failed",
			"task_id", t.ID,
			"subject_id", s.ID,
			"model", mc.Label,
			"backend", name,
			"error", err,
		)
		t.Fail(model.ErrorKindDispatch, err.Error(), p.now().UTC())
		return t
	}

	t.JobHandle = handle
	p.logger.Debug("dispatched", "task_id", t.ID, "subject_id", s.ID, "model", mc.Label, "job_handle", handle)
	return t
}
