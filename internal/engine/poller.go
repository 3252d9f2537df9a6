package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
)

// DefaultPollConcurrency bounds per-handle status queries against one
// backend that reports no limit of its own.
const DefaultPollConcurrency = 8

// statusResponse is one status answer in arrival order.
type statusResponse struct {
	handle string
	status model.RemoteStatus
}

// poller drives one session's status loop. It ticks on a fixed interval
// while there is outstanding work and goes idle once a tick observes none.
type poller struct {
	session     *Session
	remotes     *remote.Registry
	interval    time.Duration
	concurrency int
	kick        chan struct{}
	logger      *slog.Logger
	tracer      trace.Tracer
}

func newPoller(s *Session, remotes *remote.Registry, interval time.Duration, concurrency int) *poller {
	if concurrency <= 0 {
		concurrency = DefaultPollConcurrency
	}
	return &poller{
		session:     s,
		remotes:     remotes,
		interval:    interval,
		concurrency: concurrency,
		kick:        make(chan struct{}, 1),
		logger:      s.logger,
		tracer:      s.tracer,
	}
}

// Kick wakes an idle poller. It never blocks.
func (p *poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// run ticks until ctx is cancelled.
func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	active := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			active = true
		case <-ticker.C:
			if !active {
				continue
			}
			if idle := p.tick(ctx); idle {
				active = false
			}
		}
	}
}

// tick queries every outstanding handle once, applies the responses in
// arrival order and reports whether the session has no unfinished tasks.
func (p *poller) tick(ctx context.Context) bool {
	start := time.Now()
	defer func() { pollTickDuration.Observe(time.Since(start).Seconds()) }()

	outstanding := p.session.reg.Outstanding()
	ctx, span := p.tracer.Start(ctx, "poll.tick", trace.WithAttributes(
		attribute.String("mode", string(p.session.mode)),
		attribute.Int("outstanding", len(outstanding)),
	))
	defer span.End()

	if len(outstanding) > 0 {
		for _, r := range p.query(ctx, outstanding) {
			p.session.applyStatus(r.handle, r.status)
		}
	}
	p.session.expireStale(ctx)

	return p.session.refresh().NonTerminal() == 0
}

// query fetches the status of every task, batching per backend where the
// backend supports it. Failed queries are logged, counted and skipped.
func (p *poller) query(ctx context.Context, tasks []model.Task) []statusResponse {
	byBackend := make(map[string][]string)
	for _, t := range tasks {
		byBackend[t.Backend] = append(byBackend[t.Backend], t.JobHandle)
	}
	backends := make([]string, 0, len(byBackend))
	for name := range byBackend {
		backends = append(backends, name)
	}
	sort.Strings(backends)

	var mu sync.Mutex
	var out []statusResponse
	record := func(h string, st model.RemoteStatus) {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, statusResponse{handle: h, status: st})
	}

	var g errgroup.Group
	for _, name := range backends {
		handles := byBackend[name]
		svc, ok := p.remotes.Lookup(name)
		if !ok {
			p.logger.Warn("poll: job service not registered", "backend", name, "handles", len(handles))
			pollErrorsTotal.WithLabelValues(name).Inc()
			continue
		}

		caps := svc.Capabilities()
		if bs, ok := svc.(remote.BatchStatusService); ok && caps.Batch {
			g.Go(func() error {
				statuses, err := bs.GetStatusBatch(ctx, handles)
				if err != nil {
					p.transient(name, "", err)
					return nil
				}
				for _, h := range handles {
					if st, ok := statuses[h]; ok {
						record(h, st)
					}
				}
				return nil
			})
			continue
		}

		limit := caps.MaxConcurrency
		if limit <= 0 {
			limit = p.concurrency
		}
		g.Go(func() error {
			var hg errgroup.Group
			hg.SetLimit(limit)
			for _, h := range handles {
				hg.Go(func() error {
					st, err := svc.GetStatus(ctx, h)
					if err != nil {
						p.transient(name, h, err)
						return nil
					}
					record(h, st)
					return nil
				})
			}
			return hg.Wait()
		})
	}
	_ = g.Wait()
	return out
}

func (p *poller) transient(backend, handle string, err error) {
	pollErrorsTotal.WithLabelValues(backend).Inc()
	p.logger.Warn("poll: status query failed",
		"mode", p.session.mode,
		"backend", backend,
		"job_handle", handle,
		"error", err,
	)
}
