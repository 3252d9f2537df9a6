package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/seantiz/examlens/internal/dispatch"
	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/remote"
	"github.com/seantiz/examlens/internal/store"
)

const instrumentationName = "github.com/seantiz/examlens/internal/engine"

// DefaultPollInterval is the poll period when none is configured.
const DefaultPollInterval = 1500 * time.Millisecond

// Config tunes the sessions of an Engine.
type Config struct {
	PollInterval    time.Duration
	PollConcurrency int
	// TaskTimeout fails tasks outstanding for longer than this. Zero
	// disables the timeout.
	TaskTimeout time.Duration
	// Now is the clock used for task timestamps. Nil means time.Now.
	Now func() time.Time
}

// Engine owns one Session per mode and the broker their events go to.
type Engine struct {
	sessions map[model.Mode]*Session
	broker   *EventBroker
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewEngine creates an engine with a class and a student session. st may
// be nil, in which case completed batches are not archived. Start must be
// called before any session is used.
func NewEngine(cfg Config, planner *dispatch.Planner, remotes *remote.Registry, st store.Store, logger *slog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = DefaultPollConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		sessions: make(map[model.Mode]*Session),
		broker:   NewEventBroker(),
		logger:   logger,
	}
	tracer := otel.Tracer(instrumentationName)
	for _, mode := range []model.Mode{model.ModeClass, model.ModeStudent} {
		e.sessions[mode] = newSession(mode, cfg, planner, remotes, st, e.broker, logger, tracer)
	}
	return e
}

// Start launches every session's registry and poller. They run until Stop
// is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for _, s := range e.sessions {
		s.start(ctx, &e.wg)
	}
	e.logger.Info("engine started", "sessions", len(e.sessions))
}

// Stop cancels all sessions and waits for their goroutines to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	for mode, s := range e.sessions {
		s.dispWG.Wait()
		e.broker.Close(mode)
	}
	e.logger.Info("engine stopped")
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Session returns the session of one mode.
func (e *Engine) Session(mode model.Mode) (*Session, error) {
	s, ok := e.sessions[mode]
	if !ok {
		return nil, fmt.Errorf("%q: %w", mode, ErrUnknownMode)
	}
	return s, nil
}
