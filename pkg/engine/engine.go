// Package engine implements the instance runner and the approval gateway:
// the state machine that drives workflow instances from creation to a
// terminal state.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/directory"
	"github.com/dukex/flowgate/pkg/lock"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/dukex/flowgate/pkg/watch"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds the collaborators of an Engine. Persistence, Registry and
// Recorder are required; the rest default to in-process implementations.
type Config struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Recorder    *audit.Recorder
	Locker      lock.Locker
	Hub         *watch.Hub
	Directory   directory.Directory
	Tracer      trace.Tracer
	Clock       func() time.Time
}

type Engine struct {
	logger    *slog.Logger
	store     persistence.Persistence
	registry  *registry.Registry
	recorder  *audit.Recorder
	locker    lock.Locker
	hub       *watch.Hub
	directory directory.Directory
	tracer    trace.Tracer
	now       func() time.Time

	baseCtx context.Context

	mu       sync.Mutex
	inflight map[string]map[string]context.CancelCauseFunc
	wg       sync.WaitGroup
}

func New(config Config) *Engine {
	e := &Engine{
		logger:    config.Logger,
		store:     config.Persistence,
		registry:  config.Registry,
		recorder:  config.Recorder,
		locker:    config.Locker,
		hub:       config.Hub,
		directory: config.Directory,
		tracer:    config.Tracer,
		now:       config.Clock,
		baseCtx:   context.Background(),
		inflight:  make(map[string]map[string]context.CancelCauseFunc),
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.logger = e.logger.With("module", "engine")

	if e.locker == nil {
		e.locker = lock.NewLocal()
	}

	if e.hub == nil {
		e.hub = watch.NewHub()
	}

	if e.directory == nil {
		e.directory = directory.NewStatic()
	}

	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("flowgate")
	}

	if e.now == nil {
		e.now = time.Now
	}

	return e
}

// Start binds the engine to ctx and resumes the instances left active by a
// previous process. Executors are cancelled when ctx is done; their results
// are then dropped and the steps are re-dispatched by the next Start.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx = ctx

	return e.Recover(ctx)
}

// Wait blocks until every dispatched executor goroutine returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Hub returns the watch hub notified on every committed transition.
func (e *Engine) Hub() *watch.Hub {
	return e.hub
}

// track registers the cancel function of a running step. It reports false
// when the step is already running in this process.
func (e *Engine) track(instanceID, stepID string, cancel context.CancelCauseFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps, ok := e.inflight[instanceID]
	if !ok {
		steps = make(map[string]context.CancelCauseFunc)
		e.inflight[instanceID] = steps
	}

	if _, running := steps[stepID]; running {
		return false
	}

	steps[stepID] = cancel

	return true
}

func (e *Engine) untrack(instanceID, stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps, ok := e.inflight[instanceID]
	if !ok {
		return
	}

	delete(steps, stepID)

	if len(steps) == 0 {
		delete(e.inflight, instanceID)
	}
}

func (e *Engine) running(instanceID, stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.inflight[instanceID][stepID]

	return ok
}

// signalInflight cancels the executors running for an instance with cause.
func (e *Engine) signalInflight(instanceID string, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for stepID, cancel := range e.inflight[instanceID] {
		e.logger.Debug("Signalling executor to stop", "instance_id", instanceID, "step_id", stepID)
		cancel(cause)
	}
}

// Inflight returns the number of executors running in this process.
func (e *Engine) Inflight() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, steps := range e.inflight {
		count += len(steps)
	}

	return count
}
