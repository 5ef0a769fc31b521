// Package orchestrator drives the plan -> validate -> execute pipeline
// for feature runs. The engine asks the planning provider for a single
// plan script, validates it, runs it in the sandbox, streams lifecycle
// events to subscribers, and persists every run at its terminal state.
//
// Pipeline failures never escape as Go errors: a planning refusal, a
// rejected script, a timeout, or a runtime fault all end as a failed
// run whose diagnostics are carried in the run record itself.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/observability"
	"github.com/jkaninda/mpango/internal/protocol"
	"github.com/jkaninda/mpango/internal/sandbox"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/mpango/internal/task"
	"github.com/jkaninda/mpango/internal/tools"
)

// ErrEmptyFeature rejects run requests without a feature description.
var ErrEmptyFeature = errors.New("feature description is required")

// persistTimeout bounds the store write for a finished run; the run
// context is already cancelled by then.
const persistTimeout = 10 * time.Second

// EngineConfig configures run admission and execution bounds.
type EngineConfig struct {
	DefaultCaller string        // Caller recorded when the request carries none. Default: "local".
	MaxTimeout    time.Duration // Upper bound for per-run timeout overrides. Default: 10m.
}

func (c EngineConfig) defaultCaller() string {
	if c.DefaultCaller != "" {
		return c.DefaultCaller
	}
	return "local"
}

func (c EngineConfig) maxTimeout() time.Duration {
	if c.MaxTimeout > 0 {
		return c.MaxTimeout
	}
	return 10 * time.Minute
}

// Engine implements RunEngine on top of a planner and a sandbox
// executor. Safe for concurrent use; each run gets its own context,
// task store, and record.
type Engine struct {
	planner  Planner
	executor sandbox.Runner
	registry *tools.Registry
	tasks    *task.Manager
	store    storage.Store
	metrics  *observability.MetricsCollector
	events   EventSink
	logger   *slog.Logger
	config   EngineConfig

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun // In-flight runs by ID.
}

// activeRun pairs an in-flight run with its cancellation function.
// The run's fields are guarded by the engine mutex until the run is
// removed from the active set.
type activeRun struct {
	run    *domain.Run
	cancel context.CancelFunc
}

// NewEngine creates a run engine with the given components.
func NewEngine(
	planner Planner,
	executor sandbox.Runner,
	registry *tools.Registry,
	tasks *task.Manager,
	logger *slog.Logger,
	config EngineConfig,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		planner:  planner,
		executor: executor,
		registry: registry,
		tasks:    tasks,
		logger:   logger,
		config:   config,
		active:   make(map[uuid.UUID]*activeRun),
	}
}

// WithStore attaches run persistence. Nil-safe: without a store,
// finished runs are discarded once they leave the active set.
func (e *Engine) WithStore(store storage.Store) *Engine {
	e.store = store
	return e
}

// WithMetrics attaches the Prometheus collector (no-op if nil).
func (e *Engine) WithMetrics(metrics *observability.MetricsCollector) *Engine {
	e.metrics = metrics
	return e
}

// WithEvents attaches the sink run events are published to (no-op if nil).
func (e *Engine) WithEvents(events EventSink) *Engine {
	e.events = events
	return e
}

// Run executes a feature request to completion and returns its summary.
// The error return is reserved for admission problems; pipeline
// failures are reported inside the summary.
func (e *Engine) Run(ctx context.Context, req *RunRequest) (*domain.RunSummary, error) {
	run, err := e.admit(req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.track(run, cancel)
	defer e.release(run, cancel)

	e.pipeline(runCtx, run, req.Timeout)
	return run.Summary(), nil
}

// Submit starts a run in the background and returns a planning-state
// snapshot. The run is detached from the request context and keeps
// going after the caller disconnects; use Cancel to stop it.
func (e *Engine) Submit(ctx context.Context, req *RunRequest) (*domain.Run, error) {
	run, err := e.admit(req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.track(run, cancel)

	e.logger.InfoContext(ctx, "run submitted",
		slog.String("run_id", run.ID.String()),
		slog.String("caller", run.Caller),
		slog.String("feature", run.Feature),
	)

	snapshot := *run
	go func() {
		defer e.release(run, cancel)
		e.pipeline(runCtx, run, req.Timeout)
	}()
	return &snapshot, nil
}

// Get returns a run by ID: in-flight runs come from the active set,
// finished runs from the store.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	e.mu.Lock()
	if ar, ok := e.active[id]; ok {
		snapshot := *ar.run
		e.mu.Unlock()
		return &snapshot, nil
	}
	e.mu.Unlock()

	if e.store == nil {
		return nil, storage.ErrNotFound
	}
	return e.store.Runs().Get(ctx, id)
}

// List returns persisted runs matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.Runs().List(ctx, filter)
}

// Cancel requests cancellation of an in-flight run. Cancelling a run
// that already finished is a no-op; an unknown ID returns
// storage.ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	ar, ok := e.active[id]
	e.mu.Unlock()

	if !ok {
		// The run may have already reached a terminal state.
		if e.store == nil {
			return storage.ErrNotFound
		}
		if _, err := e.store.Runs().Get(ctx, id); err != nil {
			return err
		}
		return nil
	}

	ar.cancel()
	e.logger.InfoContext(ctx, "run cancellation requested",
		slog.String("run_id", id.String()),
	)
	return nil
}

// admit validates a request and creates the run record.
func (e *Engine) admit(req *RunRequest) (*domain.Run, error) {
	if req == nil || strings.TrimSpace(req.Feature) == "" {
		return nil, ErrEmptyFeature
	}

	caller := req.Caller
	if caller == "" {
		caller = e.config.defaultCaller()
	}

	now := time.Now().UTC()
	return &domain.Run{
		ID:         domain.NewID(),
		Feature:    req.Feature,
		State:      domain.RunStatePlanning,
		Caller:     caller,
		Provider:   e.planner.Provider(),
		ScheduleID: req.ScheduleID,
		CreatedAt:  now,
		StartedAt:  &now,
	}, nil
}

func (e *Engine) track(run *domain.Run, cancel context.CancelFunc) {
	e.mu.Lock()
	e.active[run.ID] = &activeRun{run: run, cancel: cancel}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveRuns.Inc()
	}
}

// release frees the run context, persists the terminal record, and only
// then removes the run from the active set, so Get never sees a gap
// between the two views.
func (e *Engine) release(run *domain.Run, cancel context.CancelFunc) {
	cancel()
	e.persist(run)

	e.mu.Lock()
	delete(e.active, run.ID)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveRuns.Dec()
	}
}

// pipeline drives one run from planning to a terminal state. The run's
// fields are only ever mutated here, under the engine mutex; Get copies
// them under the same mutex.
func (e *Engine) pipeline(ctx context.Context, run *domain.Run, timeout time.Duration) {
	if e.tasks != nil {
		e.tasks.Begin(run.ID)
		defer e.tasks.End(run.ID)
	}

	e.publish(protocol.MsgRunStarted, run.ID, protocol.RunStartedPayload{
		Feature:  run.Feature,
		Caller:   run.Caller,
		Provider: run.Provider,
	})

	// Planning.
	planStart := time.Now()
	script, err := e.planner.Plan(ctx, run.Feature, e.registry.Catalog())
	planningMS := time.Since(planStart).Milliseconds()

	e.mu.Lock()
	run.PlanningMS = planningMS
	e.mu.Unlock()

	if err != nil {
		e.fail(ctx, run, "planning", err.Error())
		return
	}

	e.mu.Lock()
	run.Script = script
	run.State = domain.RunStateExecuting
	e.mu.Unlock()

	e.publish(protocol.MsgRunPlanned, run.ID, protocol.RunPlannedPayload{
		Script:     script,
		Provider:   run.Provider,
		PlanningMS: planningMS,
	})

	// Validation. A rejected script fails the run before anything
	// executes, so its tool-call log is always empty.
	if err := e.executor.Validate(script); err != nil {
		e.fail(ctx, run, "executing", err.Error())
		return
	}
	e.publish(protocol.MsgRunScriptValid, run.ID, protocol.ScriptValidPayload{
		ScriptBytes: len(script),
	})

	// Execution. The caller and run identity travel in the context so
	// registry resolution and the task tools see them.
	execCtx := tools.ContextWithCaller(task.ContextWithRun(ctx, run.ID), run.Caller)
	opts := []sandbox.ExecOption{
		sandbox.WithCallObserver(func(call tools.ToolCall) {
			e.publish(protocol.MsgRunToolCall, run.ID, protocol.RunToolCallPayload{
				ToolName:    call.ToolName,
				Arguments:   call.Arguments,
				ReturnValue: call.ReturnValue,
				Timestamp:   call.Timestamp,
			})
		}),
	}
	if d := e.clampTimeout(timeout); d > 0 {
		opts = append(opts, sandbox.WithTimeout(d))
	}

	result := e.executor.Execute(execCtx, script, opts...)

	e.mu.Lock()
	run.Result = result.Result
	run.Stdout = result.Stdout
	run.ToolCalls = result.ToolCalls
	run.Warnings = result.Warnings
	run.ExecutionMS = result.ElapsedMS
	e.mu.Unlock()

	if !result.Success {
		var errs []string
		if result.Error != "" {
			errs = []string{result.Error}
		}
		e.fail(ctx, run, "executing", errs...)
		return
	}
	e.succeed(ctx, run)
}

// succeed moves the run to its succeeded terminal state.
func (e *Engine) succeed(ctx context.Context, run *domain.Run) {
	now := time.Now().UTC()
	e.mu.Lock()
	run.State = domain.RunStateSucceeded
	run.Success = true
	run.FinishedAt = &now
	e.mu.Unlock()

	e.recordOutcome(run)
	e.publish(protocol.MsgRunCompleted, run.ID, protocol.RunCompletedPayload{
		ToolCalls:       len(run.ToolCalls),
		ExecutionTimeMS: run.PlanningMS + run.ExecutionMS,
		Result:          run.Result,
	})
	e.logger.InfoContext(ctx, "run succeeded",
		slog.String("run_id", run.ID.String()),
		slog.Int("tool_calls", len(run.ToolCalls)),
		slog.Int64("planning_ms", run.PlanningMS),
		slog.Int64("execution_ms", run.ExecutionMS),
	)
}

// fail moves the run to its failed terminal state. stage is "planning"
// or "executing".
func (e *Engine) fail(ctx context.Context, run *domain.Run, stage string, errs ...string) {
	now := time.Now().UTC()
	e.mu.Lock()
	run.State = domain.RunStateFailed
	run.Success = false
	run.Errors = errs
	run.FinishedAt = &now
	e.mu.Unlock()

	e.recordOutcome(run)
	e.publish(protocol.MsgRunFailed, run.ID, protocol.RunFailedPayload{
		Stage:  stage,
		Errors: errs,
	})
	e.logger.WarnContext(ctx, "run failed",
		slog.String("run_id", run.ID.String()),
		slog.String("stage", stage),
		slog.String("error", strings.Join(errs, "; ")),
	)
}

func (e *Engine) recordOutcome(run *domain.Run) {
	if e.metrics == nil {
		return
	}
	e.metrics.RunsTotal.WithLabelValues(string(run.State)).Inc()
	e.metrics.RunDuration.Observe(time.Since(run.CreatedAt).Seconds())
}

// persist writes the terminal run record. Store failures are logged,
// not propagated; the caller already holds the in-memory result.
func (e *Engine) persist(run *domain.Run) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.store.Runs().Create(ctx, run); err != nil {
		e.logger.Error("persisting run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends a run event to the sink. Envelope construction errors
// are logged and dropped; events never fail a run.
func (e *Engine) publish(msgType protocol.MessageType, runID uuid.UUID, payload any) {
	if e.events == nil {
		return
	}
	env, err := protocol.NewEnvelope(msgType, runID.String(), payload)
	if err != nil {
		e.logger.Warn("encoding run event",
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()),
		)
		return
	}
	e.events.Publish(env)
}

// clampTimeout bounds a per-run timeout override. Zero passes through
// so the executor default applies.
func (e *Engine) clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if limit := e.config.maxTimeout(); d > limit {
		return limit
	}
	return d
}

// Compile-time check.
var _ RunEngine = (*Engine)(nil)
