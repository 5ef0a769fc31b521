package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/observability"
	"github.com/jkaninda/mpango/internal/protocol"
	"github.com/jkaninda/mpango/internal/sandbox"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/mpango/internal/task"
	"github.com/jkaninda/mpango/internal/tools"
	"github.com/jkaninda/mpango/internal/tools/taskops"
)

// taskPlanScript is the two-call plan the scripted planner returns in
// the happy-path tests: assign one task, execute it, surface its
// deliverables as the run result.
const taskPlanScript = `assign_task(task_id="TASK-001", description="Summarize the weekly metrics", assigned_to="research-agent")
record = execute_task(task_id="TASK-001")
result = record["deliverables"]
`

// newTestEngine wires a real executor and the task tools behind the
// given planner, so runs exercise the full pipeline.
func newTestEngine(t *testing.T, p Planner, config EngineConfig) (*Engine, *captureSink, *memStore) {
	t.Helper()
	reg := tools.NewRegistry()
	manager := task.NewManager()
	if err := taskops.New(manager).Register(reg); err != nil {
		t.Fatalf("registering task tools: %v", err)
	}
	sink := &captureSink{}
	store := newMemStore()
	engine := NewEngine(p, sandbox.NewExecutor(reg, sandbox.Config{}, nil), reg, manager, nil, config).
		WithStore(store).
		WithEvents(sink)
	return engine, sink, store
}

// --- EngineConfig ---

func TestEngineConfig_Defaults(t *testing.T) {
	cfg := EngineConfig{}
	if got := cfg.defaultCaller(); got != "local" {
		t.Errorf("defaultCaller() = %q, want local", got)
	}
	if got := cfg.maxTimeout(); got != 10*time.Minute {
		t.Errorf("maxTimeout() = %v, want 10m", got)
	}

	cfg = EngineConfig{DefaultCaller: "api", MaxTimeout: time.Minute}
	if got := cfg.defaultCaller(); got != "api" {
		t.Errorf("defaultCaller() = %q, want api", got)
	}
	if got := cfg.maxTimeout(); got != time.Minute {
		t.Errorf("maxTimeout() = %v, want 1m", got)
	}
}

// --- Run ---

func TestEngine_Run_EndToEnd(t *testing.T) {
	engine, sink, store := newTestEngine(t, &stubPlanner{script: taskPlanScript}, EngineConfig{})

	summary, err := engine.Run(context.Background(), &RunRequest{
		Feature: "Create a task for the research agent and complete it",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !summary.Success || summary.State != domain.RunStateSucceeded {
		t.Fatalf("state = %q success = %v, want succeeded", summary.State, summary.Success)
	}
	if summary.ToolCalls != 2 {
		t.Errorf("tool calls = %d, want 2", summary.ToolCalls)
	}
	deliverables, ok := summary.Result.([]any)
	if !ok || len(deliverables) != 1 {
		t.Fatalf("result = %#v, want one deliverable", summary.Result)
	}
	if deliverables[0] != "completed: Summarize the weekly metrics" {
		t.Errorf("deliverable = %v", deliverables[0])
	}

	// The terminal record is persisted.
	stored, err := store.Get(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("stored run: %v", err)
	}
	if stored.State != domain.RunStateSucceeded || stored.Script != taskPlanScript {
		t.Errorf("stored state = %q script %q", stored.State, stored.Script)
	}
	if stored.Caller != "local" || stored.Provider != "scripted" {
		t.Errorf("caller = %q provider = %q", stored.Caller, stored.Provider)
	}
	if len(stored.ToolCalls) != 2 || stored.ToolCalls[0].ToolName != "assign_task" || stored.ToolCalls[1].ToolName != "execute_task" {
		t.Errorf("stored tool calls = %+v", stored.ToolCalls)
	}
	if stored.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	// Event order mirrors the pipeline stages.
	want := []protocol.MessageType{
		protocol.MsgRunStarted,
		protocol.MsgRunPlanned,
		protocol.MsgRunScriptValid,
		protocol.MsgRunToolCall,
		protocol.MsgRunToolCall,
		protocol.MsgRunCompleted,
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, env := range sink.all() {
		if env.RunID != summary.ID.String() {
			t.Errorf("event %s run_id = %q, want %s", env.Type, env.RunID, summary.ID)
		}
	}
}

func TestEngine_Run_EmptyFeature(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubPlanner{script: "result = 1\n"}, EngineConfig{})

	if _, err := engine.Run(context.Background(), &RunRequest{Feature: "   "}); !errors.Is(err, ErrEmptyFeature) {
		t.Errorf("error = %v, want ErrEmptyFeature", err)
	}
	if _, err := engine.Run(context.Background(), nil); !errors.Is(err, ErrEmptyFeature) {
		t.Errorf("nil request error = %v, want ErrEmptyFeature", err)
	}
}

func TestEngine_Run_PlanningFailure(t *testing.T) {
	engine, sink, store := newTestEngine(t, &stubPlanner{err: errors.New("provider overloaded: 503")}, EngineConfig{})

	summary, err := engine.Run(context.Background(), &RunRequest{Feature: "do something"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Success || summary.State != domain.RunStateFailed {
		t.Fatalf("state = %q, want failed", summary.State)
	}
	if summary.ToolCalls != 0 {
		t.Errorf("tool calls = %d, want 0", summary.ToolCalls)
	}
	if len(summary.Errors) != 1 || summary.Errors[0] != "provider overloaded: 503" {
		t.Errorf("errors = %v", summary.Errors)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != protocol.MsgRunStarted || got[1] != protocol.MsgRunFailed {
		t.Errorf("events = %v, want [run.started run.failed]", got)
	}
	var payload protocol.RunFailedPayload
	if err := sink.all()[1].Decode(&payload); err != nil {
		t.Fatalf("decoding failure payload: %v", err)
	}
	if payload.Stage != "planning" {
		t.Errorf("stage = %q, want planning", payload.Stage)
	}

	stored, err := store.Get(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("stored run: %v", err)
	}
	if stored.State != domain.RunStateFailed {
		t.Errorf("stored state = %q, want failed", stored.State)
	}
}

func TestEngine_Run_ForbiddenScriptFailsWithoutExecuting(t *testing.T) {
	engine, sink, _ := newTestEngine(t, &stubPlanner{script: "import os\nresult = 1\n"}, EngineConfig{})

	summary, err := engine.Run(context.Background(), &RunRequest{Feature: "read a file"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Success || summary.State != domain.RunStateFailed {
		t.Fatalf("state = %q, want failed", summary.State)
	}
	if summary.ToolCalls != 0 {
		t.Errorf("tool calls = %d, want 0", summary.ToolCalls)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "script rejected") {
		t.Errorf("errors = %v, want validation diagnostic", summary.Errors)
	}

	// The run never reaches script_valid or tool_call events.
	got := sink.types()
	if len(got) != 3 || got[2] != protocol.MsgRunFailed {
		t.Errorf("events = %v, want [run.started run.planned run.failed]", got)
	}
}

func TestEngine_Run_RuntimeFailureKeepsCommittedCalls(t *testing.T) {
	script := `assign_task(task_id="T1", description="first step")
execute_task(task_id="missing")
result = "unreachable"
`
	engine, sink, _ := newTestEngine(t, &stubPlanner{script: script}, EngineConfig{})

	summary, err := engine.Run(context.Background(), &RunRequest{Feature: "run a broken plan"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Success {
		t.Fatal("expected failure")
	}
	if summary.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1 committed call", summary.ToolCalls)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "runtime error") {
		t.Errorf("errors = %v, want runtime diagnostic", summary.Errors)
	}

	toolEvents := 0
	for _, typ := range sink.types() {
		if typ == protocol.MsgRunToolCall {
			toolEvents++
		}
	}
	if toolEvents != 1 {
		t.Errorf("tool call events = %d, want 1", toolEvents)
	}
}

func TestEngine_Run_TimeoutClamped(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		&stubPlanner{script: "while True:\n    x = 1\n"},
		EngineConfig{MaxTimeout: 100 * time.Millisecond},
	)

	start := time.Now()
	summary, err := engine.Run(context.Background(), &RunRequest{
		Feature: "spin forever",
		Timeout: time.Hour, // Clamped to the configured maximum.
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %v, clamp did not apply", elapsed)
	}
	if summary.Success || summary.State != domain.RunStateFailed {
		t.Fatalf("state = %q, want failed", summary.State)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "timed out") {
		t.Errorf("errors = %v, want timeout diagnostic", summary.Errors)
	}
	if !strings.Contains(summary.Errors[0], "100ms") {
		t.Errorf("errors = %v, want the clamped limit in the message", summary.Errors)
	}
}

func TestEngine_Run_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	engine, _, _ := newTestEngine(t, &stubPlanner{script: "result = 1\n"}, EngineConfig{})
	engine.WithMetrics(metrics)

	if _, err := engine.Run(context.Background(), &RunRequest{Feature: "compute"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := metricValue(t, metrics.Registry, "mpango_runs_total", map[string]string{"state": "succeeded"}); got != 1 {
		t.Errorf("runs_total{succeeded} = %v, want 1", got)
	}
	if got := metricValue(t, metrics.Registry, "mpango_active_runs", nil); got != 0 {
		t.Errorf("active_runs = %v, want 0 after completion", got)
	}
}

// --- Submit / Get / Cancel ---

func TestEngine_Submit_DetachesFromRequestContext(t *testing.T) {
	planner := newGatePlanner("result = 42\n")
	engine, _, store := newTestEngine(t, planner, EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	snapshot, err := engine.Submit(ctx, &RunRequest{Feature: "compute the answer"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snapshot.State != domain.RunStatePlanning {
		t.Errorf("snapshot state = %q, want planning", snapshot.State)
	}

	// In-flight runs are visible before anything is persisted.
	<-planner.entered
	got, err := engine.Get(context.Background(), snapshot.ID)
	if err != nil {
		t.Fatalf("get in-flight: %v", err)
	}
	if got.State.Terminal() {
		t.Errorf("in-flight state = %q, want non-terminal", got.State)
	}

	// Cancelling the submit context must not stop the run.
	cancel()
	close(planner.release)

	final := waitForTerminal(t, engine, snapshot.ID)
	if final.State != domain.RunStateSucceeded {
		t.Fatalf("final state = %q (errors %v), want succeeded", final.State, final.Errors)
	}
	if final.Result != int64(42) {
		t.Errorf("result = %v, want 42", final.Result)
	}
	if n := store.count(); n != 1 {
		t.Errorf("persisted runs = %d, want 1", n)
	}
}

func TestEngine_Cancel(t *testing.T) {
	planner := newGatePlanner("result = 1\n") // Never released: Plan blocks until cancelled.
	engine, _, _ := newTestEngine(t, planner, EngineConfig{})

	snapshot, err := engine.Submit(context.Background(), &RunRequest{Feature: "long running"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-planner.entered

	if err := engine.Cancel(context.Background(), snapshot.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitForTerminal(t, engine, snapshot.ID)
	if final.State != domain.RunStateFailed {
		t.Fatalf("state = %q, want failed", final.State)
	}
	if len(final.Errors) == 0 || !strings.Contains(final.Errors[0], "context canceled") {
		t.Errorf("errors = %v, want cancellation diagnostic", final.Errors)
	}

	// Cancelling a finished run is a no-op; an unknown ID is not found.
	if err := engine.Cancel(context.Background(), snapshot.ID); err != nil {
		t.Errorf("cancel after finish: %v", err)
	}
	if err := engine.Cancel(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cancel unknown = %v, want ErrNotFound", err)
	}
}

func TestEngine_GetAndList_WithoutStore(t *testing.T) {
	reg := tools.NewRegistry()
	engine := NewEngine(
		&stubPlanner{script: "result = 1\n"},
		sandbox.NewExecutor(reg, sandbox.Config{}, nil),
		reg, task.NewManager(), nil, EngineConfig{},
	)

	if _, err := engine.Get(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get = %v, want ErrNotFound", err)
	}
	runs, err := engine.List(context.Background(), storage.RunFilter{})
	if err != nil || runs != nil {
		t.Errorf("list = %v, %v, want empty", runs, err)
	}
}

// waitForTerminal polls Get until the run reaches a terminal state.
func waitForTerminal(t *testing.T, engine *Engine, id uuid.UUID) *domain.Run {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, err := engine.Get(context.Background(), id)
		if err == nil && run.State.Terminal() {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s did not reach a terminal state", id)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// metricValue reads a counter or gauge from the registry, matching on
// family name and a label subset. Missing series read as zero.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			have := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range labels {
				if have[k] != v {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

// --- Mocks ---

// stubPlanner returns a fixed script or error.
type stubPlanner struct {
	script string
	err    error
}

func (p *stubPlanner) Plan(context.Context, string, []tools.Spec) (string, error) {
	return p.script, p.err
}

func (p *stubPlanner) Provider() string { return "scripted" }

// gatePlanner blocks inside Plan until released or cancelled, so tests
// can observe a run mid-flight.
type gatePlanner struct {
	script  string
	entered chan struct{}
	release chan struct{}
}

func newGatePlanner(script string) *gatePlanner {
	return &gatePlanner{
		script:  script,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gatePlanner) Plan(ctx context.Context, _ string, _ []tools.Spec) (string, error) {
	close(p.entered)
	select {
	case <-p.release:
		return p.script, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *gatePlanner) Provider() string { return "scripted" }

// captureSink records published envelopes in order.
type captureSink struct {
	mu   sync.Mutex
	envs []*protocol.Envelope
}

func (s *captureSink) Publish(env *protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *captureSink) all() []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.Envelope(nil), s.envs...)
}

func (s *captureSink) types() []protocol.MessageType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.MessageType, 0, len(s.envs))
	for _, env := range s.envs {
		out = append(out, env.Type)
	}
	return out
}

// memStore is an in-memory storage.Store covering the engine's needs.
type memStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[uuid.UUID]domain.Run)}
}

func (s *memStore) Runs() storage.RunStore                   { return s }
func (s *memStore) ScheduledRuns() storage.ScheduledRunStore { return nil }
func (s *memStore) Migrate(context.Context) error            { return nil }
func (s *memStore) Close() error                             { return nil }
func (s *memStore) Ping(context.Context) error               { return nil }
func (s *memStore) Driver() string                           { return "memory" }

func (s *memStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *memStore) Update(_ context.Context, run *domain.Run) error {
	return s.Create(context.Background(), run)
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &run, nil
}

func (s *memStore) List(_ context.Context, _ storage.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

var _ storage.Store = (*memStore)(nil)
