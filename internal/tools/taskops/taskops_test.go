package taskops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/sandbox"
	"github.com/jkaninda/mpango/internal/task"
	"github.com/jkaninda/mpango/internal/tools"
)

func TestToolset_RegisterAll(t *testing.T) {
	ts := New(task.NewManager())
	reg := tools.NewRegistry()
	if err := ts.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	want := []string{
		"assign_task", "execute_task", "parallel_execute", "get_task_status",
		"resolve_blocker", "aggregate_results", "get_all_tasks",
	}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("got %d tools, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("position %d: got %s, want %s", i, got[i], name)
		}
	}
	for _, spec := range reg.Catalog() {
		if spec.Description == "" {
			t.Errorf("tool %s has no description for the catalog", spec.Name)
		}
	}
}

func TestToolset_AllowedCallersPropagate(t *testing.T) {
	ts := New(task.NewManager(), WithAllowedCallers("orchestrator"))
	for _, tool := range ts.Tools() {
		callers := tool.AllowedCallers()
		if len(callers) != 1 || callers[0] != "orchestrator" {
			t.Errorf("tool %s: got callers %v, want [orchestrator]", tool.Name(), callers)
		}
	}
}

func TestAssignTask(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	out, err := callTool(t, ts, "assign_task", ctx, map[string]any{
		"task_id":      "TASK-001",
		"description":  "draft the report",
		"assigned_to":  "worker-A",
		"dependencies": []any{"TASK-000"},
	})
	if err != nil {
		t.Fatalf("assign_task failed: %v", err)
	}
	rec := out.(map[string]any)
	if rec["status"] != "not_started" {
		t.Errorf("got status %v, want not_started", rec["status"])
	}
	if rec["assigned_to"] != "worker-A" {
		t.Errorf("got assigned_to %v, want worker-A", rec["assigned_to"])
	}
	deps := rec["dependencies"].([]any)
	if len(deps) != 1 || deps[0] != "TASK-000" {
		t.Errorf("got dependencies %v, want [TASK-000]", deps)
	}
}

func TestAssignTask_MissingArguments(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	if _, err := callTool(t, ts, "assign_task", ctx, map[string]any{"task_id": "TASK-001"}); err == nil {
		t.Error("assign_task without description should fail")
	}
	if _, err := callTool(t, ts, "assign_task", ctx, map[string]any{"description": "x"}); err == nil {
		t.Error("assign_task without task_id should fail")
	}
}

func TestExecuteTask_CompletesWithDeliverable(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": "TASK-001", "description": "ship it"})
	out, err := callTool(t, ts, "execute_task", ctx, map[string]any{"task_id": "TASK-001"})
	if err != nil {
		t.Fatalf("execute_task failed: %v", err)
	}
	rec := out.(map[string]any)
	if rec["status"] != "completed" {
		t.Errorf("got status %v, want completed", rec["status"])
	}
	deliverables := rec["deliverables"].([]any)
	if len(deliverables) != 1 || deliverables[0] != "completed: ship it" {
		t.Errorf("got deliverables %v, want default worker acknowledgement", deliverables)
	}
}

func TestExecuteTask_WorkerFailureBlocksTask(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr, WithWorker(WorkerFunc(func(context.Context, task.Task) (string, error) {
		return "", errors.New("upstream unavailable")
	})))
	ctx := newRunContext(t, mgr)

	mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": "TASK-001", "description": "call the api"})
	out, err := callTool(t, ts, "execute_task", ctx, map[string]any{"task_id": "TASK-001"})
	if err != nil {
		t.Fatalf("worker failure should block, not error: %v", err)
	}
	rec := out.(map[string]any)
	if rec["status"] != "blocked" {
		t.Errorf("got status %v, want blocked", rec["status"])
	}
	if rec["blocked_reason"] != "upstream unavailable" {
		t.Errorf("got blocked_reason %v, want worker error text", rec["blocked_reason"])
	}
}

func TestExecuteTask_UnknownTask(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	_, err := callTool(t, ts, "execute_task", ctx, map[string]any{"task_id": "TASK-404"})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestParallelExecute_MappingKeys(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	for _, id := range []string{"T1", "T2", "T3"} {
		mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": id, "description": "work " + id})
	}
	out, err := callTool(t, ts, "parallel_execute", ctx, map[string]any{
		"task_ids": []any{"T1", "T2", "T3"},
	})
	if err != nil {
		t.Fatalf("parallel_execute failed: %v", err)
	}
	mapping := out.(map[string]any)
	if len(mapping) != 3 {
		t.Fatalf("got %d keys, want 3", len(mapping))
	}
	for _, id := range []string{"T1", "T2", "T3"} {
		rec, ok := mapping[id].(map[string]any)
		if !ok {
			t.Fatalf("mapping missing key %s", id)
		}
		if rec["status"] != "completed" {
			t.Errorf("task %s: got status %v, want completed", id, rec["status"])
		}
	}
}

func TestParallelExecute_WorkersRunConcurrently(t *testing.T) {
	mgr := task.NewManager()
	started := make(chan string, 2)
	release := make(chan struct{})
	ts := New(mgr, WithWorker(WorkerFunc(func(ctx context.Context, tk task.Task) (string, error) {
		started <- tk.TaskID
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})))
	ctx := newRunContext(t, mgr)
	for _, id := range []string{"T1", "T2"} {
		mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": id, "description": "work"})
	}

	type parallelOut struct {
		v   any
		err error
	}
	done := make(chan parallelOut, 1)
	go func() {
		v, err := callToolNoHelper(ts, "parallel_execute", ctx, map[string]any{"task_ids": []any{"T1", "T2"}})
		done <- parallelOut{v, err}
	}()

	// Both workers must be in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not run concurrently")
		}
	}
	close(release)

	out := <-done
	if out.err != nil {
		t.Fatalf("parallel_execute failed: %v", out.err)
	}
	if mapping := out.v.(map[string]any); len(mapping) != 2 {
		t.Errorf("got %d keys, want 2", len(mapping))
	}
}

func TestParallelExecute_FailureCancelsSiblings(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr, WithWorker(WorkerFunc(func(ctx context.Context, tk task.Task) (string, error) {
		// Runs until the group cancels it.
		<-ctx.Done()
		return "", ctx.Err()
	})))
	ctx := newRunContext(t, mgr)
	mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": "T1", "description": "long work"})

	_, err := callTool(t, ts, "parallel_execute", ctx, map[string]any{"task_ids": []any{"T1", "TASK-404"}})
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound from the failing sibling", err)
	}

	// The canceled sibling was started but never finished; effects are
	// partial by contract.
	store, err := mgr.StoreFromContext(ctx)
	if err != nil {
		t.Fatalf("StoreFromContext failed: %v", err)
	}
	got, err := store.Get("T1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Errorf("got status %s, want %s after cancellation", got.Status, task.StatusInProgress)
	}
}

func TestResolveBlocker(t *testing.T) {
	mgr := task.NewManager()
	fail := true
	var mu sync.Mutex
	ts := New(mgr, WithWorker(WorkerFunc(func(_ context.Context, tk task.Task) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return "", errors.New("missing credentials")
		}
		return "report delivered", nil
	})))
	ctx := newRunContext(t, mgr)

	mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": "TASK-001", "description": "fetch data"})
	mustCall(t, ts, "execute_task", ctx, map[string]any{"task_id": "TASK-001"})

	out, err := callTool(t, ts, "resolve_blocker", ctx, map[string]any{
		"task_id":    "TASK-001",
		"resolution": "credentials granted",
	})
	if err != nil {
		t.Fatalf("resolve_blocker failed: %v", err)
	}
	if rec := out.(map[string]any); rec["status"] != "in_progress" {
		t.Errorf("got status %v, want in_progress", rec["status"])
	}

	out, err = callTool(t, ts, "execute_task", ctx, map[string]any{"task_id": "TASK-001"})
	if err != nil {
		t.Fatalf("re-execute failed: %v", err)
	}
	rec := out.(map[string]any)
	if rec["status"] != "completed" {
		t.Errorf("got status %v, want completed after resolution", rec["status"])
	}
}

func TestAggregateResults(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	for _, id := range []string{"T1", "T2", "T3"} {
		mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": id, "description": "work " + id})
	}
	mustCall(t, ts, "execute_task", ctx, map[string]any{"task_id": "T1"})
	mustCall(t, ts, "execute_task", ctx, map[string]any{"task_id": "T2"})

	out, err := callTool(t, ts, "aggregate_results", ctx, map[string]any{})
	if err != nil {
		t.Fatalf("aggregate_results failed: %v", err)
	}
	agg := out.(map[string]any)
	if agg["total"] != int64(3) || agg["completed"] != int64(2) {
		t.Errorf("got total=%v completed=%v, want 3 and 2", agg["total"], agg["completed"])
	}
	if agg["summary"] != "2/3 tasks completed" {
		t.Errorf("got summary %v", agg["summary"])
	}
	if deliverables := agg["deliverables"].([]any); len(deliverables) != 2 {
		t.Errorf("got %d deliverables, want 2", len(deliverables))
	}

	out, err = callTool(t, ts, "aggregate_results", ctx, map[string]any{"task_ids": []any{"T1"}})
	if err != nil {
		t.Fatalf("restricted aggregate failed: %v", err)
	}
	if agg := out.(map[string]any); agg["total"] != int64(1) || agg["completed"] != int64(1) {
		t.Errorf("got %v, want total=1 completed=1", agg)
	}

	if _, err := callTool(t, ts, "aggregate_results", ctx, map[string]any{"task_ids": []any{"T9"}}); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for unknown id", err)
	}
}

func TestGetAllTasks_AssignmentOrder(t *testing.T) {
	mgr := task.NewManager()
	ts := New(mgr)
	ctx := newRunContext(t, mgr)

	for _, id := range []string{"T3", "T1", "T2"} {
		mustCall(t, ts, "assign_task", ctx, map[string]any{"task_id": id, "description": "work"})
	}
	out, err := callTool(t, ts, "get_all_tasks", ctx, map[string]any{})
	if err != nil {
		t.Fatalf("get_all_tasks failed: %v", err)
	}
	list := out.([]any)
	want := []string{"T3", "T1", "T2"}
	if len(list) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(list), len(want))
	}
	for i, w := range want {
		if rec := list[i].(map[string]any); rec["task_id"] != w {
			t.Errorf("position %d: got %v, want %s", i, rec["task_id"], w)
		}
	}
}

func TestToolset_NoRunInContext(t *testing.T) {
	ts := New(task.NewManager())
	_, err := callTool(t, ts, "get_all_tasks", context.Background(), map[string]any{})
	if err == nil {
		t.Error("call without a run in context should fail")
	}
}

// --- Script-level scenarios through the sandbox ---

func TestScriptScenario_AssignThenExecute(t *testing.T) {
	mgr := task.NewManager()
	reg := tools.NewRegistry()
	if err := New(mgr).Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	exec := sandbox.NewExecutor(reg, sandbox.Config{}, nil)
	ctx := newRunContext(t, mgr)

	src := `assign_task("TASK-001", "ship the feature", "worker-A")
outcome = execute_task("TASK-001")
result = outcome['deliverables']
`
	res := exec.Execute(ctx, src)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(res.ToolCalls))
	}
	if res.ToolCalls[0].ToolName != "assign_task" || res.ToolCalls[1].ToolName != "execute_task" {
		t.Errorf("got call order %s, %s", res.ToolCalls[0].ToolName, res.ToolCalls[1].ToolName)
	}
	if got := res.ToolCalls[0].Arguments["assigned_to"]; got != "worker-A" {
		t.Errorf("got assigned_to %v, want worker-A", got)
	}
	deliverables, ok := res.Result.([]any)
	if !ok || len(deliverables) != 1 {
		t.Fatalf("got result %v, want single-deliverable list", res.Result)
	}
	if deliverables[0] != "completed: ship the feature" {
		t.Errorf("got deliverable %v", deliverables[0])
	}
}

func TestScriptScenario_ParallelExecute(t *testing.T) {
	mgr := task.NewManager()
	reg := tools.NewRegistry()
	if err := New(mgr).Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	exec := sandbox.NewExecutor(reg, sandbox.Config{}, nil)
	ctx := newRunContext(t, mgr)

	src := `assign_task("T1", "first half")
assign_task("T2", "second half")
outcome = parallel_execute(["T1", "T2"])
result = [keys(outcome), outcome['T1']['status'], outcome['T2']['status']]
`
	res := exec.Execute(ctx, src)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	wantCalls := []string{"assign_task", "assign_task", "parallel_execute"}
	if len(res.ToolCalls) != len(wantCalls) {
		t.Fatalf("got %d tool calls, want %d", len(res.ToolCalls), len(wantCalls))
	}
	for i, w := range wantCalls {
		if res.ToolCalls[i].ToolName != w {
			t.Errorf("call %d: got %s, want %s", i, res.ToolCalls[i].ToolName, w)
		}
	}
	parts := res.Result.([]any)
	mappingKeys := parts[0].([]any)
	if len(mappingKeys) != 2 || mappingKeys[0] != "T1" || mappingKeys[1] != "T2" {
		t.Errorf("got mapping keys %v, want exactly [T1 T2]", mappingKeys)
	}
	if parts[1] != "completed" || parts[2] != "completed" {
		t.Errorf("got statuses %v and %v, want completed", parts[1], parts[2])
	}
}

func TestScriptScenario_BlockAndResolve(t *testing.T) {
	mgr := task.NewManager()
	var mu sync.Mutex
	attempts := map[string]int{}
	worker := WorkerFunc(func(_ context.Context, tk task.Task) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts[tk.TaskID]++
		if attempts[tk.TaskID] == 1 {
			return "", errors.New("upstream outage")
		}
		return "second attempt ok", nil
	})
	reg := tools.NewRegistry()
	if err := New(mgr, WithWorker(worker)).Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	exec := sandbox.NewExecutor(reg, sandbox.Config{}, nil)
	ctx := newRunContext(t, mgr)

	src := `assign_task("T1", "call the api")
attempt = execute_task("T1")
if attempt['status'] == 'blocked':
    resolve_blocker("T1", "retried after outage")
    attempt = execute_task("T1")
result = [attempt['status'], len(attempt['deliverables'])]
`
	res := exec.Execute(ctx, src)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	parts := res.Result.([]any)
	if parts[0] != "completed" {
		t.Errorf("got final status %v, want completed", parts[0])
	}
	// Resolution note plus the second attempt's deliverable.
	if parts[1] != int64(2) {
		t.Errorf("got %v deliverables, want 2", parts[1])
	}
	if len(res.ToolCalls) != 4 {
		t.Errorf("got %d tool calls, want 4", len(res.ToolCalls))
	}
}

// --- Helpers ---

func newRunContext(t *testing.T, m *task.Manager) context.Context {
	t.Helper()
	runID := uuid.New()
	m.Begin(runID)
	t.Cleanup(func() { m.End(runID) })
	return task.ContextWithRun(context.Background(), runID)
}

func findTool(t *testing.T, ts *Toolset, name string) tools.Tool {
	t.Helper()
	for _, tool := range ts.Tools() {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func callTool(t *testing.T, ts *Toolset, name string, ctx context.Context, args map[string]any) (any, error) {
	t.Helper()
	return findTool(t, ts, name).Call(ctx, args)
}

func callToolNoHelper(ts *Toolset, name string, ctx context.Context, args map[string]any) (any, error) {
	for _, tool := range ts.Tools() {
		if tool.Name() == name {
			return tool.Call(ctx, args)
		}
	}
	return nil, errors.New("tool not found")
}

func mustCall(t *testing.T, ts *Toolset, name string, ctx context.Context, args map[string]any) {
	t.Helper()
	if _, err := callTool(t, ts, name, ctx, args); err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
}
