// Package taskops exposes the task lifecycle to plan scripts as
// registry tools: assign_task, execute_task, parallel_execute,
// get_task_status, resolve_blocker, aggregate_results, get_all_tasks.
//
// The tools are registered once and shared across runs; each call
// resolves the task store scoped to the run carried by its context,
// so concurrent runs never see each other's tasks.
package taskops

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/mpango/internal/task"
	"github.com/jkaninda/mpango/internal/tools"
)

// Worker carries out the substance of one task after the store marks
// it in_progress, producing the task's deliverable.
type Worker interface {
	Work(ctx context.Context, t task.Task) (string, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, t task.Task) (string, error)

func (f WorkerFunc) Work(ctx context.Context, t task.Task) (string, error) {
	return f(ctx, t)
}

// defaultWorker completes tasks in-process with an acknowledgement
// deliverable. Deployments that hand work to real executors inject
// their own Worker.
type defaultWorker struct{}

func (defaultWorker) Work(_ context.Context, t task.Task) (string, error) {
	return "completed: " + t.Description, nil
}

// Toolset binds the task tools to per-run stores resolved through a
// shared Manager.
type Toolset struct {
	manager *task.Manager
	worker  Worker
	callers []string
	limit   int
	logger  *slog.Logger
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithWorker sets the worker that performs task work.
func WithWorker(w Worker) Option {
	return func(ts *Toolset) { ts.worker = w }
}

// WithAllowedCallers restricts the task tools to the named callers.
// Empty means any caller.
func WithAllowedCallers(callers ...string) Option {
	return func(ts *Toolset) { ts.callers = callers }
}

// WithParallelism caps concurrent workers inside parallel_execute.
// Zero or negative means unbounded.
func WithParallelism(n int) Option {
	return func(ts *Toolset) { ts.limit = n }
}

// WithLogger sets the toolset logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ts *Toolset) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// New creates a Toolset resolving per-run stores from manager.
func New(manager *task.Manager, opts ...Option) *Toolset {
	ts := &Toolset{
		manager: manager,
		worker:  defaultWorker{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Register adds all seven task tools to the registry.
func (ts *Toolset) Register(reg *tools.Registry) error {
	for _, t := range ts.Tools() {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns the task tools in catalog order.
func (ts *Toolset) Tools() []tools.Tool {
	return []tools.Tool{
		&opTool{
			name: "assign_task",
			description: "Create a new task. Arguments: task_id (unique string), description, " +
				"optional assigned_to and dependencies (list of task_ids that must complete first). " +
				"The task starts as not_started.",
			schema: objectSchema(map[string]any{
				"task_id":      stringProp("Unique task identifier"),
				"description":  stringProp("What the task should accomplish"),
				"assigned_to":  stringProp("Worker or agent responsible for the task"),
				"dependencies": stringListProp("Task IDs that must complete before this one starts"),
			}, "task_id", "description"),
			order:   []string{"task_id", "description", "assigned_to", "dependencies"},
			callers: ts.callers,
			call:    ts.assignTask,
		},
		&opTool{
			name: "execute_task",
			description: "Run a task to completion. Marks it in_progress, performs the work, and " +
				"returns the task record with status completed and its deliverables, or status " +
				"blocked with a reason if the work could not finish.",
			schema: objectSchema(map[string]any{
				"task_id": stringProp("Identifier of the task to execute"),
			}, "task_id"),
			order:   []string{"task_id"},
			callers: ts.callers,
			call:    ts.executeTask,
		},
		&opTool{
			name: "parallel_execute",
			description: "Run several tasks concurrently and wait for all of them. Takes task_ids " +
				"(list) and returns a mapping from each task_id to its finished task record.",
			schema: objectSchema(map[string]any{
				"task_ids": stringListProp("Identifiers of the tasks to execute concurrently"),
			}, "task_ids"),
			order:   []string{"task_ids"},
			callers: ts.callers,
			call:    ts.parallelExecute,
		},
		&opTool{
			name:        "get_task_status",
			description: "Return the current record of a task, including status, dependencies, and deliverables.",
			schema: objectSchema(map[string]any{
				"task_id": stringProp("Identifier of the task to inspect"),
			}, "task_id"),
			order:   []string{"task_id"},
			callers: ts.callers,
			call:    ts.getTaskStatus,
		},
		&opTool{
			name: "resolve_blocker",
			description: "Unblock a blocked task. Records the resolution, moves the task back to " +
				"in_progress, and returns the updated record so it can be executed again.",
			schema: objectSchema(map[string]any{
				"task_id":    stringProp("Identifier of the blocked task"),
				"resolution": stringProp("How the blocker was resolved"),
			}, "task_id", "resolution"),
			order:   []string{"task_id", "resolution"},
			callers: ts.callers,
			call:    ts.resolveBlocker,
		},
		&opTool{
			name: "aggregate_results",
			description: "Combine deliverables across tasks. Optional task_ids restricts the " +
				"aggregation; by default every task of the run is covered. Returns totals, the " +
				"combined deliverables list, and a summary line.",
			schema: objectSchema(map[string]any{
				"task_ids": stringListProp("Restrict aggregation to these task IDs"),
			}),
			order:   []string{"task_ids"},
			callers: ts.callers,
			call:    ts.aggregateResults,
		},
		&opTool{
			name:        "get_all_tasks",
			description: "Return every task record for this run, in assignment order.",
			schema:      objectSchema(map[string]any{}),
			callers:     ts.callers,
			call:        ts.getAllTasks,
		},
	}
}

// --- Tool implementations ---

func (ts *Toolset) assignTask(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := stringArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	description, err := stringArg(args, "description")
	if err != nil {
		return nil, err
	}
	assignee, err := optStringArg(args, "assigned_to")
	if err != nil {
		return nil, err
	}
	deps, err := stringListArg(args, "dependencies")
	if err != nil {
		return nil, err
	}
	created, err := store.Assign(task.Task{
		TaskID:       id,
		Description:  description,
		AssignedTo:   assignee,
		Dependencies: deps,
	})
	if err != nil {
		return nil, err
	}
	ts.logger.DebugContext(ctx, "task assigned", "task_id", id, "assigned_to", assignee)
	return record(created), nil
}

func (ts *Toolset) executeTask(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := stringArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	rec, err := ts.executeOne(ctx, store, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (ts *Toolset) parallelExecute(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := requiredStringListArg(args, "task_ids")
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if ts.limit > 0 {
		g.SetLimit(ts.limit)
	}
	results := make([]map[string]any, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			rec, err := ts.executeOne(gctx, store, id)
			if err != nil {
				return err
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out, nil
}

func (ts *Toolset) getTaskStatus(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := stringArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	t, err := store.Get(id)
	if err != nil {
		return nil, err
	}
	return record(t), nil
}

func (ts *Toolset) resolveBlocker(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := stringArg(args, "task_id")
	if err != nil {
		return nil, err
	}
	resolution, err := stringArg(args, "resolution")
	if err != nil {
		return nil, err
	}
	t, err := store.Resolve(id, resolution)
	if err != nil {
		return nil, err
	}
	ts.logger.InfoContext(ctx, "blocker resolved", "task_id", id, "resolution", resolution)
	return record(t), nil
}

func (ts *Toolset) aggregateResults(ctx context.Context, args map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := stringListArg(args, "task_ids")
	if err != nil {
		return nil, err
	}

	var selected []task.Task
	if len(ids) == 0 {
		selected = store.All()
	} else {
		for _, id := range ids {
			t, err := store.Get(id)
			if err != nil {
				return nil, err
			}
			selected = append(selected, t)
		}
	}

	completed := 0
	deliverables := []any{}
	for _, t := range selected {
		if t.Status == task.StatusCompleted {
			completed++
		}
		for _, d := range t.Deliverables {
			deliverables = append(deliverables, d)
		}
	}
	return map[string]any{
		"total":        int64(len(selected)),
		"completed":    int64(completed),
		"deliverables": deliverables,
		"summary":      fmt.Sprintf("%d/%d tasks completed", completed, len(selected)),
	}, nil
}

func (ts *Toolset) getAllTasks(ctx context.Context, _ map[string]any) (any, error) {
	store, err := ts.manager.StoreFromContext(ctx)
	if err != nil {
		return nil, err
	}
	all := store.All()
	out := make([]any, 0, len(all))
	for _, t := range all {
		out = append(out, record(t))
	}
	return out, nil
}

// executeOne runs the full lifecycle of a single task: start, work,
// complete. A worker failure blocks the task and returns its record
// rather than an error, so scripts can inspect the status and resolve
// the blocker. Store errors and cancellation stay loud.
func (ts *Toolset) executeOne(ctx context.Context, store *task.Store, id string) (map[string]any, error) {
	t, err := store.Start(id)
	if err != nil {
		return nil, err
	}
	deliverable, err := ts.worker.Work(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		blocked, berr := store.Block(id, err.Error())
		if berr != nil {
			return nil, berr
		}
		ts.logger.WarnContext(ctx, "task blocked", "task_id", id, "reason", err.Error())
		return record(blocked), nil
	}
	done, err := store.Complete(id, deliverable)
	if err != nil {
		return nil, err
	}
	ts.logger.DebugContext(ctx, "task completed", "task_id", id)
	return record(done), nil
}

// record renders a task for scripts. Every key is always present so
// generated code can index without existence checks.
func record(t task.Task) map[string]any {
	deps := make([]any, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		deps = append(deps, d)
	}
	deliverables := make([]any, 0, len(t.Deliverables))
	for _, d := range t.Deliverables {
		deliverables = append(deliverables, d)
	}
	return map[string]any{
		"task_id":        t.TaskID,
		"description":    t.Description,
		"assigned_to":    t.AssignedTo,
		"status":         string(t.Status),
		"dependencies":   deps,
		"deliverables":   deliverables,
		"blocked_reason": t.BlockedReason,
	}
}

// --- Tool plumbing ---

// opTool is the registry adapter shared by all task tools.
type opTool struct {
	name        string
	description string
	schema      map[string]any
	order       []string
	callers     []string
	call        func(ctx context.Context, args map[string]any) (any, error)
}

var (
	_ tools.Tool       = (*opTool)(nil)
	_ tools.Positional = (*opTool)(nil)
)

func (t *opTool) Name() string                { return t.name }
func (t *opTool) Description() string         { return t.description }
func (t *opTool) InputSchema() map[string]any { return t.schema }
func (t *opTool) AllowedCallers() []string    { return t.callers }
func (t *opTool) ParamOrder() []string        { return t.order }

func (t *opTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.call(ctx, args)
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func stringListProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

// --- Argument decoding ---

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optStringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func stringListArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a list of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must contain only strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func requiredStringListArg(args map[string]any, key string) ([]string, error) {
	if _, ok := args[key]; !ok {
		return nil, fmt.Errorf("missing required argument %q", key)
	}
	return stringListArg(args, key)
}
