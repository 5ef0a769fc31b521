// Package task holds the orchestration-level task model: the unit of
// work a plan script assigns, executes, and aggregates through the
// task tools. Every run owns its own store; tasks never leak between
// runs.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
)

// Task is one unit of work tracked during a run.
type Task struct {
	TaskID        string   `json:"task_id"`
	Description   string   `json:"description"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	Status        Status   `json:"status"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Deliverables  []string `json:"deliverables,omitempty"`
	BlockedReason string   `json:"blocked_reason,omitempty"`
}

// Sentinel errors for store lookups.
var (
	ErrNotFound = errors.New("task not found")
	ErrExists   = errors.New("task already exists")
)

// TransitionError reports an illegal status transition. Transitions
// are forward-only except blocked back to in_progress:
// not_started -> in_progress -> {completed | blocked}.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %s to %s", e.TaskID, e.From, e.To)
}

// DependencyError reports an attempt to start a task whose
// dependencies have not completed.
type DependencyError struct {
	TaskID string
	Unmet  []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %s: unmet dependencies %v", e.TaskID, e.Unmet)
}

// Store tracks the tasks of a single run. Methods return value copies;
// mutation goes through the store only, so concurrent fan-out workers
// see consistent snapshots.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

// NewStore creates an empty per-run task store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Task)}
}

// Assign creates a task in not_started state. The task ID must be new.
func (s *Store) Assign(t Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.TaskID == "" {
		return Task{}, errors.New("task id must not be empty")
	}
	if _, exists := s.tasks[t.TaskID]; exists {
		return Task{}, fmt.Errorf("task %s: %w", t.TaskID, ErrExists)
	}
	t.Status = StatusNotStarted
	t.Deliverables = nil
	t.BlockedReason = ""
	stored := t
	s.tasks[t.TaskID] = &stored
	s.order = append(s.order, t.TaskID)
	return stored, nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	return *t, nil
}

// All returns copies of every task in assignment order.
func (s *Store) All() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// Start moves a task to in_progress. Legal from not_started and from
// blocked; a task with incomplete dependencies cannot start.
func (s *Store) Start(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusNotStarted && t.Status != StatusBlocked {
		return Task{}, &TransitionError{TaskID: id, From: t.Status, To: StatusInProgress}
	}
	if unmet := s.unmetDeps(t); len(unmet) > 0 {
		return Task{}, &DependencyError{TaskID: id, Unmet: unmet}
	}
	t.Status = StatusInProgress
	t.BlockedReason = ""
	return *t, nil
}

// Complete moves an in_progress task to completed, recording the
// deliverable if one is given.
func (s *Store) Complete(id, deliverable string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusInProgress {
		return Task{}, &TransitionError{TaskID: id, From: t.Status, To: StatusCompleted}
	}
	t.Status = StatusCompleted
	if deliverable != "" {
		t.Deliverables = append(t.Deliverables, deliverable)
	}
	return *t, nil
}

// Block moves an in_progress task to blocked with a reason.
func (s *Store) Block(id, reason string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusInProgress {
		return Task{}, &TransitionError{TaskID: id, From: t.Status, To: StatusBlocked}
	}
	t.Status = StatusBlocked
	t.BlockedReason = reason
	return *t, nil
}

// Resolve clears a blocked task back to in_progress. This is the only
// backward transition the model allows.
func (s *Store) Resolve(id, resolution string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(id)
	if err != nil {
		return Task{}, err
	}
	if t.Status != StatusBlocked {
		return Task{}, &TransitionError{TaskID: id, From: t.Status, To: StatusInProgress}
	}
	if unmet := s.unmetDeps(t); len(unmet) > 0 {
		return Task{}, &DependencyError{TaskID: id, Unmet: unmet}
	}
	t.Status = StatusInProgress
	t.BlockedReason = ""
	if resolution != "" {
		t.Deliverables = append(t.Deliverables, "blocker resolved: "+resolution)
	}
	return *t, nil
}

func (s *Store) lookup(id string) (*Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// unmetDeps lists dependencies that are missing or not yet completed.
// Caller holds the lock.
func (s *Store) unmetDeps(t *Task) []string {
	var unmet []string
	for _, dep := range t.Dependencies {
		d, ok := s.tasks[dep]
		if !ok || d.Status != StatusCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// --- Per-run scoping ---

// Manager hands each run its own Store, keyed by run ID. The engine
// begins a scope before executing a plan and ends it when the run
// reaches a terminal state.
type Manager struct {
	mu     sync.Mutex
	stores map[uuid.UUID]*Store
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{stores: make(map[uuid.UUID]*Store)}
}

// Begin creates (or returns) the store scoped to runID.
func (m *Manager) Begin(runID uuid.UUID) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[runID]; ok {
		return s
	}
	s := NewStore()
	m.stores[runID] = s
	return s
}

// End drops the store scoped to runID.
func (m *Manager) End(runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, runID)
}

// StoreFromContext resolves the store for the run carried by ctx.
// Task tools call this so a global registry can serve per-run state.
func (m *Manager) StoreFromContext(ctx context.Context) (*Store, error) {
	runID, ok := RunFromContext(ctx)
	if !ok {
		return nil, errors.New("no run in context")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[runID]
	if !ok {
		return nil, fmt.Errorf("no task store for run %s", runID)
	}
	return s, nil
}

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const runIDKey contextKey = iota

// ContextWithRun returns a new context carrying the run ID.
func ContextWithRun(ctx context.Context, runID uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunFromContext extracts the run ID from context.
func RunFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(runIDKey).(uuid.UUID)
	return v, ok
}
