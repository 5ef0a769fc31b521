// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/tools"
)

// RunState is the lifecycle state of an orchestration run.
// Runs move planning -> executing -> succeeded | failed; the two
// terminal states never transition further.
type RunState string

const (
	RunStatePlanning  RunState = "planning"
	RunStateExecuting RunState = "executing"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the state accepts no further transitions.
func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// Run is one orchestration run: a feature description planned into a
// script and executed in the sandbox.
type Run struct {
	ID       uuid.UUID
	Feature  string
	State    RunState
	Success  bool
	Caller   string // Gateway identity the run executed under.
	Provider string // LLM provider that produced the plan.
	Script   string // The plan script as extracted from the model.
	Result   any    // Script output (the result variable), JSON-encodable.
	Stdout   string // Captured print() output.
	// Failure diagnostics in occurrence order. Empty on success.
	Errors []string
	// Committed tool calls in call order. Partial progress survives
	// timeouts and runtime failures.
	ToolCalls   []tools.ToolCall
	Warnings    []string   // Non-fatal warnings, e.g. output truncation.
	ScheduleID  *uuid.UUID // Set when the run was triggered by a schedule.
	PlanningMS  int64
	ExecutionMS int64
	CreatedAt   time.Time
	StartedAt   *time.Time // When planning began.
	FinishedAt  *time.Time // When a terminal state was reached.
}

// Summary derives the compact per-run view returned to callers.
func (r *Run) Summary() *RunSummary {
	return &RunSummary{
		ID:              r.ID,
		Feature:         r.Feature,
		State:           r.State,
		Success:         r.Success,
		ToolCalls:       len(r.ToolCalls),
		ExecutionTimeMS: r.PlanningMS + r.ExecutionMS,
		Result:          r.Result,
		Errors:          r.Errors,
	}
}

// RunSummary is the primary structured output of a run.
type RunSummary struct {
	ID              uuid.UUID `json:"id"`
	Feature         string    `json:"feature"`
	State           RunState  `json:"state"`
	Success         bool      `json:"success"`
	ToolCalls       int       `json:"tool_calls"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Result          any       `json:"result,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
}

// ScheduledRun is a recurring feature execution on a cron expression.
type ScheduledRun struct {
	ID             uuid.UUID
	Name           string
	Feature        string
	CronExpression string // Standard 5-field cron (minute hour dom month dow).
	Caller         string // Identity scheduled runs execute under.
	Enabled        bool
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	LastRunID      *uuid.UUID
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
