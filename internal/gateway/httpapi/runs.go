package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/orchestrator"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/okapi"
)

// RunRequest is the JSON body for POST /v1/runs.
type RunRequest struct {
	Feature        string `json:"feature"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // Sandbox budget override. 0 = engine default.
	Wait           bool   `json:"wait,omitempty"`            // Block until the run finishes and return its summary.
}

// RunResponse is the JSON representation of a run.
type RunResponse struct {
	ID          string          `json:"id"`
	Feature     string          `json:"feature"`
	State       domain.RunState `json:"state"`
	Success     bool            `json:"success"`
	Caller      string          `json:"caller,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	Script      string          `json:"script,omitempty"`
	Result      any             `json:"result,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	ToolCalls   int             `json:"tool_calls"`
	ScheduleID  string          `json:"schedule_id,omitempty"`
	PlanningMS  int64           `json:"planning_ms"`
	ExecutionMS int64           `json:"execution_ms"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// ToolCallResponse is the JSON representation of one committed tool call.
type ToolCallResponse struct {
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	ReturnValue any            `json:"return_value,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func toRunResponse(run *domain.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID.String(),
		Feature:     run.Feature,
		State:       run.State,
		Success:     run.Success,
		Caller:      run.Caller,
		Provider:    run.Provider,
		Script:      run.Script,
		Result:      run.Result,
		Stdout:      run.Stdout,
		Errors:      run.Errors,
		Warnings:    run.Warnings,
		ToolCalls:   len(run.ToolCalls),
		PlanningMS:  run.PlanningMS,
		ExecutionMS: run.ExecutionMS,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.ScheduleID != nil {
		resp.ScheduleID = run.ScheduleID.String()
	}
	return resp
}

// handleRunSubmit starts a run. The default is asynchronous: the run is
// admitted, a planning-state snapshot comes back with 202, and the caller
// polls GET /runs/{id} or subscribes to the event stream. With "wait" the
// request blocks until the run finishes and returns its summary.
func (g *Gateway) handleRunSubmit(c *okapi.Context) error {
	caller := c.GetString("caller")

	if g.limiter != nil {
		if err := g.limiter.Allow(caller); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Feature) == "" {
		return c.AbortBadRequest("feature is required")
	}
	if req.TimeoutSeconds < 0 {
		return c.AbortBadRequest("timeout_seconds must not be negative")
	}

	runReq := &orchestrator.RunRequest{
		Feature: req.Feature,
		Caller:  caller,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	}

	g.logger.Info("http run submitted",
		slog.String("caller", caller),
		slog.Bool("wait", req.Wait),
	)

	if req.Wait {
		summary, err := g.engine.Run(c.Context(), runReq)
		if err != nil {
			return g.runError(c, err)
		}
		return c.OK(summary)
	}

	run, err := g.engine.Submit(c.Context(), runReq)
	if err != nil {
		return g.runError(c, err)
	}
	return c.JSON(http.StatusAccepted, toRunResponse(run))
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	run, err := g.engine.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		g.logger.Error("run lookup failed", slog.String("run_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("run lookup failed")
	}
	return c.OK(toRunResponse(run))
}

// handleRunList returns the most recent runs, newest first, at the
// store's default page size.
func (g *Gateway) handleRunList(c *okapi.Context) error {
	runs, err := g.engine.List(c.Context(), storage.RunFilter{})
	if err != nil {
		g.logger.Error("run list failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("run list failed")
	}

	resp := make([]RunResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i]))
	}
	return c.OK(resp)
}

func (g *Gateway) handleRunCalls(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	run, err := g.engine.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		g.logger.Error("run lookup failed", slog.String("run_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("run lookup failed")
	}

	calls := make([]ToolCallResponse, 0, len(run.ToolCalls))
	for _, tc := range run.ToolCalls {
		calls = append(calls, ToolCallResponse{
			ToolName:    tc.ToolName,
			Arguments:   tc.Arguments,
			ReturnValue: tc.ReturnValue,
			Timestamp:   tc.Timestamp,
		})
	}
	return c.OK(calls)
}

func (g *Gateway) handleRunCancel(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	if err := g.engine.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		g.logger.Error("run cancel failed", slog.String("run_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("run cancel failed")
	}

	g.logger.Info("http run cancelled", slog.String("run_id", id.String()))
	return c.OK(okapi.M{"status": "cancelling"})
}

// runError maps engine admission errors to appropriate HTTP responses.
func (g *Gateway) runError(c *okapi.Context, err error) error {
	if errors.Is(err, orchestrator.ErrEmptyFeature) {
		return c.AbortBadRequest(err.Error())
	}
	g.logger.Error("run failed", slog.String("error", err.Error()))
	return c.AbortInternalServerError("run failed")
}
