package postgres

import (
	"encoding/json"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/tools"
)

// --- Run ---

func toRunModel(run *domain.Run) RunModel {
	var result JSONB
	if run.Result != nil {
		data, _ := json.Marshal(run.Result)
		result = JSONB(data)
	}
	errs, _ := json.Marshal(run.Errors)
	if errs == nil {
		errs = []byte("[]")
	}
	calls, _ := json.Marshal(run.ToolCalls)
	if calls == nil {
		calls = []byte("[]")
	}
	warnings, _ := json.Marshal(run.Warnings)
	if warnings == nil {
		warnings = []byte("[]")
	}
	return RunModel{
		ID:          run.ID,
		Feature:     run.Feature,
		State:       string(run.State),
		Success:     run.Success,
		Caller:      run.Caller,
		Provider:    run.Provider,
		Script:      run.Script,
		Result:      result,
		Stdout:      run.Stdout,
		Errors:      JSONB(errs),
		ToolCalls:   JSONB(calls),
		Warnings:    JSONB(warnings),
		ScheduleID:  run.ScheduleID,
		PlanningMS:  run.PlanningMS,
		ExecutionMS: run.ExecutionMS,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}

func toRunDomain(m *RunModel) *domain.Run {
	var result any
	if len(m.Result) > 0 {
		_ = json.Unmarshal(m.Result, &result)
	}
	var errs []string
	if len(m.Errors) > 0 {
		_ = json.Unmarshal(m.Errors, &errs)
	}
	var calls []tools.ToolCall
	if len(m.ToolCalls) > 0 {
		_ = json.Unmarshal(m.ToolCalls, &calls)
	}
	var warnings []string
	if len(m.Warnings) > 0 {
		_ = json.Unmarshal(m.Warnings, &warnings)
	}
	return &domain.Run{
		ID:          m.ID,
		Feature:     m.Feature,
		State:       domain.RunState(m.State),
		Success:     m.Success,
		Caller:      m.Caller,
		Provider:    m.Provider,
		Script:      m.Script,
		Result:      result,
		Stdout:      m.Stdout,
		Errors:      errs,
		ToolCalls:   calls,
		Warnings:    warnings,
		ScheduleID:  m.ScheduleID,
		PlanningMS:  m.PlanningMS,
		ExecutionMS: m.ExecutionMS,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
}

// --- ScheduledRun ---

func toScheduledRunModel(sr *domain.ScheduledRun) ScheduledRunModel {
	return ScheduledRunModel{
		ID:             sr.ID,
		Name:           sr.Name,
		Feature:        sr.Feature,
		CronExpression: sr.CronExpression,
		Caller:         sr.Caller,
		Enabled:        sr.Enabled,
		NextRunAt:      sr.NextRunAt,
		LastRunAt:      sr.LastRunAt,
		LastRunID:      sr.LastRunID,
		LastError:      sr.LastError,
		CreatedAt:      sr.CreatedAt,
		UpdatedAt:      sr.UpdatedAt,
	}
}

func toScheduledRunDomain(m *ScheduledRunModel) *domain.ScheduledRun {
	return &domain.ScheduledRun{
		ID:             m.ID,
		Name:           m.Name,
		Feature:        m.Feature,
		CronExpression: m.CronExpression,
		Caller:         m.Caller,
		Enabled:        m.Enabled,
		NextRunAt:      m.NextRunAt,
		LastRunAt:      m.LastRunAt,
		LastRunID:      m.LastRunID,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
