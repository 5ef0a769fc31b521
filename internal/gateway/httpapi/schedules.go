package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/scheduler"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/okapi"
)

// ScheduleRequest is the JSON body for POST and PUT /v1/schedules.
// On update, empty fields keep their current value.
type ScheduleRequest struct {
	Name           string `json:"name"`
	Feature        string `json:"feature"`
	CronExpression string `json:"cron_expression"` // Standard 5-field cron.
	Enabled        *bool  `json:"enabled,omitempty"`
}

// ScheduleResponse is the JSON representation of a scheduled run.
type ScheduleResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Feature        string     `json:"feature"`
	CronExpression string     `json:"cron_expression"`
	Caller         string     `json:"caller,omitempty"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toScheduleResponse(s *domain.ScheduledRun) ScheduleResponse {
	resp := ScheduleResponse{
		ID:             s.ID.String(),
		Name:           s.Name,
		Feature:        s.Feature,
		CronExpression: s.CronExpression,
		Caller:         s.Caller,
		Enabled:        s.Enabled,
		NextRunAt:      s.NextRunAt,
		LastRunAt:      s.LastRunAt,
		LastError:      s.LastError,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.LastRunID != nil {
		resp.LastRunID = s.LastRunID.String()
	}
	return resp
}

func (g *Gateway) handleScheduleCreate(c *okapi.Context) error {
	caller := c.GetString("caller")

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return c.AbortBadRequest("name is required")
	}
	if strings.TrimSpace(req.Feature) == "" {
		return c.AbortBadRequest("feature is required")
	}

	next, err := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
	if err != nil {
		return c.AbortBadRequest("invalid cron expression")
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	sched := domain.ScheduledRun{
		ID:             domain.NewID(),
		Name:           req.Name,
		Feature:        req.Feature,
		CronExpression: req.CronExpression,
		Caller:         caller,
		Enabled:        enabled,
		NextRunAt:      &next,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := g.schedules.Create(c.Context(), &sched); err != nil {
		g.logger.Error("schedule create failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule create failed")
	}

	g.logger.Info("schedule created",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("name", sched.Name),
		slog.String("cron", sched.CronExpression),
	)
	return c.JSON(http.StatusCreated, toScheduleResponse(&sched))
}

func (g *Gateway) handleScheduleList(c *okapi.Context) error {
	schedules, err := g.schedules.List(c.Context())
	if err != nil {
		g.logger.Error("schedule list failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule list failed")
	}

	resp := make([]ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		resp = append(resp, toScheduleResponse(&schedules[i]))
	}
	return c.OK(resp)
}

func (g *Gateway) handleScheduleGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	sched, err := g.schedules.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		g.logger.Error("schedule lookup failed", slog.String("schedule_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule lookup failed")
	}
	return c.OK(toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleUpdate(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	sched, err := g.schedules.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		g.logger.Error("schedule lookup failed", slog.String("schedule_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule lookup failed")
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	if strings.TrimSpace(req.Name) != "" {
		sched.Name = req.Name
	}
	if strings.TrimSpace(req.Feature) != "" {
		sched.Feature = req.Feature
	}
	if req.CronExpression != "" && req.CronExpression != sched.CronExpression {
		next, err := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
		if err != nil {
			return c.AbortBadRequest("invalid cron expression")
		}
		sched.CronExpression = req.CronExpression
		sched.NextRunAt = &next
	}
	if req.Enabled != nil {
		// Re-enabling recomputes the slot so the schedule does not fire
		// for the time it spent disabled.
		if *req.Enabled && !sched.Enabled {
			next, err := scheduler.ComputeNextRunFrom(sched.CronExpression, time.Now().UTC())
			if err != nil {
				return c.AbortBadRequest("invalid cron expression")
			}
			sched.NextRunAt = &next
		}
		sched.Enabled = *req.Enabled
	}
	sched.UpdatedAt = time.Now().UTC()

	if err := g.schedules.Update(c.Context(), sched); err != nil {
		g.logger.Error("schedule update failed", slog.String("schedule_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule update failed")
	}

	g.logger.Info("schedule updated", slog.String("schedule_id", id.String()))
	return c.OK(toScheduleResponse(sched))
}

func (g *Gateway) handleScheduleDelete(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	if err := g.schedules.Delete(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		g.logger.Error("schedule delete failed", slog.String("schedule_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule delete failed")
	}

	g.logger.Info("schedule deleted", slog.String("schedule_id", id.String()))
	return c.OK(okapi.M{"status": "deleted"})
}

// handleScheduleTrigger fires a schedule immediately without touching its
// cron slot.
func (g *Gateway) handleScheduleTrigger(c *okapi.Context) error {
	caller := c.GetString("caller")

	if g.limiter != nil {
		if err := g.limiter.Allow(caller); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid schedule ID")
	}

	if g.trigger == nil {
		return c.AbortServiceUnavailable("scheduler not running")
	}

	g.logger.Info("http schedule trigger",
		slog.String("caller", caller),
		slog.String("schedule_id", id.String()),
	)

	summary, err := g.trigger.Trigger(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "schedule not found"})
		}
		g.logger.Error("schedule trigger failed", slog.String("schedule_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("schedule trigger failed")
	}
	return c.OK(summary)
}
