// Package scheduler fires recurring runs from their cron expressions.
// It polls storage for due schedules and executes each one through the
// run engine, so scheduled execution follows the exact same pipeline
// and restrictions as a run submitted by a live caller.
//
// Core invariant: a schedule is claimed by advancing its next_run_at
// before the run starts, so overlapping ticks and slow runs can never
// fire the same slot twice.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/orchestrator"
	"github.com/jkaninda/mpango/internal/storage"
)

// Scheduler polls for due schedules and fires them as runs.
// It runs as a background goroutine in serve mode.
type Scheduler struct {
	store   storage.ScheduledRunStore
	engine  orchestrator.RunEngine
	metrics *Metrics
	logger  *slog.Logger
	config  *config.SchedulerConfig
	parser  cron.Parser
}

// New creates a Scheduler.
func New(
	store storage.ScheduledRunStore,
	engine orchestrator.RunEngine,
	logger *slog.Logger,
	cfg *config.SchedulerConfig,
) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		store:  store,
		engine: engine,
		logger: logger,
		config: cfg,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// WithMetrics attaches scheduler metrics (no-op if nil).
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "scheduler started",
			slog.String("poll_interval", s.config.PollInterval().String()),
			slog.Int("max_concurrent", s.config.MaxConcurrent()),
		)

		// Catch up on schedules that came due while the process was down.
		s.recoverMissed(ctx)

		ticker := time.NewTicker(s.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs a single poll cycle: claim due schedules, fire them,
// record outcomes.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()

	due, err := s.store.ListDue(ctx, start.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "polling due schedules",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "schedules due",
			slog.Int("count", len(due)),
		)
		s.fireAll(ctx, due)
	}

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// fireAll claims each schedule and fires it, with at most
// MaxConcurrent runs in flight.
func (s *Scheduler) fireAll(ctx context.Context, due []domain.ScheduledRun) {
	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxConcurrent())

	for _, sched := range due {
		next, ok := s.advance(ctx, sched, "")
		if !ok {
			continue
		}
		g.Go(func() error {
			s.fire(ctx, sched, next)
			return nil
		})
	}
	_ = g.Wait()
}

// advance claims a schedule by moving next_run_at to its next slot
// without firing it. An unparseable expression clears next_run_at so
// the schedule stops firing instead of spinning every tick.
func (s *Scheduler) advance(ctx context.Context, sched domain.ScheduledRun, errMsg string) (time.Time, bool) {
	parsed, err := s.parser.Parse(sched.CronExpression)
	if err != nil {
		s.logger.ErrorContext(ctx, "invalid cron expression",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("expression", sched.CronExpression),
			slog.String("error", err.Error()),
		)
		s.record(ctx, sched.ID, nil, nil, "invalid cron expression: "+err.Error())
		return time.Time{}, false
	}

	next := parsed.Next(time.Now().UTC())
	if !s.record(ctx, sched.ID, nil, &next, errMsg) {
		// Unclaimed schedules are not fired; the next tick retries.
		return time.Time{}, false
	}
	return next, true
}

// fire executes one scheduled run and records its outcome.
func (s *Scheduler) fire(ctx context.Context, sched domain.ScheduledRun, next time.Time) {
	s.logger.InfoContext(ctx, "firing schedule",
		slog.String("schedule_id", sched.ID.String()),
		slog.String("name", sched.Name),
		slog.String("caller", sched.Caller),
	)
	if s.metrics != nil {
		s.metrics.RunsFired.Inc()
	}

	summary, err := s.engine.Run(ctx, &orchestrator.RunRequest{
		Feature:    sched.Feature,
		Caller:     sched.Caller,
		ScheduleID: &sched.ID,
	})

	var runID *uuid.UUID
	var errMsg string
	switch {
	case err != nil:
		errMsg = err.Error()
	case !summary.Success:
		runID = &summary.ID
		errMsg = strings.Join(summary.Errors, "; ")
		if errMsg == "" {
			errMsg = "run failed"
		}
	default:
		runID = &summary.ID
	}

	if errMsg != "" {
		if s.metrics != nil {
			s.metrics.RunsFailed.Inc()
		}
		s.logger.WarnContext(ctx, "scheduled run failed",
			slog.String("schedule_id", sched.ID.String()),
			slog.String("name", sched.Name),
			slog.String("error", errMsg),
		)
	} else if s.metrics != nil {
		s.metrics.RunsSucceeded.Inc()
	}

	s.record(ctx, sched.ID, runID, &next, errMsg)
}

// recoverMissed fires schedules that came due while the process was
// down. Slots older than the missed-run window are skipped and the
// schedule advanced to its next valid time.
func (s *Scheduler) recoverMissed(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovering missed schedules",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(due) == 0 {
		return
	}

	cutoff := now.Add(-s.config.MissedRunWindow())
	var fire []domain.ScheduledRun
	skipped := 0
	for _, sched := range due {
		if sched.NextRunAt != nil && sched.NextRunAt.Before(cutoff) {
			s.advance(ctx, sched, "skipped: outside missed run window")
			if s.metrics != nil {
				s.metrics.RunsMissed.Inc()
			}
			skipped++
			continue
		}
		fire = append(fire, sched)
	}

	s.logger.InfoContext(ctx, "recovered missed schedules",
		slog.Int("fired", len(fire)),
		slog.Int("skipped", skipped),
	)
	s.fireAll(ctx, fire)
}

// Trigger fires a schedule immediately, outside its cron cadence. The
// run executes synchronously and next_run_at is left untouched, so the
// regular cadence is unaffected. Disabled schedules can be triggered.
func (s *Scheduler) Trigger(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	summary, err := s.engine.Run(ctx, &orchestrator.RunRequest{
		Feature:    sched.Feature,
		Caller:     sched.Caller,
		ScheduleID: &sched.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("triggering schedule %s: %w", id, err)
	}

	var errMsg string
	if !summary.Success {
		errMsg = strings.Join(summary.Errors, "; ")
	}
	s.record(ctx, sched.ID, &summary.ID, sched.NextRunAt, errMsg)
	return summary, nil
}

// record wraps RecordExecution with error logging. Returns false when
// the write failed.
func (s *Scheduler) record(ctx context.Context, id uuid.UUID, runID *uuid.UUID, nextRunAt *time.Time, errMsg string) bool {
	if err := s.store.RecordExecution(ctx, id, runID, nextRunAt, errMsg); err != nil {
		s.logger.ErrorContext(ctx, "recording schedule execution",
			slog.String("schedule_id", id.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// ComputeNextRunFrom computes the next run time from a given reference
// time. Exported for use by the HTTP API when creating or updating
// schedules.
func ComputeNextRunFrom(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}
