// Package storage defines the unified Store interface that abstracts run persistence.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// Backends translate driver-specific not-found errors into this one
// so callers never depend on the ORM.
var ErrNotFound = errors.New("record not found")

// Store is the unified persistence interface for Mpango.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors — each returns a domain-specific store interface.
	// The returned stores share the same underlying connection.
	Runs() RunStore
	ScheduledRuns() ScheduledRunStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Ping checks the backend connection for readiness probes.
	Ping(ctx context.Context) error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// RunStore persists orchestration runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// RunFilter narrows List results. Zero values mean no constraint.
// Results are ordered newest-first.
type RunFilter struct {
	State      domain.RunState // Only runs in this lifecycle state.
	ScheduleID *uuid.UUID      // Only runs triggered by this schedule.
	Limit      int
	Offset     int
}

// PageSize returns the effective page size: default 50, capped at 500.
func (f RunFilter) PageSize() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 500:
		return 500
	default:
		return f.Limit
	}
}

// ScheduledRunStore persists recurring run definitions.
type ScheduledRunStore interface {
	Create(ctx context.Context, sr *domain.ScheduledRun) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledRun, error)
	List(ctx context.Context) ([]domain.ScheduledRun, error)
	Update(ctx context.Context, sr *domain.ScheduledRun) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListDue returns enabled schedules whose NextRunAt has passed.
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledRun, error)

	// RecordExecution updates schedule bookkeeping after a trigger attempt.
	// runID is nil when the run could not be created at all.
	RecordExecution(ctx context.Context, id uuid.UUID, runID *uuid.UUID, nextRunAt *time.Time, errMsg string) error
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
