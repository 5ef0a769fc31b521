package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/protocol"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/mpango/internal/tools"
)

// RunEngine is the public API for feature runs.
type RunEngine interface {
	// Run executes a feature request to completion and returns its summary.
	Run(ctx context.Context, req *RunRequest) (*domain.RunSummary, error)

	// Submit starts a run in the background and returns a planning-state
	// snapshot immediately.
	Submit(ctx context.Context, req *RunRequest) (*domain.Run, error)

	// Get returns the current state of a run, in-flight or finished.
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// List returns finished runs matching the filter, newest first.
	List(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error)

	// Cancel requests cancellation of an in-flight run.
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Planner turns a feature description into a plan script against the
// given tool catalog. Implemented by planner.Planner.
type Planner interface {
	Plan(ctx context.Context, feature string, catalog []tools.Spec) (string, error)

	// Provider reports the name of the planning model provider, recorded
	// on each run.
	Provider() string
}

// EventSink receives run lifecycle events for streaming to subscribers.
// Publish must not block: implementations drop events for slow
// consumers rather than stalling the run pipeline.
type EventSink interface {
	Publish(env *protocol.Envelope)
}

// RunRequest is the input to start a run.
type RunRequest struct {
	Feature    string
	Caller     string        // Identity the run executes under. Empty = engine default.
	ScheduleID *uuid.UUID    // Set when a schedule triggered the run.
	Timeout    time.Duration // Per-run sandbox budget. 0 = executor default; capped at the engine maximum.
}
