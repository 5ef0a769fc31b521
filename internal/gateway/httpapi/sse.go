package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/protocol"
	"github.com/jkaninda/mpango/internal/storage"
	"github.com/jkaninda/okapi"
)

// handleRunEvents handles GET /v1/runs/{id}/events with SSE responses.
// Streams run lifecycle events until the run reaches a terminal state,
// the subscriber falls behind, or the client disconnects.
func (g *Gateway) handleRunEvents(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid run ID")
	}

	// Subscribe before the lookup so a run that finishes in between is
	// not missed.
	events, cancel, ok := g.events.Subscribe(id.String())
	if !ok {
		return c.AbortServiceUnavailable("event stream closed")
	}
	defer cancel()

	run, err := g.engine.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		g.logger.Error("run lookup failed", slog.String("run_id", id.String()), slog.String("error", err.Error()))
		return c.AbortInternalServerError("run lookup failed")
	}

	// A finished run gets a single synthetic terminal event; there is
	// nothing left to stream.
	if run.State.Terminal() {
		env, err := terminalEnvelope(run)
		if err != nil {
			return c.AbortInternalServerError("event encoding failed")
		}
		c.SSEvent(string(env.Type), env)
		return nil
	}

	g.logger.Info("sse subscriber connected", slog.String("run_id", id.String()))

	ctx := c.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, open := <-events:
			if !open {
				// Dropped: either too slow or the hub shut down.
				return nil
			}
			c.SSEvent(string(env.Type), env)
			if env.Type == protocol.MsgRunCompleted || env.Type == protocol.MsgRunFailed {
				return nil
			}
		}
	}
}

// terminalEnvelope synthesizes the terminal event for a run that
// finished before the subscriber arrived.
func terminalEnvelope(run *domain.Run) (*protocol.Envelope, error) {
	if run.Success {
		return protocol.NewEnvelope(protocol.MsgRunCompleted, run.ID.String(), protocol.RunCompletedPayload{
			ToolCalls:       len(run.ToolCalls),
			ExecutionTimeMS: run.PlanningMS + run.ExecutionMS,
			Result:          run.Result,
		})
	}

	// An empty script means planning never produced one.
	stage := "executing"
	if run.Script == "" {
		stage = "planning"
	}
	return protocol.NewEnvelope(protocol.MsgRunFailed, run.ID.String(), protocol.RunFailedPayload{
		Stage:  stage,
		Errors: run.Errors,
	})
}
