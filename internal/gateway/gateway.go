// Package gateway defines the interface for user-facing entry points.
package gateway

import "context"

// Gateway is a user-facing entry point (CLI, HTTP, WebSocket).
type Gateway interface {
	// Start runs the gateway's serve loop. It blocks until the gateway
	// exits or ctx is canceled, and returns a non-nil error only on
	// failure.
	Start(ctx context.Context) error

	// Stop shuts the gateway down gracefully, draining in-flight work
	// within the deadline ctx carries.
	Stop(ctx context.Context) error
}
