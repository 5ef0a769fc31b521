package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from registered dependency checks.
type HealthChecker struct {
	mu     sync.Mutex
	checks []healthCheck
	logger *slog.Logger
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, check: check})
}

// CheckHealth returns liveness status. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs all registered checks and returns aggregate readiness.
// Checks run concurrently under a shared timeout so one stalled
// dependency cannot starve the rest of the budget. Returns "ok" only if
// all checks pass; "degraded" if any fail.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]CheckResult, len(checks))
		degraded  bool
		wg        sync.WaitGroup
	)

	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.check(checkCtx)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				degraded = true
				results[c.name] = CheckResult{Status: "fail", Message: err.Error()}
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", c.name),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			results[c.name] = CheckResult{Status: "ok"}
		}()
	}
	wg.Wait()

	status := HealthStatus{Status: "ok", Checks: results}
	if degraded {
		status.Status = "degraded"
	}
	return status
}
