// Package observability wires Prometheus metrics, OpenTelemetry tracing,
// and health probes together behind one facade. Every component is
// optional: a nil collector, tracer, or checker is safe to hand to the
// recording wrappers, which no-op on nil.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jkaninda/mpango/internal/config"
)

// Observability holds whichever components the config enabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Health  *HealthChecker
}

// New builds the enabled components from cfg. A nil cfg disables
// everything and yields a nil facade, which all accessors tolerate.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	obs := &Observability{
		// The checker always exists; probes register against it as
		// subsystems come up.
		Health: NewHealthChecker(logger),
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	return obs, nil
}

// Shutdown flushes and stops the tracer. Metrics and health checks hold
// no resources that need teardown.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	_ = o.Tracer.Shutdown(ctx)
}

// MetricsOrNil returns the metrics collector or nil if metrics are disabled.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// TracerOrNil returns the OTel tracer setup or nil if tracing is disabled.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

// HealthOrNil returns the health checker or nil.
func (o *Observability) HealthOrNil() *HealthChecker {
	if o == nil {
		return nil
	}
	return o.Health
}
