package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mpango/internal/llm"
	"github.com/jkaninda/mpango/internal/sandbox"
	"github.com/jkaninda/mpango/internal/tools"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps a planning model provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if llm.IsRateLimited(err) {
			status = "rate_limited"
		}
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensTotal.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensTotal.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// --- InstrumentedExecutor ---

// InstrumentedExecutor wraps a sandbox.Runner with metrics and tracing.
// Validation verdicts and deadline terminations are recorded from the
// execution result's typed error.
type InstrumentedExecutor struct {
	inner   sandbox.Runner
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedExecutor wraps a script executor with observability.
func NewInstrumentedExecutor(inner sandbox.Runner, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedExecutor {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedExecutor{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (e *InstrumentedExecutor) Validate(src string) error {
	err := e.inner.Validate(src)
	if e.metrics != nil {
		e.metrics.ScriptsValidatedTotal.WithLabelValues(verdict(err == nil)).Inc()
	}
	return err
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, src string, opts ...sandbox.ExecOption) *sandbox.ExecutionResult {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.Int("script.bytes", len(src)),
			))
		defer span.End()
	}

	result := e.inner.Execute(ctx, src, opts...)

	if e.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.Int("script.tool_calls", len(result.ToolCalls)))
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
	}

	if e.metrics != nil {
		// Validation verdicts are recorded by Validate; counting them here
		// too would double-book every script the engine runs.
		var timeoutErr *sandbox.TimeoutError
		if errors.As(result.Err, &timeoutErr) {
			e.metrics.SandboxTimeoutsTotal.Inc()
		}
	}

	return result
}

func verdict(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

// --- Tool instrumentation ---

// InstrumentTool wraps a registry tool so every call increments the
// per-tool counter with its outcome. The wrapper forwards ParamOrder
// only when the inner tool supports positional arguments, keeping the
// runtime's argument handling unchanged.
func InstrumentTool(inner tools.Tool, metrics *MetricsCollector) tools.Tool {
	if metrics == nil {
		return inner
	}
	it := instrumentedTool{inner: inner, metrics: metrics}
	if p, ok := inner.(tools.Positional); ok {
		return &instrumentedPositionalTool{instrumentedTool: it, positional: p}
	}
	return &it
}

type instrumentedTool struct {
	inner   tools.Tool
	metrics *MetricsCollector
}

func (t *instrumentedTool) Name() string                { return t.inner.Name() }
func (t *instrumentedTool) Description() string         { return t.inner.Description() }
func (t *instrumentedTool) InputSchema() map[string]any { return t.inner.InputSchema() }
func (t *instrumentedTool) AllowedCallers() []string    { return t.inner.AllowedCallers() }

func (t *instrumentedTool) Call(ctx context.Context, args map[string]any) (any, error) {
	ret, err := t.inner.Call(ctx, args)
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.ToolCallsTotal.WithLabelValues(t.inner.Name(), status).Inc()
	return ret, err
}

type instrumentedPositionalTool struct {
	instrumentedTool
	positional tools.Positional
}

func (t *instrumentedPositionalTool) ParamOrder() []string { return t.positional.ParamOrder() }

// --- Compile-time interface checks ---

var (
	_ llm.Provider     = (*InstrumentedProvider)(nil)
	_ sandbox.Runner   = (*InstrumentedExecutor)(nil)
	_ tools.Tool       = (*instrumentedTool)(nil)
	_ tools.Positional = (*instrumentedPositionalTool)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
