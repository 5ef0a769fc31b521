// Package sandbox validates and executes plan scripts in an isolated
// in-process runtime. Generated code never touches the host: the only
// reachable capabilities are the fixed builtin set and the tools
// registered for the executor.
//
// Security guarantees:
//   - Static validation rejects imports, dynamic evaluation, attribute
//     access, shadowing, and unknown identifiers before anything runs
//   - A rejected script has zero observable side effects
//   - Every tool call passes through one interception wrapper, is
//     checked against the tool's allowed callers, and is recorded in
//     invocation order
//   - Execution is bounded by a wall-clock deadline
//   - stdout and the result value are capped to prevent OOM
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/mpango/internal/script"
	"github.com/jkaninda/mpango/internal/tools"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxOutputBytes = 64 << 10 // 64 KiB
)

// Config bounds one executor's runs.
type Config struct {
	// Timeout is the default wall-clock budget per script. Zero = 60s.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout and the serialized result
	// value. Zero = 64 KiB.
	MaxOutputBytes int
}

// ExecutionResult captures the outcome of one script execution.
type ExecutionResult struct {
	Success         bool             `json:"success"`
	Result          any              `json:"result,omitempty"`
	Stdout          string           `json:"stdout,omitempty"`
	ToolCalls       []tools.ToolCall `json:"tool_calls"`
	ElapsedMS       int64            `json:"elapsed_ms"`
	Error           string           `json:"error,omitempty"`
	StdoutTruncated bool             `json:"stdout_truncated,omitempty"`
	ResultTruncated bool             `json:"result_truncated,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`

	// Err is the typed failure (ValidationError, TimeoutError,
	// RuntimeError) for errors.As; Error mirrors it for serialization.
	Err error `json:"-"`
}

// ExecOption adjusts a single Execute call.
type ExecOption func(*execSettings)

type execSettings struct {
	timeout   time.Duration
	observers []func(tools.ToolCall)
}

// observer folds all registered observers into one callback, or nil
// when none are registered.
func (s *execSettings) observer() func(tools.ToolCall) {
	switch len(s.observers) {
	case 0:
		return nil
	case 1:
		return s.observers[0]
	}
	obs := s.observers
	return func(call tools.ToolCall) {
		for _, fn := range obs {
			fn(call)
		}
	}
}

// WithTimeout overrides the executor's default wall-clock budget for
// one run. Non-positive values fall back to the default.
func WithTimeout(d time.Duration) ExecOption {
	return func(s *execSettings) { s.timeout = d }
}

// WithCallObserver registers a callback invoked after each completed
// tool call, in invocation order. Observers accumulate across options.
// Callbacks run on the interpreter goroutine and must return quickly.
func WithCallObserver(fn func(tools.ToolCall)) ExecOption {
	return func(s *execSettings) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Runner is the executor surface consumers depend on. Satisfied by
// *Executor and by instrumented wrappers around it.
type Runner interface {
	Validate(src string) error
	Execute(ctx context.Context, src string, opts ...ExecOption) *ExecutionResult
}

// Executor validates and runs plan scripts against a fixed registry.
// Safe for concurrent use: each run gets its own runtime, namespace,
// and tool-call log.
type Executor struct {
	registry  *tools.Registry
	validator *Validator
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an executor over the given registry. The
// registry must be fully populated: the validator snapshots the tool
// names it accepts at construction.
func NewExecutor(registry *tools.Registry, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &Executor{
		registry:  registry,
		validator: NewValidator(registry.Names()),
		timeout:   timeout,
		maxOutput: maxOutput,
		logger:    logger,
	}
}

// Validate parses and statically checks a script without running it.
// Returns a ValidationError describing the first forbidden construct,
// or nil. Validation is idempotent: the verdict depends only on the
// script text.
func (e *Executor) Validate(src string) error {
	stmts, err := e.parse(src)
	if err != nil {
		return err
	}
	return e.validator.Validate(stmts)
}

// Execute validates and runs a script. It always returns a non-nil
// result: failures are reported through Success, Error, and the typed
// Err, never as a panic or host crash.
func (e *Executor) Execute(ctx context.Context, src string, opts ...ExecOption) *ExecutionResult {
	settings := execSettings{timeout: e.timeout}
	for _, o := range opts {
		o(&settings)
	}
	if settings.timeout <= 0 {
		settings.timeout = e.timeout
	}

	res := &ExecutionResult{ToolCalls: []tools.ToolCall{}}
	start := time.Now()
	fail := func(err error) *ExecutionResult {
		res.ElapsedMS = time.Since(start).Milliseconds()
		res.Err = err
		res.Error = err.Error()
		return res
	}

	stmts, err := e.parse(src)
	if err != nil {
		e.logger.WarnContext(ctx, "script rejected", slog.String("error", err.Error()))
		return fail(err)
	}
	if err := e.validator.Validate(stmts); err != nil {
		e.logger.WarnContext(ctx, "script rejected", slog.String("error", err.Error()))
		return fail(err)
	}

	caller := tools.CallerFromContext(ctx)
	runCtx, cancel := context.WithTimeout(ctx, settings.timeout)
	defer cancel()

	e.logger.InfoContext(ctx, "script executing",
		slog.String("caller", caller),
		slog.Int("script_bytes", len(src)),
		slog.String("timeout", settings.timeout.String()),
	)

	stdout := newCaptureBuffer(e.maxOutput)
	rt := newRuntime(runCtx, e.registry, caller, stdout, settings.observer(), e.logger)
	value, present, runErr := e.runGuarded(rt, stmts)

	res.ToolCalls = rt.calls
	res.Stdout = stdout.String()
	if stdout.Truncated() {
		res.StdoutTruncated = true
		res.Warnings = append(res.Warnings, (&OutputTruncatedWarning{Field: "stdout", Limit: e.maxOutput}).Error())
	}

	if runErr != nil {
		// Committed tool calls stand; the error reports what stopped
		// the script.
		if errors.Is(runErr, context.DeadlineExceeded) {
			runErr = &TimeoutError{Limit: settings.timeout}
		} else if errors.Is(runErr, context.Canceled) {
			runErr = &RuntimeError{Msg: "execution canceled", Err: context.Canceled}
		}
		e.logger.WarnContext(ctx, "script execution failed",
			slog.String("error", runErr.Error()),
			slog.Int("tool_calls", len(res.ToolCalls)),
		)
		return fail(runErr)
	}

	if present {
		plain := toPlain(value)
		capped, truncated := e.capResult(plain)
		res.Result = capped
		if truncated {
			res.ResultTruncated = true
			res.Warnings = append(res.Warnings, (&OutputTruncatedWarning{Field: "result", Limit: e.maxOutput}).Error())
		}
	}
	res.Success = true
	res.ElapsedMS = time.Since(start).Milliseconds()

	e.logger.InfoContext(ctx, "script execution completed",
		slog.Bool("success", true),
		slog.Int64("elapsed_ms", res.ElapsedMS),
		slog.Int("tool_calls", len(res.ToolCalls)),
		slog.Int("stdout_bytes", len(res.Stdout)),
	)
	return res
}

// parse turns source into a tree, folding syntax errors into the
// validation taxonomy: a script that does not parse is a rejected
// script.
func (e *Executor) parse(src string) ([]script.Stmt, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ValidationError{Construct: "empty script", Detail: "script has no statements"}
	}
	stmts, err := script.Parse(src)
	if err != nil {
		ve := &ValidationError{Construct: "syntax error", Detail: err.Error()}
		var syn *script.SyntaxError
		if errors.As(err, &syn) {
			ve.Detail = syn.Msg
			ve.Pos = syn.Pos
		}
		return nil, ve
	}
	return stmts, nil
}

// runGuarded shields the host from interpreter panics: a bug in the
// runtime becomes a RuntimeError, never a crash.
func (e *Executor) runGuarded(rt *runtime, stmts []script.Stmt) (value any, present bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("runtime panic recovered", slog.String("panic", fmt.Sprintf("%v", r)))
			err = &RuntimeError{Msg: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return rt.run(stmts)
}

// capResult bounds the result value's serialized size. Oversized
// strings are cut in place; any other oversized value is replaced by
// its truncated JSON rendering.
func (e *Executor) capResult(v any) (any, bool) {
	if s, ok := v.(string); ok {
		if len(s) <= e.maxOutput {
			return s, false
		}
		return tools.TruncateOutput(s, e.maxOutput), true
	}
	b, err := json.Marshal(v)
	if err != nil || len(b) <= e.maxOutput {
		return v, false
	}
	return tools.TruncateOutput(string(b), e.maxOutput), true
}

// captureBuffer collects script stdout up to a byte limit. Excess is
// silently discarded and the cut recorded, not an error.
type captureBuffer struct {
	buf       strings.Builder
	remaining int
	truncated bool
}

func newCaptureBuffer(maxBytes int) *captureBuffer {
	return &captureBuffer{remaining: maxBytes}
}

func (b *captureBuffer) WriteString(s string) {
	if b.remaining <= 0 {
		if len(s) > 0 {
			b.truncated = true
		}
		return
	}
	if len(s) > b.remaining {
		s = s[:b.remaining]
		b.truncated = true
	}
	b.buf.WriteString(s)
	b.remaining -= len(s)
}

func (b *captureBuffer) String() string  { return b.buf.String() }
func (b *captureBuffer) Truncated() bool { return b.truncated }
