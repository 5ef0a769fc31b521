// Package tools defines the host tool model and registry for Mpango.
// A tool is a named host function a plan script may invoke. Each tool
// declares which callers may resolve it, so access is decided at the
// registry before a script ever reaches the handler.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tool is the interface all Mpango host tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "assign_task").
	Name() string

	// Description returns a human-readable description. The planner
	// sends it verbatim to the planning model, so it should state what
	// the tool does and what arguments it takes.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// arguments. Shown to the planning model as part of the catalog.
	InputSchema() map[string]any

	// AllowedCallers returns the caller identifiers permitted to
	// resolve this tool. An empty slice means any caller.
	AllowedCallers() []string

	// Call runs the tool. Arguments arrive as plain values (nil, bool,
	// int64, float64, string, []any, map[string]any) and the return
	// value must use the same domain.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Positional is optionally implemented by tools whose arguments may be
// passed positionally from a script. ParamOrder returns argument names
// in declaration order.
type Positional interface {
	ParamOrder() []string
}

// Spec is one catalog entry: what a script may call and how.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is one completed tool invocation recorded by the runtime's
// interception wrapper. Arguments and ReturnValue hold plain values so
// the record serializes cleanly.
type ToolCall struct {
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	ReturnValue any            `json:"return_value,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// MaxOutputBytes is the default cap for tool output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const callerIDKey contextKey = iota

// ContextWithCaller returns a new context carrying the caller identifier.
// The executor sets it so registry resolution and tool handlers know who
// is running the script.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerIDKey, caller)
}

// CallerFromContext extracts the caller identifier from context, or ""
// if not set.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// --- Errors ---

// DuplicateToolError reports a second registration under a taken name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// ToolNotFoundError reports resolution of a name no tool is registered under.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

// ToolAccessDeniedError reports a caller outside a tool's allowed set.
type ToolAccessDeniedError struct {
	Name   string
	Caller string
}

func (e *ToolAccessDeniedError) Error() string {
	return fmt.Sprintf("caller %q is not allowed to invoke tool %q", e.Caller, e.Name)
}

// --- Registry ---

// Registry holds the fixed tool set a sandbox executor exposes.
// Registration happens at startup; afterwards the registry is read-only
// and safe for concurrent runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, so Catalog is deterministic
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Returns DuplicateToolError if the name is taken.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for startup wiring; it panics on duplicates.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err.Error())
	}
}

// Resolve returns the tool registered under name if caller may invoke
// it. The error is ToolNotFoundError for an unknown name and
// ToolAccessDeniedError for a caller outside the tool's allowed set.
func (r *Registry) Resolve(name, caller string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	allowed := t.AllowedCallers()
	if len(allowed) == 0 {
		return t, nil
	}
	for _, a := range allowed {
		if a == caller {
			return t, nil
		}
	}
	return nil, &ToolAccessDeniedError{Name: name, Caller: caller}
}

// Names returns all registered tool names in registration order.
// The validator uses this as the callable-name set.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Catalog returns one Spec per tool in registration order. This is the
// only channel through which capability is advertised to the planning
// model.
func (r *Registry) Catalog() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return specs
}
