package sandbox

import (
	"fmt"
	"strings"

	"github.com/jkaninda/mpango/internal/script"
)

// builtinNames is the exhaustive callable surface the runtime provides
// beyond registered tools. The validator treats anything outside this
// set, the tool catalog, and script-assigned names as unknown.
var builtinNames = map[string]bool{
	"len": true, "range": true, "str": true, "int": true, "float": true,
	"bool": true, "abs": true, "min": true, "max": true, "sum": true,
	"sorted": true, "round": true, "enumerate": true, "zip": true,
	"keys": true, "values": true, "items": true, "append": true,
	"format": true, "print": true,
}

// forbiddenCalls are names whose invocation is rejected outright, with
// a targeted diagnostic instead of the generic unknown-identifier one.
// They cover dynamic evaluation, reflective access, and host I/O.
var forbiddenCalls = map[string]bool{
	"eval": true, "compile": true, "__import__": true,
	"getattr": true, "setattr": true, "delattr": true, "hasattr": true,
	"globals": true, "locals": true, "vars": true, "dir": true,
	"open": true, "file": true, "input": true, "breakpoint": true,
	"exit": true, "quit": true, "socket": true,
}

// Validator statically checks a parsed script against the restricted
// surface. It holds no per-run state: validating the same tree twice
// yields the same verdict, and a rejected script has had zero effect.
type Validator struct {
	tools map[string]bool
}

// NewValidator creates a validator that accepts calls to the given
// tool names in addition to the builtin set.
func NewValidator(toolNames []string) *Validator {
	t := make(map[string]bool, len(toolNames))
	for _, name := range toolNames {
		t[name] = true
	}
	return &Validator{tools: t}
}

// Validate walks the tree and returns a ValidationError for the first
// forbidden construct found, or nil if the script is admissible.
func (v *Validator) Validate(stmts []script.Stmt) error {
	c := &checker{tools: v.tools, scope: map[string]bool{}}
	collectAssigned(stmts, c.scope)
	return c.checkBlock(stmts)
}

// checker carries the walk state: the name scope currently in effect
// and the loop/function nesting depth.
type checker struct {
	tools map[string]bool
	scope map[string]bool
	loops int
	funcs int
}

// collectAssigned records every name the block binds: assignment
// targets, loop variables, and function names. Function bodies bind a
// separate local scope and are skipped here. Binding is collected for
// the whole block up front, so a name defined later in the script does
// not trip the unknown-identifier check; reading it too early is the
// runtime's error to report.
func collectAssigned(stmts []script.Stmt, scope map[string]bool) {
	for _, s := range stmts {
		switch st := s.(type) {
		case *script.AssignStmt:
			if n, ok := st.Target.(*script.NameExpr); ok {
				scope[n.Name] = true
			}
		case *script.IfStmt:
			collectAssigned(st.Body, scope)
			collectAssigned(st.Else, scope)
		case *script.WhileStmt:
			collectAssigned(st.Body, scope)
		case *script.ForStmt:
			for _, n := range st.Names {
				scope[n] = true
			}
			collectAssigned(st.Body, scope)
		case *script.DefStmt:
			scope[st.Name] = true
		}
	}
}

func (c *checker) checkBlock(stmts []script.Stmt) error {
	for _, s := range stmts {
		if err := c.checkStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkStmt(s script.Stmt) error {
	switch st := s.(type) {
	case *script.ImportStmt:
		return &ValidationError{
			Construct: "import statement",
			Detail:    fmt.Sprintf("import of %q is not allowed", st.Module),
			Pos:       st.Pos,
		}

	case *script.AssignStmt:
		if n, ok := st.Target.(*script.NameExpr); ok {
			if err := c.checkBinding(n.Name, n.Pos); err != nil {
				return err
			}
		} else if err := c.checkExpr(st.Target); err != nil {
			return err
		}
		return c.checkExpr(st.Value)

	case *script.ExprStmt:
		return c.checkExpr(st.X)

	case *script.IfStmt:
		if err := c.checkExpr(st.Cond); err != nil {
			return err
		}
		if err := c.checkBlock(st.Body); err != nil {
			return err
		}
		return c.checkBlock(st.Else)

	case *script.WhileStmt:
		if err := c.checkExpr(st.Cond); err != nil {
			return err
		}
		c.loops++
		err := c.checkBlock(st.Body)
		c.loops--
		return err

	case *script.ForStmt:
		for _, n := range st.Names {
			if err := c.checkBinding(n, st.Pos); err != nil {
				return err
			}
		}
		if err := c.checkExpr(st.Iter); err != nil {
			return err
		}
		c.loops++
		err := c.checkBlock(st.Body)
		c.loops--
		return err

	case *script.DefStmt:
		return c.checkDef(st)

	case *script.ReturnStmt:
		if c.funcs == 0 {
			return &ValidationError{
				Construct: "return outside function",
				Detail:    "return is only allowed inside a def body",
				Pos:       st.Pos,
			}
		}
		if st.Value != nil {
			return c.checkExpr(st.Value)
		}
		return nil

	case *script.BreakStmt:
		if c.loops == 0 {
			return &ValidationError{
				Construct: "break outside loop",
				Detail:    "break is only allowed inside a loop body",
				Pos:       st.Pos,
			}
		}
		return nil

	case *script.ContinueStmt:
		if c.loops == 0 {
			return &ValidationError{
				Construct: "continue outside loop",
				Detail:    "continue is only allowed inside a loop body",
				Pos:       st.Pos,
			}
		}
		return nil

	case *script.PassStmt:
		return nil
	}
	return nil
}

// checkDef validates a function body under its own local scope: the
// parameters plus names the body assigns, layered over the enclosing
// scope. This mirrors the runtime, where a function reads globals but
// binds locally.
func (c *checker) checkDef(st *script.DefStmt) error {
	if err := c.checkBinding(st.Name, st.Pos); err != nil {
		return err
	}
	local := make(map[string]bool, len(c.scope)+len(st.Params))
	for name := range c.scope {
		local[name] = true
	}
	for _, p := range st.Params {
		if err := c.checkBinding(p, st.Pos); err != nil {
			return err
		}
		local[p] = true
	}
	collectAssigned(st.Body, local)

	inner := &checker{tools: c.tools, scope: local, funcs: c.funcs + 1}
	return inner.checkBlock(st.Body)
}

// checkBinding rejects bindings that would shadow a builtin or a tool.
// Shadowing would let a later call reach script-controlled code where
// the planner expected a host capability.
func (c *checker) checkBinding(name string, pos script.Pos) error {
	if builtinNames[name] || forbiddenCalls[name] {
		return &ValidationError{
			Construct: "name shadowing",
			Detail:    fmt.Sprintf("cannot assign to builtin name %q", name),
			Pos:       pos,
		}
	}
	if c.tools[name] {
		return &ValidationError{
			Construct: "name shadowing",
			Detail:    fmt.Sprintf("cannot assign to tool name %q", name),
			Pos:       pos,
		}
	}
	return nil
}

func (c *checker) checkExpr(e script.Expr) error {
	switch ex := e.(type) {
	case *script.NameExpr:
		if forbiddenCalls[ex.Name] {
			return &ValidationError{
				Construct: "forbidden call",
				Detail:    fmt.Sprintf("%q is not available in scripts", ex.Name),
				Pos:       ex.Pos,
			}
		}
		if builtinNames[ex.Name] || c.tools[ex.Name] || c.scope[ex.Name] {
			return nil
		}
		return &ValidationError{
			Construct: "unknown identifier",
			Detail:    fmt.Sprintf("%q is not a builtin, a registered tool, or a script variable", ex.Name),
			Pos:       ex.Pos,
		}

	case *script.AttrExpr:
		if isDunder(ex.Name) {
			return &ValidationError{
				Construct: "dunder attribute access",
				Detail:    fmt.Sprintf("access to %q is not allowed", ex.Name),
				Pos:       ex.Pos,
			}
		}
		return &ValidationError{
			Construct: "attribute access",
			Detail:    fmt.Sprintf("attribute %q is not reachable; use the builtin functions instead", ex.Name),
			Pos:       ex.Pos,
		}

	case *script.CallExpr:
		if n, ok := ex.Func.(*script.NameExpr); ok && forbiddenCalls[n.Name] {
			return &ValidationError{
				Construct: "forbidden call",
				Detail:    fmt.Sprintf("call to %q is not allowed", n.Name),
				Pos:       ex.Pos,
			}
		}
		if err := c.checkExpr(ex.Func); err != nil {
			return err
		}
		for _, a := range ex.Args {
			if err := c.checkExpr(a); err != nil {
				return err
			}
		}
		for _, kw := range ex.Kwargs {
			if err := c.checkExpr(kw.Value); err != nil {
				return err
			}
		}
		return nil

	case *script.UnaryExpr:
		return c.checkExpr(ex.X)

	case *script.BinaryExpr:
		if err := c.checkExpr(ex.X); err != nil {
			return err
		}
		return c.checkExpr(ex.Y)

	case *script.CondExpr:
		if err := c.checkExpr(ex.Cond); err != nil {
			return err
		}
		if err := c.checkExpr(ex.Then); err != nil {
			return err
		}
		return c.checkExpr(ex.Else)

	case *script.IndexExpr:
		if err := c.checkExpr(ex.X); err != nil {
			return err
		}
		return c.checkExpr(ex.Index)

	case *script.SliceExpr:
		if err := c.checkExpr(ex.X); err != nil {
			return err
		}
		if ex.Lo != nil {
			if err := c.checkExpr(ex.Lo); err != nil {
				return err
			}
		}
		if ex.Hi != nil {
			if err := c.checkExpr(ex.Hi); err != nil {
				return err
			}
		}
		return nil

	case *script.ListLit:
		for _, el := range ex.Elems {
			if err := c.checkExpr(el); err != nil {
				return err
			}
		}
		return nil

	case *script.DictLit:
		for i := range ex.Keys {
			if err := c.checkExpr(ex.Keys[i]); err != nil {
				return err
			}
			if err := c.checkExpr(ex.Values[i]); err != nil {
				return err
			}
		}
		return nil
	}
	// Literals carry no names.
	return nil
}

func isDunder(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
