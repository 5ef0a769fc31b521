package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/jkaninda/mpango/internal/script"
	"github.com/jkaninda/mpango/internal/tools"
)

const (
	// maxCallDepth bounds script-local function recursion.
	maxCallDepth = 64

	// resultVar is the reserved output variable a script assigns to
	// produce its final value.
	resultVar = "result"
)

// env is one name scope. Function bodies get a child env whose parent
// is the global scope: reads fall through, writes bind locally.
type env struct {
	vars   map[string]any
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]any), parent: parent}
}

func (e *env) lookup(name string) (any, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *env) set(name string, v any) { e.vars[name] = v }

// --- Callable values ---

// funcVal is a script-local function declared with def.
type funcVal struct {
	name   string
	params []string
	body   []script.Stmt
}

// builtinVal is a reference to one of the fixed builtins.
type builtinVal struct {
	name string
}

// toolVal is a reference to a registered tool. Calls through it are
// intercepted and recorded.
type toolVal struct {
	name string
}

// --- Control-flow signals ---

// Signals travel as errors so they unwind the evaluator naturally. The
// validator guarantees placement, so none escapes its construct.
type breakSignal struct{}
type continueSignal struct{}
type returnSignal struct{ value any }

func (breakSignal) Error() string    { return "break" }
func (continueSignal) Error() string { return "continue" }
func (returnSignal) Error() string   { return "return" }

// --- Runtime ---

// runtime interprets one validated script. It is single-use: a fresh
// runtime is built per execution, so runs share nothing but the
// read-only registry.
type runtime struct {
	ctx      context.Context
	registry *tools.Registry
	caller   string
	globals  *env
	stdout   *captureBuffer
	calls    []tools.ToolCall
	observer func(tools.ToolCall)
	logger   *slog.Logger
	depth    int
}

func newRuntime(ctx context.Context, reg *tools.Registry, caller string, stdout *captureBuffer, observer func(tools.ToolCall), logger *slog.Logger) *runtime {
	return &runtime{
		ctx:      ctx,
		registry: reg,
		caller:   caller,
		globals:  newEnv(nil),
		stdout:   stdout,
		observer: observer,
		logger:   logger,
	}
}

// run executes the script and returns the value of the reserved output
// variable, with present reporting whether the script assigned it.
func (rt *runtime) run(stmts []script.Stmt) (value any, present bool, err error) {
	if err := rt.execBlock(rt.globals, stmts); err != nil {
		switch err.(type) {
		case breakSignal, continueSignal, returnSignal:
			return nil, false, &RuntimeError{Msg: "control flow escaped the script body"}
		}
		return nil, false, err
	}
	v, ok := rt.globals.lookup(resultVar)
	return v, ok, nil
}

func (rt *runtime) errf(pos script.Pos, format string, args ...any) *RuntimeError {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}

// --- Statement execution ---

func (rt *runtime) execBlock(e *env, stmts []script.Stmt) error {
	for _, s := range stmts {
		if err := rt.ctx.Err(); err != nil {
			return err
		}
		if err := rt.execStmt(e, s); err != nil {
			return err
		}
	}
	return nil
}

func (rt *runtime) execStmt(e *env, s script.Stmt) error {
	switch st := s.(type) {
	case *script.AssignStmt:
		return rt.execAssign(e, st)

	case *script.ExprStmt:
		_, err := rt.evalExpr(e, st.X)
		return err

	case *script.IfStmt:
		cond, err := rt.evalExpr(e, st.Cond)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return rt.execBlock(e, st.Body)
		}
		return rt.execBlock(e, st.Else)

	case *script.WhileStmt:
		for {
			if err := rt.ctx.Err(); err != nil {
				return err
			}
			cond, err := rt.evalExpr(e, st.Cond)
			if err != nil {
				return err
			}
			if !truthy(cond) {
				return nil
			}
			if err := rt.execBlock(e, st.Body); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				}
				return err
			}
		}

	case *script.ForStmt:
		return rt.execFor(e, st)

	case *script.DefStmt:
		e.set(st.Name, &funcVal{name: st.Name, params: st.Params, body: st.Body})
		return nil

	case *script.ReturnStmt:
		var v any
		if st.Value != nil {
			var err error
			v, err = rt.evalExpr(e, st.Value)
			if err != nil {
				return err
			}
		}
		return returnSignal{value: v}

	case *script.BreakStmt:
		return breakSignal{}

	case *script.ContinueStmt:
		return continueSignal{}

	case *script.PassStmt:
		return nil

	case *script.ImportStmt:
		// Unreachable past validation; reject anyway.
		return rt.errf(st.Pos, "import is not allowed")
	}
	return nil
}

func (rt *runtime) execAssign(e *env, st *script.AssignStmt) error {
	switch target := st.Target.(type) {
	case *script.NameExpr:
		var newV any
		if st.Op == script.Assign {
			v, err := rt.evalExpr(e, st.Value)
			if err != nil {
				return err
			}
			newV = v
		} else {
			old, ok := e.lookup(target.Name)
			if !ok {
				return rt.errf(target.Pos, "name %q is not defined", target.Name)
			}
			rhs, err := rt.evalExpr(e, st.Value)
			if err != nil {
				return err
			}
			newV, err = rt.applyBinary(augmentedOp(st.Op), old, rhs, st.Pos)
			if err != nil {
				return err
			}
		}
		e.set(target.Name, newV)
		return nil

	case *script.IndexExpr:
		container, err := rt.evalExpr(e, target.X)
		if err != nil {
			return err
		}
		idx, err := rt.evalExpr(e, target.Index)
		if err != nil {
			return err
		}
		rhs, err := rt.evalExpr(e, st.Value)
		if err != nil {
			return err
		}
		if st.Op != script.Assign {
			old, err := rt.indexValue(container, idx, target.Pos)
			if err != nil {
				return err
			}
			rhs, err = rt.applyBinary(augmentedOp(st.Op), old, rhs, st.Pos)
			if err != nil {
				return err
			}
		}
		return rt.setIndex(container, idx, rhs, target.Pos)
	}
	return rt.errf(st.Pos, "cannot assign to this expression")
}

// augmentedOp maps an augmented assignment operator to its binary op.
func augmentedOp(op script.Kind) script.Kind {
	switch op {
	case script.PlusAssign:
		return script.Plus
	case script.MinusAssign:
		return script.Minus
	case script.StarAssign:
		return script.Star
	case script.SlashAssign:
		return script.Slash
	}
	return op
}

func (rt *runtime) execFor(e *env, st *script.ForStmt) error {
	iter, err := rt.evalExpr(e, st.Iter)
	if err != nil {
		return err
	}

	bindAndRun := func(elem any) error {
		if err := rt.ctx.Err(); err != nil {
			return err
		}
		if len(st.Names) == 1 {
			e.set(st.Names[0], elem)
		} else {
			pair, ok := elem.(*listVal)
			if !ok || len(pair.items) != len(st.Names) {
				return rt.errf(st.Pos, "cannot unpack %s into %d variables", typeName(elem), len(st.Names))
			}
			for i, name := range st.Names {
				e.set(name, pair.items[i])
			}
		}
		return rt.execBlock(e, st.Body)
	}

	loop := func(next func(i int) (any, bool)) error {
		for i := 0; ; i++ {
			elem, ok := next(i)
			if !ok {
				return nil
			}
			if err := bindAndRun(elem); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				}
				return err
			}
		}
	}

	switch it := iter.(type) {
	case *listVal:
		// Live indexing: growth during iteration is visible, and the
		// deadline bounds the pathological case.
		return loop(func(i int) (any, bool) {
			if i >= len(it.items) {
				return nil, false
			}
			return it.items[i], true
		})
	case string:
		runes := []rune(it)
		return loop(func(i int) (any, bool) {
			if i >= len(runes) {
				return nil, false
			}
			return string(runes[i]), true
		})
	case map[string]any:
		keys := sortedKeys(it)
		return loop(func(i int) (any, bool) {
			if i >= len(keys) {
				return nil, false
			}
			return keys[i], true
		})
	}
	return rt.errf(st.Pos, "%s is not iterable", typeName(iter))
}

// --- Expression evaluation ---

func (rt *runtime) evalExpr(e *env, ex script.Expr) (any, error) {
	switch x := ex.(type) {
	case *script.NameExpr:
		if v, ok := e.lookup(x.Name); ok {
			return v, nil
		}
		if builtinNames[x.Name] {
			return &builtinVal{name: x.Name}, nil
		}
		if _, err := rt.registry.Resolve(x.Name, rt.caller); err == nil {
			return &toolVal{name: x.Name}, nil
		} else if _, denied := err.(*tools.ToolAccessDeniedError); denied {
			// Denied resolution is loud at first reference, not a
			// silent fallthrough to unknown-name.
			return nil, &RuntimeError{Msg: err.Error(), Pos: x.Pos, Err: err}
		}
		return nil, rt.errf(x.Pos, "name %q is not defined", x.Name)

	case *script.IntLit:
		return x.Value, nil
	case *script.FloatLit:
		return x.Value, nil
	case *script.StringLit:
		return x.Value, nil
	case *script.BoolLit:
		return x.Value, nil
	case *script.NoneLit:
		return nil, nil

	case *script.ListLit:
		items := make([]any, len(x.Elems))
		for i, el := range x.Elems {
			v, err := rt.evalExpr(e, el)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return newList(items), nil

	case *script.DictLit:
		d := make(map[string]any, len(x.Keys))
		for i := range x.Keys {
			k, err := rt.evalExpr(e, x.Keys[i])
			if err != nil {
				return nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, rt.errf(x.Keys[i].Position(), "dict keys must be strings, got %s", typeName(k))
			}
			v, err := rt.evalExpr(e, x.Values[i])
			if err != nil {
				return nil, err
			}
			d[key] = v
		}
		return d, nil

	case *script.UnaryExpr:
		v, err := rt.evalExpr(e, x.X)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case script.Minus:
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
			return nil, rt.errf(x.Pos, "cannot negate %s", typeName(v))
		case script.KwNot:
			return !truthy(v), nil
		}
		return nil, rt.errf(x.Pos, "unsupported unary operator")

	case *script.BinaryExpr:
		return rt.evalBinary(e, x)

	case *script.CondExpr:
		cond, err := rt.evalExpr(e, x.Cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return rt.evalExpr(e, x.Then)
		}
		return rt.evalExpr(e, x.Else)

	case *script.CallExpr:
		return rt.evalCall(e, x)

	case *script.IndexExpr:
		container, err := rt.evalExpr(e, x.X)
		if err != nil {
			return nil, err
		}
		idx, err := rt.evalExpr(e, x.Index)
		if err != nil {
			return nil, err
		}
		return rt.indexValue(container, idx, x.Pos)

	case *script.SliceExpr:
		return rt.evalSlice(e, x)

	case *script.AttrExpr:
		// Unreachable past validation; reject anyway.
		return nil, rt.errf(x.Pos, "attribute access is not allowed")
	}
	return nil, &RuntimeError{Msg: "unsupported expression"}
}

func (rt *runtime) evalBinary(e *env, x *script.BinaryExpr) (any, error) {
	// Short-circuit operators return an operand value, not a bool.
	switch x.Op {
	case script.KwAnd:
		left, err := rt.evalExpr(e, x.X)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return left, nil
		}
		return rt.evalExpr(e, x.Y)
	case script.KwOr:
		left, err := rt.evalExpr(e, x.X)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return left, nil
		}
		return rt.evalExpr(e, x.Y)
	}

	left, err := rt.evalExpr(e, x.X)
	if err != nil {
		return nil, err
	}
	right, err := rt.evalExpr(e, x.Y)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case script.KwIn:
		ok, err := rt.contains(right, left, x.Pos)
		if err != nil {
			return nil, err
		}
		if x.NotIn {
			return !ok, nil
		}
		return ok, nil
	case script.KwIs:
		same := identical(left, right)
		if x.IsNot {
			return !same, nil
		}
		return same, nil
	}
	return rt.applyBinary(x.Op, left, right, x.Pos)
}

func (rt *runtime) applyBinary(op script.Kind, left, right any, pos script.Pos) (any, error) {
	switch op {
	case script.Eq:
		return valueEqual(left, right), nil
	case script.NotEq:
		return !valueEqual(left, right), nil
	case script.Lt, script.LtEq, script.Gt, script.GtEq:
		c, err := compareValues(left, right)
		if err != nil {
			return nil, rt.errf(pos, "%s", err.Error())
		}
		switch op {
		case script.Lt:
			return c < 0, nil
		case script.LtEq:
			return c <= 0, nil
		case script.Gt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}

	case script.Plus:
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
			return nil, rt.errf(pos, "cannot concatenate str and %s; use str()", typeName(right))
		}
		if ll, ok := left.(*listVal); ok {
			if rl, ok := right.(*listVal); ok {
				items := make([]any, 0, len(ll.items)+len(rl.items))
				items = append(items, ll.items...)
				items = append(items, rl.items...)
				return newList(items), nil
			}
			return nil, rt.errf(pos, "cannot concatenate list and %s", typeName(right))
		}
		return rt.arith(op, left, right, pos)

	case script.Star:
		if s, n, ok := repeatOperands(left, right); ok {
			if n < 0 {
				n = 0
			}
			switch sv := s.(type) {
			case string:
				return repeatString(sv, n), nil
			case *listVal:
				items := make([]any, 0, len(sv.items)*n)
				for i := 0; i < n; i++ {
					items = append(items, sv.items...)
				}
				return newList(items), nil
			}
		}
		return rt.arith(op, left, right, pos)

	case script.Minus, script.Slash, script.SlashSlash, script.Percent:
		return rt.arith(op, left, right, pos)
	}
	return nil, rt.errf(pos, "unsupported operator")
}

// arith applies a numeric operator with int/float promotion.
func (rt *runtime) arith(op script.Kind, left, right any, pos script.Pos) (any, error) {
	li, lIsInt := left.(int64)
	ri, rIsInt := right.(int64)
	if lIsInt && rIsInt {
		switch op {
		case script.Plus:
			return li + ri, nil
		case script.Minus:
			return li - ri, nil
		case script.Star:
			return li * ri, nil
		case script.Slash:
			if ri == 0 {
				return nil, rt.errf(pos, "division by zero")
			}
			return float64(li) / float64(ri), nil
		case script.SlashSlash:
			if ri == 0 {
				return nil, rt.errf(pos, "division by zero")
			}
			q := li / ri
			if li%ri != 0 && (li < 0) != (ri < 0) {
				q--
			}
			return q, nil
		case script.Percent:
			if ri == 0 {
				return nil, rt.errf(pos, "division by zero")
			}
			r := li % ri
			if r != 0 && (r < 0) != (ri < 0) {
				r += ri
			}
			return r, nil
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, rt.errf(pos, "unsupported operand types: %s and %s", typeName(left), typeName(right))
	}
	switch op {
	case script.Plus:
		return lf + rf, nil
	case script.Minus:
		return lf - rf, nil
	case script.Star:
		return lf * rf, nil
	case script.Slash:
		if rf == 0 {
			return nil, rt.errf(pos, "division by zero")
		}
		return lf / rf, nil
	case script.SlashSlash:
		if rf == 0 {
			return nil, rt.errf(pos, "division by zero")
		}
		return floorDiv(lf, rf), nil
	case script.Percent:
		if rf == 0 {
			return nil, rt.errf(pos, "division by zero")
		}
		return floatMod(lf, rf), nil
	}
	return nil, rt.errf(pos, "unsupported operator")
}

// contains implements the `in` operator: substring for strings, deep
// element equality for lists, key presence for dicts.
func (rt *runtime) contains(container, needle any, pos script.Pos) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, rt.errf(pos, "`in <str>` requires a str operand, got %s", typeName(needle))
		}
		return strings.Contains(c, s), nil
	case *listVal:
		for _, it := range c.items {
			if valueEqual(it, needle) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, present := c[k]
		return present, nil
	}
	return false, rt.errf(pos, "%s is not a container", typeName(container))
}

// identical implements `is`: identity for containers, equality for the
// simple kinds. Scripts use it almost exclusively as `x is None`.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if al, ok := a.(*listVal); ok {
		bl, ok := b.(*listVal)
		return ok && al == bl
	}
	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		return ok && reflect.ValueOf(am).Pointer() == reflect.ValueOf(bm).Pointer()
	}
	return valueEqual(a, b)
}

// --- Indexing and slicing ---

func (rt *runtime) indexValue(container, idx any, pos script.Pos) (any, error) {
	switch c := container.(type) {
	case *listVal:
		i, err := rt.normalizeIndex(idx, len(c.items), pos)
		if err != nil {
			return nil, err
		}
		return c.items[i], nil
	case string:
		runes := []rune(c)
		i, err := rt.normalizeIndex(idx, len(runes), pos)
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil, rt.errf(pos, "dict keys must be strings, got %s", typeName(idx))
		}
		v, present := c[k]
		if !present {
			return nil, rt.errf(pos, "key %q not found", k)
		}
		return v, nil
	}
	return nil, rt.errf(pos, "%s is not indexable", typeName(container))
}

func (rt *runtime) setIndex(container, idx, v any, pos script.Pos) error {
	switch c := container.(type) {
	case *listVal:
		i, err := rt.normalizeIndex(idx, len(c.items), pos)
		if err != nil {
			return err
		}
		c.items[i] = v
		return nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return rt.errf(pos, "dict keys must be strings, got %s", typeName(idx))
		}
		c[k] = v
		return nil
	}
	return rt.errf(pos, "%s does not support index assignment", typeName(container))
}

// normalizeIndex resolves a possibly negative index against length.
func (rt *runtime) normalizeIndex(idx any, length int, pos script.Pos) (int, error) {
	n, ok := idx.(int64)
	if !ok {
		return 0, rt.errf(pos, "index must be an int, got %s", typeName(idx))
	}
	i := int(n)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, rt.errf(pos, "index %d out of range", n)
	}
	return i, nil
}

func (rt *runtime) evalSlice(e *env, x *script.SliceExpr) (any, error) {
	container, err := rt.evalExpr(e, x.X)
	if err != nil {
		return nil, err
	}

	bound := func(ex script.Expr, def int, length int) (int, error) {
		if ex == nil {
			return def, nil
		}
		v, err := rt.evalExpr(e, ex)
		if err != nil {
			return 0, err
		}
		n, ok := v.(int64)
		if !ok {
			return 0, rt.errf(ex.Position(), "slice bounds must be ints, got %s", typeName(v))
		}
		i := int(n)
		if i < 0 {
			i += length
		}
		if i < 0 {
			i = 0
		}
		if i > length {
			i = length
		}
		return i, nil
	}

	switch c := container.(type) {
	case *listVal:
		lo, err := bound(x.Lo, 0, len(c.items))
		if err != nil {
			return nil, err
		}
		hi, err := bound(x.Hi, len(c.items), len(c.items))
		if err != nil {
			return nil, err
		}
		if lo > hi {
			lo = hi
		}
		out := make([]any, hi-lo)
		copy(out, c.items[lo:hi])
		return newList(out), nil
	case string:
		runes := []rune(c)
		lo, err := bound(x.Lo, 0, len(runes))
		if err != nil {
			return nil, err
		}
		hi, err := bound(x.Hi, len(runes), len(runes))
		if err != nil {
			return nil, err
		}
		if lo > hi {
			lo = hi
		}
		return string(runes[lo:hi]), nil
	}
	return nil, rt.errf(x.Pos, "%s is not sliceable", typeName(container))
}

// --- Calls ---

func (rt *runtime) evalCall(e *env, x *script.CallExpr) (any, error) {
	fn, err := rt.evalExpr(e, x.Func)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(x.Args))
	for i, a := range x.Args {
		v, err := rt.evalExpr(e, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	kwargs := make(map[string]any, len(x.Kwargs))
	kworder := make([]string, 0, len(x.Kwargs))
	for _, kw := range x.Kwargs {
		if _, dup := kwargs[kw.Name]; dup {
			return nil, rt.errf(x.Pos, "duplicate keyword argument %q", kw.Name)
		}
		v, err := rt.evalExpr(e, kw.Value)
		if err != nil {
			return nil, err
		}
		kwargs[kw.Name] = v
		kworder = append(kworder, kw.Name)
	}

	switch f := fn.(type) {
	case *funcVal:
		return rt.callFunction(f, args, kwargs, x.Pos)
	case *builtinVal:
		return rt.callBuiltin(f.name, args, kwargs, x.Pos)
	case *toolVal:
		return rt.callTool(f.name, args, kwargs, kworder, x.Pos)
	}
	return nil, rt.errf(x.Pos, "%s is not callable", typeName(fn))
}

func (rt *runtime) callFunction(f *funcVal, args []any, kwargs map[string]any, pos script.Pos) (any, error) {
	if rt.depth >= maxCallDepth {
		return nil, rt.errf(pos, "maximum call depth (%d) exceeded in %s", maxCallDepth, f.name)
	}
	if len(args) > len(f.params) {
		return nil, rt.errf(pos, "%s() takes %d arguments, got %d", f.name, len(f.params), len(args))
	}

	local := newEnv(rt.globals)
	for i, a := range args {
		local.set(f.params[i], a)
	}
	for name, v := range kwargs {
		known := false
		for _, p := range f.params {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return nil, rt.errf(pos, "%s() got an unexpected keyword argument %q", f.name, name)
		}
		if _, set := local.vars[name]; set {
			return nil, rt.errf(pos, "%s() got multiple values for argument %q", f.name, name)
		}
		local.set(name, v)
	}
	for _, p := range f.params {
		if _, set := local.vars[p]; !set {
			return nil, rt.errf(pos, "%s() missing required argument %q", f.name, p)
		}
	}

	rt.depth++
	err := rt.execBlock(local, f.body)
	rt.depth--
	if err != nil {
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		return nil, err
	}
	return nil, nil
}

// callTool is the single interception point for every tool invocation
// a script makes. It resolves through the registry with the run's
// caller identity, converts arguments to plain values, records the
// completed call, and hands the entry to the observer.
func (rt *runtime) callTool(name string, args []any, kwargs map[string]any, kworder []string, pos script.Pos) (any, error) {
	tool, err := rt.registry.Resolve(name, rt.caller)
	if err != nil {
		return nil, &RuntimeError{Msg: err.Error(), Pos: pos, Err: err}
	}

	plain := make(map[string]any, len(kwargs)+len(args))
	for _, k := range kworder {
		v, err := rt.plainArg(kwargs[k], pos)
		if err != nil {
			return nil, err
		}
		plain[k] = v
	}
	if len(args) > 0 {
		p, ok := tool.(tools.Positional)
		if !ok {
			return nil, rt.errf(pos, "tool %s takes keyword arguments only", name)
		}
		order := p.ParamOrder()
		if len(args) > len(order) {
			return nil, rt.errf(pos, "tool %s takes at most %d arguments, got %d", name, len(order), len(args))
		}
		for i, a := range args {
			if _, dup := plain[order[i]]; dup {
				return nil, rt.errf(pos, "tool %s got multiple values for argument %q", name, order[i])
			}
			v, err := rt.plainArg(a, pos)
			if err != nil {
				return nil, err
			}
			plain[order[i]] = v
		}
	}

	if err := rt.ctx.Err(); err != nil {
		return nil, err
	}

	rt.logger.DebugContext(rt.ctx, "tool call",
		slog.String("tool", name),
		slog.String("caller", rt.caller),
	)

	ret, err := tool.Call(rt.ctx, plain)
	if err != nil {
		if rt.ctx.Err() != nil {
			return nil, rt.ctx.Err()
		}
		return nil, &RuntimeError{Msg: "tool " + name + " failed: " + err.Error(), Pos: pos, Err: err}
	}

	entry := tools.ToolCall{
		ToolName:    name,
		Arguments:   plain,
		ReturnValue: ret,
		Timestamp:   time.Now().UTC(),
	}
	rt.calls = append(rt.calls, entry)
	if rt.observer != nil {
		rt.observer(entry)
	}

	return fromPlain(ret), nil
}

func (rt *runtime) plainArg(v any, pos script.Pos) (any, error) {
	switch v.(type) {
	case *funcVal, *builtinVal, *toolVal:
		return nil, rt.errf(pos, "cannot pass a %s to a tool", typeName(v))
	}
	return toPlain(v), nil
}
