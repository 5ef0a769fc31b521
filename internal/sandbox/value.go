package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Runtime values are nil, bool, int64, float64, string, *listVal,
// map[string]any (dicts, string keys), and the callable kinds defined
// in runtime.go. Lists are wrapped in a pointer so append and index
// assignment mutate the value every binding sees, matching the source
// language.
type listVal struct {
	items []any
}

func newList(items []any) *listVal { return &listVal{items: items} }

// truthy applies the source language's truth rules: None, False, zero,
// and empty containers are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *listVal:
		return len(x.items) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// valueEqual is deep equality with cross-type numeric comparison, so
// 1 == 1.0 holds the way scripts expect.
func valueEqual(a, b any) bool {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			return an == bn
		}
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *listVal:
		y, ok := b.(*listVal)
		if !ok || len(x.items) != len(y.items) {
			return false
		}
		for i := range x.items {
			if !valueEqual(x.items[i], y.items[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, present := y[k]
			if !present || !valueEqual(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// asFloat reports numeric values as float64. Bools are not numbers
// here; scripts that need arithmetic on them go through int().
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func isNumber(v any) bool {
	_, ok := asFloat(v)
	return ok
}

// compareValues orders two values: -1, 0, or +1. Only numbers may be
// compared with numbers and strings with strings; anything else is a
// type error surfaced by the caller.
func compareValues(a, b any) (int, error) {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1, nil
			case an > bn:
				return 1, nil
			}
			return 0, nil
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), nil
		}
	}
	return 0, fmt.Errorf("cannot order %s and %s", typeName(a), typeName(b))
}

// typeName names a value's type in the script's vocabulary.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *listVal:
		return "list"
	case map[string]any:
		return "dict"
	case *funcVal:
		return "function"
	case *builtinVal, *toolVal:
		return "callable"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// pyStr renders a value the way str() does: bare strings, repr for
// everything nested.
func pyStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return pyRepr(v)
}

func pyRepr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "\\'") + "'"
	case *listVal:
		parts := make([]string, len(x.items))
		for i, it := range x.items {
			parts[i] = pyRepr(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := sortedKeys(x)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = pyRepr(k) + ": " + pyRepr(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *funcVal:
		return "<function " + x.name + ">"
	case *builtinVal:
		return "<builtin " + x.name + ">"
	case *toolVal:
		return "<tool " + x.name + ">"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatFloat keeps a trailing .0 on integral floats so 2.0 round-trips
// as "2.0", not "2".
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// repeatOperands matches `seq * n` in either operand order, returning
// the sequence and the repeat count.
func repeatOperands(a, b any) (seq any, n int, ok bool) {
	if count, isInt := a.(int64); isInt {
		switch b.(type) {
		case string, *listVal:
			return b, int(count), true
		}
	}
	if count, isInt := b.(int64); isInt {
		switch a.(type) {
		case string, *listVal:
			return a, int(count), true
		}
	}
	return nil, 0, false
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

func floorDiv(a, b float64) float64 {
	return math.Floor(a / b)
}

// floatMod follows the source language: the result takes the sign of
// the divisor.
func floatMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// sortedKeys returns a dict's keys in sorted order. Mapping iteration
// is deterministic everywhere in the runtime.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toPlain converts a runtime value to the plain representation tools
// and the execution result use: lists become []any, nested values
// convert recursively. Callables do not cross the boundary.
func toPlain(v any) any {
	switch x := v.(type) {
	case *listVal:
		out := make([]any, len(x.items))
		for i, it := range x.items {
			out[i] = toPlain(it)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = toPlain(val)
		}
		return out
	case *funcVal, *builtinVal, *toolVal:
		return pyRepr(v)
	default:
		return v
	}
}

// fromPlain converts a tool return value into the runtime domain,
// normalizing the numeric and slice kinds Go tool code produces.
func fromPlain(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		items := make([]any, len(x))
		for i, it := range x {
			items[i] = fromPlain(it)
		}
		return newList(items)
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return newList(items)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = fromPlain(val)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}
