package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jkaninda/mpango/internal/script"
)

// rangeMaxElems caps how many elements range may materialize, so a
// generated script cannot exhaust memory before the deadline fires.
const rangeMaxElems = 1 << 20

func (rt *runtime) callBuiltin(name string, args []any, kwargs map[string]any, pos script.Pos) (any, error) {
	// sorted takes the reverse keyword; every other builtin is
	// positional-only.
	if len(kwargs) > 0 && name != "sorted" {
		return nil, rt.errf(pos, "%s() takes no keyword arguments", name)
	}

	switch name {
	case "len":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case string:
			return int64(utf8.RuneCountInString(x)), nil
		case *listVal:
			return int64(len(x.items)), nil
		case map[string]any:
			return int64(len(x)), nil
		}
		return nil, rt.errf(pos, "len() does not support %s", typeName(args[0]))

	case "range":
		return rt.builtinRange(args, pos)

	case "str":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		return pyStr(args[0]), nil

	case "int":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			return x, nil
		case float64:
			return int64(math.Trunc(x)), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, rt.errf(pos, "invalid literal for int(): %q", x)
			}
			return n, nil
		}
		return nil, rt.errf(pos, "int() does not support %s", typeName(args[0]))

	case "float":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case bool:
			if x {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, rt.errf(pos, "invalid literal for float(): %q", x)
			}
			return f, nil
		}
		return nil, rt.errf(pos, "float() does not support %s", typeName(args[0]))

	case "bool":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		return truthy(args[0]), nil

	case "abs":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		}
		return nil, rt.errf(pos, "abs() requires a number, got %s", typeName(args[0]))

	case "min", "max":
		return rt.builtinMinMax(name, args, pos)

	case "sum":
		return rt.builtinSum(args, pos)

	case "sorted":
		return rt.builtinSorted(args, kwargs, pos)

	case "round":
		return rt.builtinRound(args, pos)

	case "enumerate":
		if err := rt.wantArgs(name, args, 1, 2, pos); err != nil {
			return nil, err
		}
		items, err := rt.iterableItems(args[0], pos)
		if err != nil {
			return nil, err
		}
		start := int64(0)
		if len(args) == 2 {
			n, ok := args[1].(int64)
			if !ok {
				return nil, rt.errf(pos, "enumerate() start must be an int")
			}
			start = n
		}
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = newList([]any{start + int64(i), it})
		}
		return newList(out), nil

	case "zip":
		if len(args) < 1 {
			return nil, rt.errf(pos, "zip() requires at least one argument")
		}
		seqs := make([][]any, len(args))
		shortest := -1
		for i, a := range args {
			items, err := rt.iterableItems(a, pos)
			if err != nil {
				return nil, err
			}
			seqs[i] = items
			if shortest < 0 || len(items) < shortest {
				shortest = len(items)
			}
		}
		out := make([]any, shortest)
		for i := 0; i < shortest; i++ {
			row := make([]any, len(seqs))
			for j := range seqs {
				row[j] = seqs[j][i]
			}
			out[i] = newList(row)
		}
		return newList(out), nil

	case "keys", "values", "items":
		if err := rt.wantArgs(name, args, 1, 1, pos); err != nil {
			return nil, err
		}
		d, ok := args[0].(map[string]any)
		if !ok {
			return nil, rt.errf(pos, "%s() requires a dict, got %s", name, typeName(args[0]))
		}
		ks := sortedKeys(d)
		out := make([]any, len(ks))
		for i, k := range ks {
			switch name {
			case "keys":
				out[i] = k
			case "values":
				out[i] = d[k]
			default:
				out[i] = newList([]any{k, d[k]})
			}
		}
		return newList(out), nil

	case "append":
		if err := rt.wantArgs(name, args, 2, 2, pos); err != nil {
			return nil, err
		}
		lst, ok := args[0].(*listVal)
		if !ok {
			return nil, rt.errf(pos, "append() requires a list, got %s", typeName(args[0]))
		}
		lst.items = append(lst.items, args[1])
		return nil, nil

	case "format":
		if err := rt.wantArgs(name, args, 1, 2, pos); err != nil {
			return nil, err
		}
		spec := ""
		if len(args) == 2 {
			s, ok := args[1].(string)
			if !ok {
				return nil, rt.errf(pos, "format() spec must be a string")
			}
			spec = s
		}
		out, err := formatValue(args[0], spec)
		if err != nil {
			return nil, rt.errf(pos, "%s", err.Error())
		}
		return out, nil

	case "print":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = pyStr(a)
		}
		rt.stdout.WriteString(strings.Join(parts, " ") + "\n")
		return nil, nil
	}
	return nil, rt.errf(pos, "unknown builtin %q", name)
}

func (rt *runtime) wantArgs(name string, args []any, lo, hi int, pos script.Pos) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return rt.errf(pos, "%s() takes %d argument(s), got %d", name, lo, len(args))
		}
		return rt.errf(pos, "%s() takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}

// iterableItems flattens an iterable value into a slice: list elements,
// string characters, or sorted dict keys.
func (rt *runtime) iterableItems(v any, pos script.Pos) ([]any, error) {
	switch x := v.(type) {
	case *listVal:
		return x.items, nil
	case string:
		runes := []rune(x)
		out := make([]any, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out, nil
	case map[string]any:
		ks := sortedKeys(x)
		out := make([]any, len(ks))
		for i, k := range ks {
			out[i] = k
		}
		return out, nil
	}
	return nil, rt.errf(pos, "%s is not iterable", typeName(v))
}

func (rt *runtime) builtinRange(args []any, pos script.Pos) (any, error) {
	if err := rt.wantArgs("range", args, 1, 3, pos); err != nil {
		return nil, err
	}
	nums := make([]int64, len(args))
	for i, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, rt.errf(pos, "range() arguments must be ints, got %s", typeName(a))
		}
		nums[i] = n
	}

	start, stop, step := int64(0), int64(0), int64(1)
	switch len(nums) {
	case 1:
		stop = nums[0]
	case 2:
		start, stop = nums[0], nums[1]
	case 3:
		start, stop, step = nums[0], nums[1], nums[2]
	}
	if step == 0 {
		return nil, rt.errf(pos, "range() step must not be zero")
	}

	var count int64
	if step > 0 && stop > start {
		count = (stop - start + step - 1) / step
	} else if step < 0 && stop < start {
		count = (start - stop + (-step) - 1) / (-step)
	}
	if count > rangeMaxElems {
		return nil, rt.errf(pos, "range() of %d elements exceeds the limit of %d", count, rangeMaxElems)
	}

	items := make([]any, 0, count)
	for v := start; (step > 0 && v < stop) || (step < 0 && v > stop); v += step {
		items = append(items, v)
	}
	return newList(items), nil
}

func (rt *runtime) builtinMinMax(name string, args []any, pos script.Pos) (any, error) {
	var items []any
	if len(args) == 0 {
		return nil, rt.errf(pos, "%s() requires at least one argument", name)
	}
	if len(args) == 1 {
		var err error
		items, err = rt.iterableItems(args[0], pos)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, rt.errf(pos, "%s() arg is an empty sequence", name)
		}
	} else {
		items = args
	}

	best := items[0]
	for _, it := range items[1:] {
		c, err := compareValues(it, best)
		if err != nil {
			return nil, rt.errf(pos, "%s", err.Error())
		}
		if (name == "min" && c < 0) || (name == "max" && c > 0) {
			best = it
		}
	}
	return best, nil
}

func (rt *runtime) builtinSum(args []any, pos script.Pos) (any, error) {
	if err := rt.wantArgs("sum", args, 1, 2, pos); err != nil {
		return nil, err
	}
	items, err := rt.iterableItems(args[0], pos)
	if err != nil {
		return nil, err
	}

	intSum := int64(0)
	floatSum := float64(0)
	sawFloat := false
	if len(args) == 2 {
		switch s := args[1].(type) {
		case int64:
			intSum = s
		case float64:
			floatSum = s
			sawFloat = true
		default:
			return nil, rt.errf(pos, "sum() start must be a number, got %s", typeName(s))
		}
	}
	for _, it := range items {
		switch n := it.(type) {
		case int64:
			intSum += n
		case float64:
			floatSum += n
			sawFloat = true
		default:
			return nil, rt.errf(pos, "sum() requires numbers, got %s", typeName(it))
		}
	}
	if sawFloat {
		return floatSum + float64(intSum), nil
	}
	return intSum, nil
}

func (rt *runtime) builtinSorted(args []any, kwargs map[string]any, pos script.Pos) (any, error) {
	if err := rt.wantArgs("sorted", args, 1, 1, pos); err != nil {
		return nil, err
	}
	reverse := false
	for k, v := range kwargs {
		if k != "reverse" {
			return nil, rt.errf(pos, "sorted() got an unexpected keyword argument %q", k)
		}
		reverse = truthy(v)
	}

	items, err := rt.iterableItems(args[0], pos)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := compareValues(out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, rt.errf(pos, "%s", sortErr.Error())
	}
	return newList(out), nil
}

func (rt *runtime) builtinRound(args []any, pos script.Pos) (any, error) {
	if err := rt.wantArgs("round", args, 1, 2, pos); err != nil {
		return nil, err
	}
	f, ok := asFloat(args[0])
	if !ok {
		return nil, rt.errf(pos, "round() requires a number, got %s", typeName(args[0]))
	}
	if len(args) == 1 {
		return int64(math.Round(f)), nil
	}
	nd, ok := args[1].(int64)
	if !ok {
		return nil, rt.errf(pos, "round() ndigits must be an int")
	}
	shift := math.Pow(10, float64(nd))
	return math.Round(f*shift) / shift, nil
}

// formatValue renders value per a format spec subset:
// [<|>][0][width][.precision][d|f|s]. An empty spec is str().
func formatValue(v any, spec string) (string, error) {
	if spec == "" {
		return pyStr(v), nil
	}

	rest := spec
	align := byte(0)
	if len(rest) > 0 && (rest[0] == '<' || rest[0] == '>') {
		align = rest[0]
		rest = rest[1:]
	}
	zeroPad := false
	if len(rest) > 0 && rest[0] == '0' {
		zeroPad = true
		rest = rest[1:]
	}
	width := 0
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		width = width*10 + int(rest[0]-'0')
		rest = rest[1:]
	}
	precision := -1
	if len(rest) > 0 && rest[0] == '.' {
		rest = rest[1:]
		precision = 0
		for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
			precision = precision*10 + int(rest[0]-'0')
			rest = rest[1:]
		}
	}
	verb := byte(0)
	if len(rest) == 1 {
		verb = rest[0]
		rest = ""
	}
	if rest != "" {
		return "", fmt.Errorf("unsupported format spec %q", spec)
	}

	var out string
	switch verb {
	case 'd':
		n, ok := v.(int64)
		if !ok {
			return "", fmt.Errorf("format spec %q requires an int, got %s", spec, typeName(v))
		}
		out = strconv.FormatInt(n, 10)
		if zeroPad && len(out) < width {
			neg := strings.HasPrefix(out, "-")
			digits := strings.TrimPrefix(out, "-")
			pad := width - len(out)
			out = strings.Repeat("0", pad) + digits
			if neg {
				out = "-" + out
			}
		}
	case 'f':
		f, ok := asFloat(v)
		if !ok {
			return "", fmt.Errorf("format spec %q requires a number, got %s", spec, typeName(v))
		}
		p := precision
		if p < 0 {
			p = 6
		}
		out = strconv.FormatFloat(f, 'f', p, 64)
	case 's', 0:
		out = pyStr(v)
		if precision >= 0 && precision < len(out) {
			out = out[:precision]
		}
	default:
		return "", fmt.Errorf("unsupported format spec %q", spec)
	}

	if width > len(out) {
		pad := strings.Repeat(" ", width-len(out))
		if align == '<' {
			out += pad
		} else if align == '>' || verb == 'd' || verb == 'f' {
			out = pad + out
		} else {
			out += pad
		}
	}
	return out, nil
}
