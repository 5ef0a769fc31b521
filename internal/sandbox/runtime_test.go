package sandbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jkaninda/mpango/internal/tools"
)

// execSource runs a tool-free script and fails the test on any error.
func execSource(t *testing.T, src string) *ExecutionResult {
	t.Helper()
	ex := NewExecutor(tools.NewRegistry(), Config{}, nil)
	res := ex.Execute(context.Background(), src)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	return res
}

// execExpectError runs a script and returns the RuntimeError it must
// produce.
func execExpectError(t *testing.T, src string) *RuntimeError {
	t.Helper()
	ex := NewExecutor(tools.NewRegistry(), Config{}, nil)
	res := ex.Execute(context.Background(), src)
	if res.Success {
		t.Fatalf("expected failure, got success with result %v", res.Result)
	}
	var re *RuntimeError
	if !errors.As(res.Err, &re) {
		t.Fatalf("error = %T (%s), want *RuntimeError", res.Err, res.Error)
	}
	return re
}

func TestRuntime_Arithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"result = 2 + 3 * 4\n", int64(14)},
		{"result = (2 + 3) * 4\n", int64(20)},
		{"result = 7 / 2\n", 3.5},
		{"result = 7 // 2\n", int64(3)},
		{"result = -7 // 2\n", int64(-4)},
		{"result = 7 % 3\n", int64(1)},
		{"result = -7 % 3\n", int64(2)},
		{"result = 2.5 + 1\n", 3.5},
		{"result = -3\n", int64(-3)},
		{"result = 'ab' + 'cd'\n", "abcd"},
		{"result = 'ab' * 3\n", "ababab"},
		{"result = [1] + [2, 3]\n", []any{int64(1), int64(2), int64(3)}},
	}
	for _, tc := range cases {
		res := execSource(t, tc.src)
		if !reflect.DeepEqual(res.Result, tc.want) {
			t.Errorf("%q = %#v, want %#v", strings.TrimSpace(tc.src), res.Result, tc.want)
		}
	}
}

func TestRuntime_Comparisons(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"result = 1 < 2\n", true},
		{"result = 2 <= 2\n", true},
		{"result = 3 > 4\n", false},
		{"result = 1 == 1.0\n", true},
		{"result = 'a' < 'b'\n", true},
		{"result = [1, 2] == [1, 2]\n", true},
		{"result = {'a': 1} == {'a': 1}\n", true},
		{"result = 2 in [1, 2, 3]\n", true},
		{"result = 5 not in [1, 2, 3]\n", true},
		{"result = 'bc' in 'abcd'\n", true},
		{"result = 'x' in {'x': 1}\n", true},
		{"result = None is None\n", true},
		{"result = 1 is not None\n", true},
	}
	for _, tc := range cases {
		res := execSource(t, tc.src)
		if res.Result != tc.want {
			t.Errorf("%q = %v, want %v", strings.TrimSpace(tc.src), res.Result, tc.want)
		}
	}
}

func TestRuntime_BooleanOperatorsReturnOperands(t *testing.T) {
	res := execSource(t, "result = 0 or 'fallback'\n")
	if res.Result != "fallback" {
		t.Errorf("or = %v, want %q", res.Result, "fallback")
	}
	res = execSource(t, "result = 'left' and 'right'\n")
	if res.Result != "right" {
		t.Errorf("and = %v, want %q", res.Result, "right")
	}
	// Short circuit: the failing division is never evaluated.
	res = execSource(t, "result = False and 1 / 0\n")
	if res.Result != false {
		t.Errorf("short circuit = %v, want false", res.Result)
	}
}

func TestRuntime_IfElifElse(t *testing.T) {
	src := "x = 7\n" +
		"if x > 10:\n" +
		"    result = 'big'\n" +
		"elif x > 5:\n" +
		"    result = 'medium'\n" +
		"else:\n" +
		"    result = 'small'\n"
	res := execSource(t, src)
	if res.Result != "medium" {
		t.Errorf("result = %v, want %q", res.Result, "medium")
	}
}

func TestRuntime_WhileBreakContinue(t *testing.T) {
	src := "total = 0\n" +
		"i = 0\n" +
		"while True:\n" +
		"    i = i + 1\n" +
		"    if i > 10:\n" +
		"        break\n" +
		"    if i % 2 == 0:\n" +
		"        continue\n" +
		"    total = total + i\n" +
		"result = total\n"
	res := execSource(t, src)
	if res.Result != int64(25) {
		t.Errorf("result = %v, want 25", res.Result)
	}
}

func TestRuntime_ForLoops(t *testing.T) {
	src := "total = 0\n" +
		"for n in range(1, 5):\n" +
		"    total = total + n\n" +
		"result = total\n"
	if res := execSource(t, src); res.Result != int64(10) {
		t.Errorf("range sum = %v, want 10", res.Result)
	}

	src = "out = []\n" +
		"for ch in 'abc':\n" +
		"    append(out, ch)\n" +
		"result = out\n"
	if res := execSource(t, src); !reflect.DeepEqual(res.Result, []any{"a", "b", "c"}) {
		t.Errorf("string iteration = %#v", res.Result)
	}

	// Dict iteration is deterministic: sorted key order.
	src = "seen = []\n" +
		"for k in {'b': 2, 'a': 1, 'c': 3}:\n" +
		"    append(seen, k)\n" +
		"result = seen\n"
	if res := execSource(t, src); !reflect.DeepEqual(res.Result, []any{"a", "b", "c"}) {
		t.Errorf("dict iteration = %#v, want sorted keys", res.Result)
	}
}

func TestRuntime_ForPairUnpacking(t *testing.T) {
	src := "parts = []\n" +
		"for k, v in items({'x': 1, 'y': 2}):\n" +
		"    append(parts, k + '=' + str(v))\n" +
		"result = parts\n"
	res := execSource(t, src)
	if !reflect.DeepEqual(res.Result, []any{"x=1", "y=2"}) {
		t.Errorf("result = %#v", res.Result)
	}
}

func TestRuntime_Functions(t *testing.T) {
	src := "def add(a, b):\n" +
		"    return a + b\n" +
		"result = add(2, b=3)\n"
	if res := execSource(t, src); res.Result != int64(5) {
		t.Errorf("add = %v, want 5", res.Result)
	}

	// Recursion works within the depth bound.
	src = "def fact(n):\n" +
		"    if n <= 1:\n" +
		"        return 1\n" +
		"    return n * fact(n - 1)\n" +
		"result = fact(6)\n"
	if res := execSource(t, src); res.Result != int64(720) {
		t.Errorf("fact(6) = %v, want 720", res.Result)
	}

	// A function with no return yields None.
	src = "def noop(x):\n" +
		"    pass\n" +
		"result = noop(1) is None\n"
	if res := execSource(t, src); res.Result != true {
		t.Errorf("bare function result = %v, want None", res.Result)
	}
}

func TestRuntime_FunctionErrors(t *testing.T) {
	re := execExpectError(t, "def f(a):\n    return a\nresult = f()\n")
	if !strings.Contains(re.Msg, "missing required argument") {
		t.Errorf("msg = %q, want missing argument error", re.Msg)
	}

	re = execExpectError(t, "def f(a):\n    return a\nresult = f(1, 2)\n")
	if !strings.Contains(re.Msg, "takes 1 arguments") {
		t.Errorf("msg = %q, want arity error", re.Msg)
	}

	re = execExpectError(t, "def loop():\n    return loop()\nresult = loop()\n")
	if !strings.Contains(re.Msg, "call depth") {
		t.Errorf("msg = %q, want depth error", re.Msg)
	}
}

func TestRuntime_IndexingAndSlicing(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"xs = [10, 20, 30]\nresult = xs[0]\n", int64(10)},
		{"xs = [10, 20, 30]\nresult = xs[-1]\n", int64(30)},
		{"xs = [10, 20, 30]\nresult = xs[1:]\n", []any{int64(20), int64(30)}},
		{"xs = [10, 20, 30]\nresult = xs[:2]\n", []any{int64(10), int64(20)}},
		{"xs = [10, 20, 30]\nresult = xs[-2:]\n", []any{int64(20), int64(30)}},
		{"s = 'hello'\nresult = s[1]\n", "e"},
		{"s = 'hello'\nresult = s[1:4]\n", "ell"},
		{"d = {'k': 'v'}\nresult = d['k']\n", "v"},
	}
	for _, tc := range cases {
		res := execSource(t, tc.src)
		if !reflect.DeepEqual(res.Result, tc.want) {
			t.Errorf("%q = %#v, want %#v", strings.TrimSpace(tc.src), res.Result, tc.want)
		}
	}
}

func TestRuntime_IndexAssignment(t *testing.T) {
	src := "xs = [1, 2, 3]\n" +
		"xs[1] = 20\n" +
		"d = {}\n" +
		"d['k'] = 'v'\n" +
		"d['n'] = 1\n" +
		"d['n'] += 4\n" +
		"result = [xs[1], d['k'], d['n']]\n"
	res := execSource(t, src)
	if !reflect.DeepEqual(res.Result, []any{int64(20), "v", int64(5)}) {
		t.Errorf("result = %#v", res.Result)
	}
}

func TestRuntime_AugmentedAssignment(t *testing.T) {
	src := "x = 10\nx += 5\nx -= 3\nx *= 2\nx /= 4\nresult = x\n"
	res := execSource(t, src)
	if res.Result != 6.0 {
		t.Errorf("result = %v, want 6.0", res.Result)
	}
}

func TestRuntime_ListMutationIsShared(t *testing.T) {
	// append through one binding is visible through the other.
	src := "a = [1]\nb = a\nappend(b, 2)\nresult = a\n"
	res := execSource(t, src)
	if !reflect.DeepEqual(res.Result, []any{int64(1), int64(2)}) {
		t.Errorf("result = %#v, want shared mutation", res.Result)
	}
}

func TestRuntime_Builtins(t *testing.T) {
	cases := []struct {
		src  string
		want any
	}{
		{"result = len('héllo')\n", int64(5)},
		{"result = len([1, 2])\n", int64(2)},
		{"result = len({'a': 1})\n", int64(1)},
		{"result = str(42)\n", "42"},
		{"result = str(2.0)\n", "2.0"},
		{"result = str(True)\n", "True"},
		{"result = str(None)\n", "None"},
		{"result = str([1, 'a'])\n", "[1, 'a']"},
		{"result = int('12')\n", int64(12)},
		{"result = int(3.9)\n", int64(3)},
		{"result = float('2.5')\n", 2.5},
		{"result = bool([])\n", false},
		{"result = bool('x')\n", true},
		{"result = abs(-4)\n", int64(4)},
		{"result = abs(-4.5)\n", 4.5},
		{"result = min([3, 1, 2])\n", int64(1)},
		{"result = max(3, 1, 2)\n", int64(3)},
		{"result = sum([1, 2, 3])\n", int64(6)},
		{"result = sum([1.5, 2.5])\n", 4.0},
		{"result = sorted([3, 1, 2])\n", []any{int64(1), int64(2), int64(3)}},
		{"result = sorted([1, 3, 2], reverse=True)\n", []any{int64(3), int64(2), int64(1)}},
		{"result = round(2.6)\n", int64(3)},
		{"result = round(3.14159, 2)\n", 3.14},
		{"result = range(3)\n", []any{int64(0), int64(1), int64(2)}},
		{"result = range(4, 0, -2)\n", []any{int64(4), int64(2)}},
		{"result = enumerate(['a', 'b'])\n", []any{[]any{int64(0), "a"}, []any{int64(1), "b"}}},
		{"result = zip([1, 2], ['a', 'b'])\n", []any{[]any{int64(1), "a"}, []any{int64(2), "b"}}},
		{"result = keys({'b': 2, 'a': 1})\n", []any{"a", "b"}},
		{"result = values({'b': 2, 'a': 1})\n", []any{int64(1), int64(2)}},
		{"result = format(3.14159, '.2f')\n", "3.14"},
		{"result = format(42, '5d')\n", "   42"},
		{"result = format(7, '03d')\n", "007"},
		{"result = format('hi', '<4') + '|'\n", "hi  |"},
	}
	for _, tc := range cases {
		res := execSource(t, tc.src)
		if !reflect.DeepEqual(res.Result, tc.want) {
			t.Errorf("%q = %#v, want %#v", strings.TrimSpace(tc.src), res.Result, tc.want)
		}
	}
}

func TestRuntime_PrintCapturesStdout(t *testing.T) {
	src := "print('hello', 42)\nprint('second line')\nresult = 'done'\n"
	res := execSource(t, src)
	want := "hello 42\nsecond line\n"
	if res.Stdout != want {
		t.Errorf("stdout = %q, want %q", res.Stdout, want)
	}
}

func TestRuntime_Ternary(t *testing.T) {
	res := execSource(t, "x = 5\nresult = 'high' if x > 3 else 'low'\n")
	if res.Result != "high" {
		t.Errorf("result = %v, want %q", res.Result, "high")
	}
}

func TestRuntime_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"division by zero", "result = 1 / 0\n", "division by zero"},
		{"modulo by zero", "result = 1 % 0\n", "division by zero"},
		{"index out of range", "xs = [1]\nresult = xs[5]\n", "out of range"},
		{"missing key", "d = {'a': 1}\nresult = d['b']\n", "not found"},
		{"type mismatch", "result = 'a' + 1\n", "concatenate"},
		{"not iterable", "for x in 5:\n    pass\nresult = 1\n", "not iterable"},
		{"unpack mismatch", "for a, b in [1, 2]:\n    pass\nresult = 1\n", "cannot unpack"},
		{"ordering types", "result = [1] < [2]\n", "cannot order"},
		{"use before assignment", "def f():\n    return late\nresult = f()\nlate = 1\n", "not defined"},
		{"range too large", "result = range(99999999)\n", "exceeds the limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			re := execExpectError(t, tc.src)
			if !strings.Contains(re.Msg, tc.want) {
				t.Errorf("msg = %q, want substring %q", re.Msg, tc.want)
			}
		})
	}
}

func TestRuntime_RuntimeErrorCarriesPosition(t *testing.T) {
	re := execExpectError(t, "x = 1\nresult = x / 0\n")
	if re.Pos.Line != 2 {
		t.Errorf("line = %d, want 2", re.Pos.Line)
	}
}

func TestRuntime_ResultAbsent(t *testing.T) {
	ex := NewExecutor(tools.NewRegistry(), Config{}, nil)
	res := ex.Execute(context.Background(), "x = 1 + 1\n")
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	if res.Result != nil {
		t.Errorf("result = %v, want nil when the script never assigns it", res.Result)
	}
}
