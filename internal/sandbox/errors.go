package sandbox

import (
	"fmt"
	"time"

	"github.com/jkaninda/mpango/internal/script"
)

// ValidationError reports a forbidden construct found during static
// analysis. A script rejected this way never executed: no tool ran and
// no side effect happened.
type ValidationError struct {
	Construct string // what was rejected, e.g. "import statement"
	Detail    string
	Pos       script.Pos
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("script rejected: %s at %s: %s", e.Construct, e.Pos, e.Detail)
}

// TimeoutError reports that the wall-clock deadline expired while the
// script was still running. Tool calls committed before expiry stand.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Limit)
}

// RuntimeError reports a failure while the script was running: a type
// error, an out-of-range access, a failing tool, or a denied tool
// resolution. Err holds the underlying tool or registry error when one
// triggered the failure, so callers can unwrap to the typed cause.
type RuntimeError struct {
	Msg string
	Pos script.Pos
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("runtime error at %s: %s", e.Pos, e.Msg)
	}
	return "runtime error: " + e.Msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// OutputTruncatedWarning notes that a capture exceeded the configured
// byte ceiling and was cut. Non-fatal: the run still succeeds.
type OutputTruncatedWarning struct {
	Field string // "stdout" or "result"
	Limit int
}

func (e *OutputTruncatedWarning) Error() string {
	return fmt.Sprintf("%s truncated to %d bytes", e.Field, e.Limit)
}
