package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

// enabled gates every check in this package. Release binaries may call
// Disable() once at startup; the checks then cost a single atomic load.
var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

func Disable() { enabled.Store(false) }

func Enabled() bool { return enabled.Load() }

func Assert(condition bool, args ...any) bool {
	if condition || !enabled.Load() {
		return true
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) > 0 {
		format := args[0].(string)
		message := fmt.Sprintf(format, args[1:]...)
		panic(fmt.Sprintf("Assertion failed: %s at %s:%d\n", message, filename, line))
	}
	panic(fmt.Sprintf("Assertion failed at %s:%d\n", filename, line))
}

func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}

// Unreachable marks a code path that a correct caller can never take.
func Unreachable(args ...any) {
	Assert(false, args...)
}

// Cast attempts to cast the provided value 'data' to the specified
// type 'T'. If the cast is not possible, it triggers an assertion failure.
func Cast[T any](data any) T {
	castedData, ok := data.(T)
	Assert(ok, "couldn't perform a type cast")
	return castedData
}
