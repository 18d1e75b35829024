// Package recovery provides panic recovery utilities for goroutines.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/postalsys/pppoat-udp/internal/logging"
)

// ErrPanic is wrapped by the error Recover stores for a recovered panic.
var ErrPanic = errors.New("panic")

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use this with defer at the start of goroutines to prevent crashes and log diagnostics.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "signals")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// Recover recovers from a panic, logs it and stores an error wrapping
// ErrPanic in *errp so the goroutine's caller sees a failure instead of a
// crash. Without a panic *errp is left untouched.
//
//	func run() (err error) {
//	    defer recovery.Recover(logger, "forward", &err)
//	    return transport.Run(rd, wr, ctrl)
//	}
func Recover(logger *slog.Logger, name string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	logPanic(logger, name, r)
	if errp != nil {
		*errp = fmt.Errorf("%s: %w: %v", name, ErrPanic, r)
	}
}

func logPanic(logger *slog.Logger, name string, r interface{}) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
