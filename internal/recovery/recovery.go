// Package recovery keeps a panic in one datagram or goroutine from taking
// down the server.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use it with defer at the start of a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "writeLoop")
//	    // ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from panics, logs them, and calls the optional callback.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Run calls fn and recovers a panic raised inside it. Unlike the deferred
// helpers, the caller keeps running afterwards, which lets a read loop survive
// a bad datagram. It reports whether fn panicked.
func Run(logger *slog.Logger, name string, fn func(), callback func(recovered any)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logPanic(logger, name, r)
			if callback != nil {
				callback(r)
			}
		}
	}()

	fn()
	return false
}

func logPanic(logger *slog.Logger, name string, r any) {
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
