package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
//
// Usage in defer statements:
//
//	func worker() {
//	    defer observability.RecoverPanic(logger, "capacity scan")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised. This keeps a background
// goroutine from crashing the process but may leave the system in an
// inconsistent state. Use carefully.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}
