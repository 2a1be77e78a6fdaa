// Package hooks wraps user-supplied callback invocation so a throwing hook
// cannot corrupt the ongoing operation (spec.md §9).
package hooks

import (
	"context"
	"log/slog"
)

// Fire invokes fn, recovering any panic and logging it rather than letting
// it propagate. Used for hooks with no return value (OnPoolCreated,
// OnPoolEvicted).
func Fire(ctx context.Context, logger *slog.Logger, name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "hook panicked", "hook", name, "panic", r)
		}
	}()
	fn()
}

// FireErr invokes fn, recovering any panic and logging both panics and
// returned errors. Per spec.md §9 and §7 (HookFailed), a hook's error is
// always logged and never fails the surrounding operation.
func FireErr(ctx context.Context, logger *slog.Logger, name string, fn func() error) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "hook panicked", "hook", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		logger.WarnContext(ctx, "hook returned an error", "hook", name, "error", err)
	}
}
