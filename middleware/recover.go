package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/dialrun/row"
)

// Recover returns middleware that recovers from panics in the dispatch
// chain. Panics are converted to errors and logged with a stack trace, so
// a misbehaving vendor adapter feeds the row's retry path instead of
// killing the run.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rw *row.Row, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("dispatch panicked",
					slog.String("row_id", rw.ID.String()),
					slog.String("run_id", rw.RunID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic dispatching row %s: %v", rw.ID.String(), r)
			}
		}()
		return next(ctx)
	}
}
