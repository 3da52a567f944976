package middleware

import (
	"context"
	"time"

	"github.com/xraph/dialrun/row"
)

// Timeout returns middleware that enforces a deadline on each dispatch
// attempt. A zero duration disables the deadline. When the deadline is
// exceeded the context is cancelled and the vendor adapter should return
// context.DeadlineExceeded, which feeds the row's retry path.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *row.Row, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
