// Package middleware provides composable middleware around telephony
// dispatch attempts. Middleware wraps each attempt synchronously and can
// modify execution (recover from panics, log, add tracing, enforce a
// deadline).
package middleware

import (
	"context"

	"github.com/xraph/dialrun/row"
)

// Handler is the terminal function that places the call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the row being dispatched, and the next handler to call.
// Middleware MUST call next to continue the chain (unless short-circuiting
// on error).
type Middleware func(ctx context.Context, rw *row.Row, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, rw *row.Row, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, rw, prev)
			}
		}
		return h(ctx)
	}
}
