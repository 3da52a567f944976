package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/dialrun/row"
)

// Logging returns middleware that logs each dispatch attempt and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, rw *row.Row, next Handler) error {
		logger.Debug("dispatching row",
			slog.String("row_id", rw.ID.String()),
			slog.String("run_id", rw.RunID.String()),
			slog.Int("attempt", rw.CallAttempts+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("dispatch failed",
				slog.String("row_id", rw.ID.String()),
				slog.String("run_id", rw.RunID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("dispatch accepted",
				slog.String("row_id", rw.ID.String()),
				slog.String("run_id", rw.RunID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
