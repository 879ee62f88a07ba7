package agent

import (
	"context"
	"log/slog"
	"time"
)

// purge removes messages both parties deleted longer than the retention ago
func (a *agent) purge(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Agent.Purge")
	defer span.End()

	before := time.Now().Add(-a.config.PurgeRetention)
	purged, err := a.mail.Purge(ctx, before)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(
			ctx, "failed to purge messages",
			slog.String("error", err.Error()),
			slog.Int("purged", purged),
			slog.String("module", "agent"),
		)
		return
	}

	if purged > 0 {
		slog.InfoContext(
			ctx, "purged messages",
			slog.Int("purged", purged),
			slog.Time("before", before),
			slog.String("module", "agent"),
		)
	}
}
