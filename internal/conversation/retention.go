package conversation

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 30 * time.Minute

// Sweeper deletes sessions that have been idle since cutoff.
type Sweeper interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartRetentionWorker runs a background goroutine that periodically
// deletes sessions idle for longer than retention. A zero retention keeps
// sessions forever and starts nothing.
func StartRetentionWorker(ctx context.Context, repo Sweeper, retention time.Duration) {
	if retention <= 0 {
		slog.Info("Session retention disabled")
		return
	}

	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session retention worker started", "interval", retentionInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepIdleSessions(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Session retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdleSessions(ctx context.Context, repo Sweeper, retention time.Duration) {
	deleted, err := repo.DeleteSessionsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Error("Session retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session retention sweep removed idle sessions", "count", deleted)
	}
}
