package main

import (
	"context"
	"log/slog"
	"time"
)

type expiredPurger interface {
	PurgeExpired(ctx context.Context) error
}

// runRevocationPurger sweeps expired revocation entries on a fixed interval
// until the context is cancelled. Redis-backed stores expire entries on their
// own; the sweep keeps the in-memory store from growing without bound.
func runRevocationPurger(ctx context.Context, logger *slog.Logger, purger expiredPurger, interval time.Duration) {
	if purger == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := purger.PurgeExpired(ctx); err != nil && logger != nil {
				logger.Error("failed to purge expired revocations", "error", err)
			}
		}
	}
}
