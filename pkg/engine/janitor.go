package engine

import (
	"context"
	"time"
)

// Sweep deletes every expired suspension.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.store.Sweep(ctx, e.now())
}

// RunJanitor sweeps expired suspensions every interval until ctx is done.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.Sweep(ctx)
			if err != nil {
				e.logger.Warn("suspension sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Info("swept expired suspensions", "count", n)
			}
		}
	}
}
