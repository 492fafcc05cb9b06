package pacing

import (
	"context"
	"time"
)

// StartScheduler runs the tracker immediately and then on every tick until
// the context is cancelled. Overlapping runs are not serialized; the
// projection blob is overwritten wholesale so the last write wins.
func StartScheduler(ctx context.Context, t *Tracker, interval time.Duration) {
	go func() {
		runOnce(ctx, t)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce(ctx, t)
			}
		}
	}()
}

func runOnce(ctx context.Context, t *Tracker) {
	start := t.Now()
	if _, err := t.Run(ctx); err != nil {
		t.Log.Error().Err(err).Msg("pacing run failed")
		return
	}
	t.Log.Info().Dur("took", t.Now().Sub(start)).Msg("pacing run completed")
}
