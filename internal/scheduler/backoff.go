package scheduler

import (
	"context"
	"math"
	"time"
)

// BackoffDelay returns the wait before retry number retry (1-based): base
// doubled for every earlier retry, capped at maxDelay. Non-decreasing in retry.
func BackoffDelay(retry int, base, maxDelay time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retry; i++ {
		if delay >= maxDelay || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
