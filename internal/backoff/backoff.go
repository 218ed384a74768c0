// Package backoff provides context-aware sleeping and jittered
// exponential delays shared by the REST retry loop and the stream
// reconnect loop.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Sleep waits for the duration d or until ctx is canceled, whichever
// happens first. It returns ctx.Err() when the context wins.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before retry attempt n (zero-based):
// min(initial*multiplier^n, max), with a uniform ±jitter fraction
// applied. jitter is clamped to [0, 1].
func Delay(n int, initial time.Duration, multiplier float64, max time.Duration, jitter float64) time.Duration {
	if initial <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	d := float64(initial)
	for i := 0; i < n; i++ {
		d *= multiplier
		if d >= float64(max) {
			break
		}
	}
	if max > 0 && d > float64(max) {
		d = float64(max)
	}
	if jitter > 0 {
		if jitter > 1 {
			jitter = 1
		}
		// uniform in [1-jitter, 1+jitter]
		d *= 1 + jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}
