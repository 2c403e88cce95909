package iam

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns the delay before retry number attempt: base 200ms doubled per
// attempt, capped at 32x, plus up to one base of jitter.
func Backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond
	pow := 1 << uint(min(attempt, 5)) // 1,2,4,8,16,32
	jitter := time.Duration(rand.Int63n(int64(base)))
	return time.Duration(pow)*base + jitter
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
