package transfer

import (
	"context"
	"math/rand"
	"time"
)

// Default backoff bounds for cycle-level failures.
const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// Sleep waits for the current backoff duration (±20% jitter) or until ctx is
// cancelled, then increases the duration for next time.
func (b *backoff) Sleep(ctx context.Context) {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	sleep := time.Duration(float64(b.current) + jitter)

	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
}

// Reset returns the backoff to its initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}
