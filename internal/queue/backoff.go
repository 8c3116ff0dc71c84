package queue

import "time"

// Backoff computes capped exponential retry delays.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns min(base * 2^attempt, cap) for the given prior-failure count.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	// Past 62 doublings the shift overflows int64; the cap applies long
	// before that for any sane policy.
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 62 {
		return b.Cap
	}
	d := b.Base << uint(attempt)
	if d <= 0 || d > b.Cap {
		return b.Cap
	}
	return d
}
