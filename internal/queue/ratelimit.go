package queue

import "time"

// windowLimiter caps leases per rolling window. It bounds throughput, not
// simultaneous execution; concurrency is enforced separately.
type windowLimiter struct {
	limit  int
	window time.Duration
	grants []time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window}
}

// allow records a grant and returns true if fewer than limit grants happened
// within the trailing window. Caller holds the queue lock.
func (l *windowLimiter) allow(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.expire(now)
	if len(l.grants) >= l.limit {
		return false
	}
	l.grants = append(l.grants, now)
	return true
}

// nextFree returns when the oldest grant leaves the window. Only meaningful
// right after allow returned false.
func (l *windowLimiter) nextFree(now time.Time) time.Time {
	l.expire(now)
	if len(l.grants) < l.limit || len(l.grants) == 0 {
		return now
	}
	return l.grants[0].Add(l.window)
}

func (l *windowLimiter) expire(now time.Time) {
	cut := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].After(cut) {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}
