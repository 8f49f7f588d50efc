package telegram

import (
	"sync"
	"time"
)

// Limiter caps how often a user can start a checkout: a sliding window of
// recent attempts per user, kept in memory. Stale attempts are pruned on
// access.
type Limiter struct {
	mu       sync.Mutex
	attempts map[int64][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewLimiter creates a limiter allowing limit attempts per window
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		attempts: make(map[int64][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records an attempt and reports whether it is within the limit
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.attempts[userID][:0]
	for _, t := range l.attempts[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.attempts[userID] = recent
		return false
	}

	l.attempts[userID] = append(recent, now)
	return true
}
