package auth

import (
	"context"
	"sync"
	"time"
)

// attemptRecord counts failures inside one window. Once the limit is hit
// resetAt moves to the end of the block period.
type attemptRecord struct {
	count   int
	resetAt time.Time
}

// AttemptLimiter blocks a client after too many failed key checks.
type AttemptLimiter struct {
	mu          sync.Mutex
	attempts    map[string]attemptRecord
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
}

// NewAttemptLimiter allows maxAttempts failures per window, then refuses
// the client for block.
func NewAttemptLimiter(maxAttempts int, window, block time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		attempts:    make(map[string]attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
	}
}

// Allow reports whether ip may try again and, if not, how long it must wait.
func (l *AttemptLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[ip]
	now := l.now()
	if !ok || !now.Before(rec.resetAt) {
		return true, 0
	}
	if rec.count >= l.maxAttempts {
		return false, rec.resetAt.Sub(now)
	}
	return true, 0
}

// RecordFailure counts one failed attempt for ip.
func (l *AttemptLimiter) RecordFailure(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.attempts[ip]
	if !ok || !now.Before(rec.resetAt) {
		rec = attemptRecord{resetAt: now.Add(l.window)}
	}
	rec.count++
	if rec.count == l.maxAttempts {
		rec.resetAt = now.Add(l.block)
	}
	l.attempts[ip] = rec
	return rec.count
}

// Reset forgets ip after a successful check.
func (l *AttemptLimiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.attempts, ip)
	l.mu.Unlock()
}

// Cleanup drops expired records and returns how many were removed.
func (l *AttemptLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, rec := range l.attempts {
		if !now.Before(rec.resetAt) {
			delete(l.attempts, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupTicker runs Cleanup every interval until ctx is done.
func (l *AttemptLimiter) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
