package tools

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateWindow = time.Second
	defaultRateBurst  = 10
	cleanupInterval   = time.Minute
	entryIdleTTL      = 5 * time.Minute
)

type rateEntry struct {
	limiter    *rate.Limiter
	lastSeenAt time.Time
}

// rateLimiter is a per-(caller,tool) token-bucket limiter. Idle entries
// are purged on a self-owned ticker so the map can't grow without
// bound across a long-lived engine; the ticker is started by
// newRateLimiter and stopped by Stop.
type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	window  time.Duration
	burst   int

	stopCh chan struct{}
	doneCh chan struct{}
}

func newRateLimiter(window time.Duration, burst int) *rateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := &rateLimiter{
		entries: make(map[string]*rateEntry),
		window:  window,
		burst:   burst,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) key(callerID, toolID string) string {
	return callerID + "\x00" + toolID
}

// Allow reports whether the call is permitted and, if not, the time at
// which the bucket is expected to have a token available again.
func (rl *rateLimiter) Allow(callerID, toolID string) (bool, time.Time) {
	k := rl.key(callerID, toolID)
	rl.mu.Lock()
	e, ok := rl.entries[k]
	if !ok {
		e = &rateEntry{limiter: rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.burst)), rl.burst)}
		rl.entries[k] = e
	}
	e.lastSeenAt = time.Now()
	rl.mu.Unlock()

	res := e.limiter.ReserveN(time.Now(), 1)
	if !res.OK() {
		return false, time.Now().Add(rl.window)
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, time.Now().Add(delay)
	}
	return true, time.Time{}
}

func (rl *rateLimiter) cleanupLoop() {
	defer close(rl.doneCh)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.purgeIdle()
		}
	}
}

func (rl *rateLimiter) purgeIdle() {
	cutoff := time.Now().Add(-entryIdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, e := range rl.entries {
		if e.lastSeenAt.Before(cutoff) {
			delete(rl.entries, k)
		}
	}
}

// Stop cancels the cleanup ticker. Callers must invoke it when the
// owning Engine is torn down.
func (rl *rateLimiter) Stop() {
	close(rl.stopCh)
	<-rl.doneCh
}
