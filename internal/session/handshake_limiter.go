package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vc-agent/core/internal/eventbus"
)

const (
	defaultHandshakeAttempts = 5
	defaultHandshakeWindow   = time.Minute
	defaultBlockDuration     = 5 * time.Minute
	handshakeCleanupInterval = 10 * time.Minute
	handshakeEntryIdleTTL    = 30 * time.Minute
)

type handshakeEntry struct {
	limiter    *rate.Limiter
	blockedAt  time.Time
	lastSeenAt time.Time
}

// HandshakeLimiter implements the WebSocket upgrade rate limiter from
// spec §6.3: default 5 attempts per minute per client id, with a
// 5-minute block on overflow. It owns its own cleanup ticker, started
// and stopped with the limiter's lifecycle rather than a process-wide
// timer (spec §9).
type HandshakeLimiter struct {
	mu      sync.Mutex
	entries map[string]*handshakeEntry

	attempts      int
	window        time.Duration
	blockDuration time.Duration
	bus           *eventbus.Bus

	stopCh chan struct{}
	doneCh chan struct{}
}

// HandshakeLimiterConfig configures a HandshakeLimiter. Zero values
// fall back to spec defaults.
type HandshakeLimiterConfig struct {
	Attempts      int
	Window        time.Duration
	BlockDuration time.Duration
	Bus           *eventbus.Bus
}

// NewHandshakeLimiter constructs and starts a HandshakeLimiter.
func NewHandshakeLimiter(cfg HandshakeLimiterConfig) *HandshakeLimiter {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultHandshakeAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultHandshakeWindow
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = defaultBlockDuration
	}
	hl := &HandshakeLimiter{
		entries:       make(map[string]*handshakeEntry),
		attempts:      cfg.Attempts,
		window:        cfg.Window,
		blockDuration: cfg.BlockDuration,
		bus:           cfg.Bus,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go hl.cleanupLoop()
	return hl
}

// Allow reports whether clientID may attempt another handshake right
// now. It emits a websocket_rate_limit_exceeded SecurityEvent on the
// transition into a blocked state.
func (hl *HandshakeLimiter) Allow(clientID string) bool {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	now := time.Now()
	e, ok := hl.entries[clientID]
	if !ok {
		e = &handshakeEntry{limiter: rate.NewLimiter(rate.Every(hl.window/time.Duration(hl.attempts)), hl.attempts)}
		hl.entries[clientID] = e
	}
	e.lastSeenAt = now

	if !e.blockedAt.IsZero() {
		if now.Sub(e.blockedAt) < hl.blockDuration {
			return false
		}
		e.blockedAt = time.Time{}
	}

	if !e.limiter.AllowN(now, 1) {
		e.blockedAt = now
		hl.emitSecurity(clientID)
		return false
	}
	return true
}

func (hl *HandshakeLimiter) emitSecurity(clientID string) {
	if hl.bus == nil {
		return
	}
	hl.bus.Emit(eventbus.KindSecurity, map[string]any{
		"type":     "websocket_rate_limit_exceeded",
		"clientId": clientID,
	}, nil)
}

func (hl *HandshakeLimiter) cleanupLoop() {
	defer close(hl.doneCh)
	ticker := time.NewTicker(handshakeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-hl.stopCh:
			return
		case <-ticker.C:
			hl.purgeIdle()
		}
	}
}

func (hl *HandshakeLimiter) purgeIdle() {
	cutoff := time.Now().Add(-handshakeEntryIdleTTL)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	for id, e := range hl.entries {
		if e.lastSeenAt.Before(cutoff) {
			delete(hl.entries, id)
		}
	}
}

// Stop cancels the background cleanup ticker.
func (hl *HandshakeLimiter) Stop() {
	close(hl.stopCh)
	<-hl.doneCh
}
