package eventbus

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RetentionPolicy selects what happens to the oldest events once
// history exceeds Config.MaxHistorySize.
type RetentionPolicy int

const (
	// RetentionDropOldest silently truncates the oldest events.
	RetentionDropOldest RetentionPolicy = iota
	// RetentionArchive hands a contiguous batch of the oldest events to
	// Config.ArchiveSink before discarding them, and emits EventArchive
	// describing the discarded range.
	RetentionArchive
)

// Config configures a Bus.
type Config struct {
	// MaxHistorySize bounds the in-memory ring of retained events.
	MaxHistorySize int
	// Retention selects the eviction policy once MaxHistorySize is
	// exceeded.
	Retention RetentionPolicy
	// ArchiveSink receives evicted batches when Retention is
	// RetentionArchive. Required in that mode; ignored otherwise.
	ArchiveSink ArchiveSink
	// ArchiveBatchSize controls how many of the oldest events are
	// handed to ArchiveSink at once. Defaults to MaxHistorySize/4 (at
	// least 1) when unset.
	ArchiveBatchSize int
}

// DefaultConfig returns sensible defaults: a 10,000-event ring with
// drop-oldest retention.
func DefaultConfig() Config {
	return Config{
		MaxHistorySize: 10_000,
		Retention:      RetentionDropOldest,
	}
}

// Bus is a typed, bounded, in-process publish/subscribe fabric. The
// zero value is not usable; construct with New. A Bus is a process-wide
// singleton in the owning process and is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	cfg       Config
	history   []Event
	listeners map[Kind][]subscription
	nextSeq   uint64

	// idMu guards lastMs/entropy independently of mu, since stamp is
	// called both outside any lock (Emit) and while mu is already held
	// (enforceRetentionLocked's archive-event stamp) — sharing mu there
	// would self-deadlock on the non-reentrant RWMutex.
	idMu    sync.Mutex
	lastMs  int64
	entropy *ulid.MonotonicEntropy
}

type subscription struct {
	id       uint64
	listener Listener
}

// New constructs a Bus with cfg. If cfg.MaxHistorySize is zero,
// DefaultConfig's value is used.
func New(cfg Config) *Bus {
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = DefaultConfig().MaxHistorySize
	}
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = cfg.MaxHistorySize / 4
		if cfg.ArchiveBatchSize < 1 {
			cfg.ArchiveBatchSize = 1
		}
	}
	return &Bus{
		cfg:       cfg,
		listeners: make(map[Kind][]subscription),
		entropy:   ulid.Monotonic(newEntropySource(), 0),
	}
}

// On registers listener for kind (or KindAny for every kind). Returns a
// subscription id usable with Off. Safe to call concurrently with Emit.
func (b *Bus) On(kind Kind, listener Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	id := b.nextSeq
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, listener: listener})
	return id
}

// Off removes the subscription with the given id, if present. Safe to
// call concurrently with Emit, including from within a listener that is
// itself being invoked mid-dispatch: the removal takes effect for
// subsequent Emit calls, but an in-flight dispatch that already captured
// the subscriber list will still deliver to it once more.
func (b *Bus) Off(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.listeners {
		for i, s := range subs {
			if s.id == id {
				b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit stamps id+timestamp, appends the event to history, and invokes
// typed listeners followed by "any" listeners, synchronously, in
// registration order. A listener panic is caught and logged; it never
// prevents subsequent listeners from running and is reported via an
// internal ListenerError event, dispatched to its typed and "any"
// listeners. A panic while handling a ListenerError event is only
// logged, never reported as a further ListenerError, so reporting
// cannot recurse.
func (b *Bus) Emit(kind Kind, payload any, meta Meta) Event {
	ev := b.stamp(kind, payload, meta)

	b.mu.Lock()
	b.history = append(b.history, ev)
	b.enforceRetentionLocked()
	typed := append([]subscription(nil), b.listeners[kind]...)
	any_ := append([]subscription(nil), b.listeners[KindAny]...)
	b.mu.Unlock()

	b.dispatch(ev, typed)
	if kind != kindListenerError {
		b.dispatch(ev, any_)
	}
	return ev
}

func (b *Bus) dispatch(ev Event, subs []subscription) {
	for _, s := range subs {
		b.invokeSafely(ev, s.listener)
	}
}

func (b *Bus) invokeSafely(ev Event, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			if ev.Kind == kindListenerError {
				fmt.Fprintf(os.Stderr, "eventbus: listener error while handling %s: panic: %v\n", ev.Kind, r)
				return
			}
			b.reportListenerError(ev.Kind, fmt.Errorf("panic: %v", r))
		}
	}()
	l(ev)
}

func (b *Bus) reportListenerError(kind Kind, err error) {
	fmt.Fprintf(os.Stderr, "eventbus: listener error for %s: %v\n", kind, err)
	// Emitted directly (bypassing the public Emit re-entrancy guard
	// above would be wrong); instead we stamp and dispatch only to
	// kindListenerError subscribers plus "any", matching normal Emit
	// semantics for every OTHER kind of event.
	ev := b.stamp(kindListenerError, ListenerErrorPayload{Kind: kind, Error: err.Error()}, nil)
	b.mu.Lock()
	b.history = append(b.history, ev)
	b.enforceRetentionLocked()
	typed := append([]subscription(nil), b.listeners[kindListenerError]...)
	any_ := append([]subscription(nil), b.listeners[KindAny]...)
	b.mu.Unlock()
	b.dispatch(ev, typed)
	b.dispatch(ev, any_)
}

func (b *Bus) stamp(kind Kind, payload any, meta Meta) Event {
	now := time.Now()
	ms := now.UnixMilli()
	b.idMu.Lock()
	if ms < b.lastMs {
		ms = b.lastMs
	}
	b.lastMs = ms
	id := ulid.MustNew(uint64(ms), b.entropy)
	b.idMu.Unlock()
	return Event{
		ID:        id.String(),
		Kind:      kind,
		Timestamp: now,
		Payload:   payload,
		Meta:      meta,
	}
}

// enforceRetentionLocked must be called with b.mu held.
func (b *Bus) enforceRetentionLocked() {
	if len(b.history) <= b.cfg.MaxHistorySize {
		return
	}
	switch b.cfg.Retention {
	case RetentionArchive:
		n := b.cfg.ArchiveBatchSize
		if n > len(b.history) {
			n = len(b.history)
		}
		batch := append([]Event(nil), b.history[:n]...)
		b.history = b.history[n:]
		if b.cfg.ArchiveSink != nil {
			if err := b.cfg.ArchiveSink(batch); err != nil {
				fmt.Fprintf(os.Stderr, "eventbus: archive sink error: %v\n", err)
			}
		}
		archiveEv := b.stamp(KindEventArchive, ArchivePayload{
			FirstID: batch[0].ID,
			LastID:  batch[len(batch)-1].ID,
			Count:   len(batch),
		}, nil)
		b.history = append(b.history, archiveEv)
		if len(b.history) > b.cfg.MaxHistorySize {
			b.history = b.history[len(b.history)-b.cfg.MaxHistorySize:]
		}
	default:
		excess := len(b.history) - b.cfg.MaxHistorySize
		b.history = b.history[excess:]
	}
}

// History returns a snapshot of retained events matching filter.
// An unset Since, Kind, or Limit is treated as unconstrained.
func (b *Bus) History(filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, ev := range b.history {
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		out = append(out, ev)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Len returns the current number of retained events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}
