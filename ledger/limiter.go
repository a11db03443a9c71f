// Package ledger bounds how often a network identity may successfully
// complete validation. The ledger maps each identity to its recent success
// timestamps inside a rolling window; by default it lives in memory and is
// reset on restart, but it can be backed by a bbolt store for enforcement
// that survives restarts.
package ledger

import (
	"sync"
	"time"
)

const (
	// DefaultMaxPerWindow is the allowed successful validations per identity
	// within one rolling window.
	DefaultMaxPerWindow = 1
	// DefaultWindow is the rolling window length.
	DefaultWindow = time.Hour
)

// Store persists the ledger across restarts. Implementations must tolerate
// concurrent calls.
type Store interface {
	// Append records a success timestamp for the identity.
	Append(identity string, t time.Time) error
	// Load returns all recorded timestamps keyed by identity.
	Load() (map[string][]time.Time, error)
	// Prune drops timestamps before the cutoff.
	Prune(cutoff time.Time) error
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool
	// NextRetryAt is when the identity may try again. Zero when allowed.
	NextRetryAt time.Time
}

// Limiter enforces the per-identity validation budget. Safe for concurrent
// use. Record only successful validations so failed retries are never
// penalized.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	store   Store
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore backs the limiter with a persistent ledger. Existing entries are
// loaded on construction; load failures fall back to an empty ledger.
func WithStore(store Store) Option {
	return func(l *Limiter) {
		l.store = store
	}
}

// NewLimiter creates a limiter allowing max successes per identity per
// rolling window. Non-positive arguments select the defaults.
func NewLimiter(max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMaxPerWindow
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store != nil {
		if loaded, err := l.store.Load(); err == nil {
			for identity, stamps := range loaded {
				l.entries[identity] = stamps
			}
		}
	}
	return l
}

// Check prunes stale timestamps for the identity and reports whether another
// success is currently allowed.
func (l *Limiter) Check(identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	stamps := l.pruneLocked(identity, now)

	if len(stamps) < l.max {
		return Decision{Allowed: true}
	}

	// The oldest in-window success determines when capacity frees up.
	return Decision{
		Allowed:     false,
		NextRetryAt: stamps[0].Add(l.window),
	}
}

// RecordSuccess appends the current timestamp for the identity. Call only
// after a validation has fully succeeded.
func (l *Limiter) RecordSuccess(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	stamps := l.pruneLocked(identity, now)
	l.entries[identity] = append(stamps, now)

	if l.store != nil {
		// Persistence is best effort; the in-memory ledger is authoritative
		// for this process.
		l.store.Append(identity, now)
		l.store.Prune(now.Add(-l.window))
	}
}

// pruneLocked drops out-of-window timestamps for the identity and returns
// the surviving slice. Caller holds the mutex.
func (l *Limiter) pruneLocked(identity string, now time.Time) []time.Time {
	stamps := l.entries[identity]
	cutoff := now.Add(-l.window)
	start := 0
	for start < len(stamps) && stamps[start].Before(cutoff) {
		start++
	}
	stamps = stamps[start:]
	if len(stamps) == 0 {
		delete(l.entries, identity)
	} else {
		l.entries[identity] = stamps
	}
	return stamps
}
