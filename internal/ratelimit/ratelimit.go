// Package ratelimit throttles the control-channel drop/error logs the
// spec calls for (malformed inbound, SET-COOKIE echo mismatch,
// suspected forged SETCOOKIE-NOT-EXPECTED) so a burst from one peer or
// one failure kind cannot flood the log. It is the same token-bucket
// shape as the per-client query limiter it is grounded on, keyed
// instead by (peer, kind) pairs.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ayourtch/ipcookied/internal/proto"
)

// Kind identifies which class of rate-limited event occurred, so a
// flood of one kind from a peer doesn't also suppress logging of a
// different, possibly more interesting, kind from the same peer.
type Kind uint8

const (
	KindMalformed Kind = iota
	KindSetCookieMismatch
	KindForgedNotExpected
)

type key struct {
	peer proto.Peer
	kind Kind
}

// Config controls the token bucket applied to each (peer, kind) pair.
type Config struct {
	EventsPerSecond float64
	Burst           int
	CleanupInterval time.Duration
}

// DefaultConfig returns a conservative default: a handful of log lines
// per peer per kind per second, enough to notice a sustained attack
// without a single burst filling the log.
func DefaultConfig() Config {
	return Config{
		EventsPerSecond: 1,
		Burst:           5,
		CleanupInterval: 10 * time.Minute,
	}
}

// Logger gates whether an event for a given peer and kind should be
// logged right now.
type Logger struct {
	mu          sync.Mutex
	limiters    map[key]*rate.Limiter
	eventsPerS  rate.Limit
	burst       int
	cleanupEvery time.Duration
	lastCleanup time.Time
}

// New builds a Logger from cfg, filling in DefaultConfig's values for
// any zero field.
func New(cfg Config) *Logger {
	def := DefaultConfig()
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = def.EventsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Logger{
		limiters:     make(map[key]*rate.Limiter),
		eventsPerS:   rate.Limit(cfg.EventsPerSecond),
		burst:        cfg.Burst,
		cleanupEvery: cfg.CleanupInterval,
		lastCleanup:  time.Now(),
	}
}

// Allow reports whether an event of the given kind from peer should be
// logged now, consuming one token from that (peer, kind) bucket if so.
func (l *Logger) Allow(peer proto.Peer, kind Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > l.cleanupEvery {
		l.limiters = make(map[key]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	k := key{peer: peer, kind: kind}
	lim, ok := l.limiters[k]
	if !ok {
		lim = rate.NewLimiter(l.eventsPerS, l.burst)
		l.limiters[k] = lim
	}
	return lim.Allow()
}

// TrackedKeys returns the number of distinct (peer, kind) buckets
// currently tracked, for metrics reporting.
func (l *Logger) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
