package dispatch

import (
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, calls allowed
	BreakerOpen                         // failing, calls rejected
	BreakerHalfOpen                     // cooldown elapsed, one probe allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	MaxFailures  int           // consecutive failures before opening
	OpenDuration time.Duration // cooldown before a half-open probe
}

// Breaker guards the dispatch channel against sustained failure. It is
// global per channel, not per destination. State is process-local and
// never persisted.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	maxFailures int
	cooldown    time.Duration
	probing     bool // a half-open probe is in flight
}

// NewBreaker creates a circuit breaker with the given thresholds
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 60 * time.Second
	}
	return &Breaker{
		state:       BreakerClosed,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.OpenDuration,
	}
}

// Allow reports whether a call may be attempted. While half-open, exactly
// one probe call is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false

	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true

	default:
		return true
	}
}

// RecordSuccess resets the breaker after a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failed call. The failure is counted the same way
// in every state; the breaker opens whenever the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	if b.failures >= b.maxFailures {
		b.state = BreakerOpen
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RemainingCooldown returns how long until an open breaker admits a probe.
// Zero when the breaker is not open or the cooldown has elapsed.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return 0
	}
	remaining := b.cooldown - time.Since(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forces the breaker back to closed with a zero failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
