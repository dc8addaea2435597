package fetch

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the state of an upstream's circuit breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
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

// Breaker stops calling an upstream after consecutive failures and lets a
// probe through once the cool-down has passed.
type Breaker struct {
	state            atomic.Int32
	failures         atomic.Int64
	successes        atomic.Int64
	failureThreshold int64
	successThreshold int64
	cooldown         time.Duration

	mu      sync.Mutex
	changed time.Time
	now     func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments use defaults of
// 5 failures, 1 success and 30s.
func NewBreaker(failureThreshold, successThreshold int64, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	b := &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
	b.changed = b.now()
	return b
}

// Allow reports whether a call may go to the upstream.
func (b *Breaker) Allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed, BreakerHalfOpen:
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if BreakerState(b.state.Load()) != BreakerOpen {
		return true
	}
	if b.now().Sub(b.changed) < b.cooldown {
		return false
	}
	b.transition(BreakerHalfOpen)
	return true
}

// Success records a call that reached the upstream and got an answer.
func (b *Breaker) Success() {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		b.failures.Store(0)
	case BreakerHalfOpen:
		if b.successes.Add(1) < b.successThreshold {
			return
		}
		b.mu.Lock()
		if BreakerState(b.state.Load()) == BreakerHalfOpen {
			b.transition(BreakerClosed)
		}
		b.mu.Unlock()
	}
}

// Failure records a call that failed at the transport level or with a 5xx.
func (b *Breaker) Failure() {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		if b.failures.Add(1) < b.failureThreshold {
			return
		}
		b.mu.Lock()
		if BreakerState(b.state.Load()) == BreakerClosed {
			b.transition(BreakerOpen)
		}
		b.mu.Unlock()
	case BreakerHalfOpen:
		b.mu.Lock()
		if BreakerState(b.state.Load()) == BreakerHalfOpen {
			b.transition(BreakerOpen)
		}
		b.mu.Unlock()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// transition must be called with mu held.
func (b *Breaker) transition(to BreakerState) {
	b.state.Store(int32(to))
	b.failures.Store(0)
	b.successes.Store(0)
	b.changed = b.now()
}
