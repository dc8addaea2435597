// Package coalesce deduplicates concurrent identical computations so that
// callers sharing a key wait on one in-flight execution.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTooManyWaiters is returned when a flight already has MaxWaiters callers.
var ErrTooManyWaiters = errors.New("max waiters exceeded")

// ErrTimeout is returned when a waiter gives up on a flight.
var ErrTimeout = errors.New("timeout waiting for flight")

// Result is the outcome of one flight.
type Result struct {
	Value any
	Err   error
}

// Flight represents an in-flight computation.
type Flight struct {
	key       string
	done      chan struct{}
	result    Result
	completed bool
	waiters   int
	mu        sync.Mutex
	startTime time.Time
}

// Coalescer manages in-flight computations by key.
type Coalescer struct {
	flights map[string]*Flight
	mu      sync.Mutex
	config  Config
	logger  *slog.Logger
	metrics *Metrics
}

// Config configures the coalescer.
type Config struct {
	// MaxWaiters is the maximum number of callers sharing a single flight.
	MaxWaiters int
	// Timeout is the maximum time a waiter blocks on a flight.
	Timeout time.Duration
	// Logger for coalescer events.
	Logger *slog.Logger
}

// Metrics tracks coalescing statistics.
type Metrics struct {
	mu                sync.RWMutex
	TotalRequests     int64 `json:"total_requests"`
	CoalescedRequests int64 `json:"coalesced_requests"`
	ActiveFlights     int   `json:"active_flights"`
}

// New creates a new coalescer.
func New(cfg Config) *Coalescer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxWaiters == 0 {
		cfg.MaxWaiters = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Coalescer{
		flights: make(map[string]*Flight),
		config:  cfg,
		logger:  cfg.Logger,
		metrics: &Metrics{},
	}
}

// Do runs fn once for all concurrent callers with the same key. The second
// return value reports whether this caller joined an existing flight rather
// than running fn itself.
func (c *Coalescer) Do(ctx context.Context, key string, fn func() (any, error)) (any, bool, error) {
	c.metrics.mu.Lock()
	c.metrics.TotalRequests++
	c.metrics.mu.Unlock()

	c.mu.Lock()

	if flight, ok := c.flights[key]; ok {
		flight.mu.Lock()
		if flight.waiters >= c.config.MaxWaiters {
			flight.mu.Unlock()
			c.mu.Unlock()
			return nil, false, fmt.Errorf("%w for key: %s", ErrTooManyWaiters, key)
		}
		flight.waiters++
		flight.mu.Unlock()
		c.mu.Unlock()

		c.metrics.mu.Lock()
		c.metrics.CoalescedRequests++
		c.metrics.mu.Unlock()

		timer := time.NewTimer(c.config.Timeout)
		defer timer.Stop()

		select {
		case <-flight.done:
			return flight.result.Value, true, flight.result.Err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		case <-timer.C:
			return nil, true, fmt.Errorf("%w: %s", ErrTimeout, key)
		}
	}

	flight := &Flight{
		key:       key,
		done:      make(chan struct{}),
		waiters:   1,
		startTime: time.Now(),
	}
	c.flights[key] = flight

	c.metrics.mu.Lock()
	c.metrics.ActiveFlights = len(c.flights)
	c.metrics.mu.Unlock()

	c.mu.Unlock()

	defer c.land(flight)

	value, err := fn()
	flight.result = Result{Value: value, Err: err}
	flight.completed = true

	return value, false, err
}

// land completes a flight and removes it. It runs deferred so that waiters are
// released even when fn panics.
func (c *Coalescer) land(flight *Flight) {
	c.mu.Lock()
	delete(c.flights, flight.key)
	c.metrics.mu.Lock()
	c.metrics.ActiveFlights = len(c.flights)
	c.metrics.mu.Unlock()
	c.mu.Unlock()

	if !flight.completed {
		flight.result.Err = fmt.Errorf("flight %s did not complete", flight.key)
	}
	close(flight.done)

	flight.mu.Lock()
	waiters := flight.waiters
	flight.mu.Unlock()

	c.logger.Debug("flight completed",
		"key", flight.key,
		"waiters", waiters,
		"duration", time.Since(flight.startTime),
	)
}

// GetMetrics returns current metrics.
func (c *Coalescer) GetMetrics() *Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	return &Metrics{
		TotalRequests:     c.metrics.TotalRequests,
		CoalescedRequests: c.metrics.CoalescedRequests,
		ActiveFlights:     c.metrics.ActiveFlights,
	}
}
