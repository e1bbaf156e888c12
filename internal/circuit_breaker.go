package internal

import (
	"sync"
	"time"

	"github.com/lychee-technology/formsync"
)

// CircuitBreaker is a lightweight in-memory circuit breaker guarding the search backend.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     []time.Time
	threshold    int
	window       time.Duration
	openUntil    time.Time
	openDuration time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a configured circuit breaker.
func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// NewCircuitBreakerFromConfig returns nil when the breaker is disabled; a nil breaker never opens.
func NewCircuitBreakerFromConfig(cfg formsync.CircuitBreakerConfig) *CircuitBreaker {
	if !cfg.Enabled || cfg.Threshold <= 0 {
		return nil
	}
	return NewCircuitBreaker(cfg.Threshold, cfg.Window, cfg.OpenDuration)
}

// RecordFailure records a failure occurrence and opens the breaker if threshold exceeded.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	// drop old failures outside the window
	cutoff := now.Add(-cb.window)
	i := 0
	for ; i < len(cb.failures); i++ {
		if cb.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		cb.failures = append([]time.Time{}, cb.failures[i:]...)
	}
	cb.failures = append(cb.failures, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.openDuration)
		cb.failures = cb.failures[:0]
	}
}

// RecordSuccess resets failure history when operations succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen returns true if the breaker is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}

// Allow returns a connection_unavailable error while the breaker is open.
func (cb *CircuitBreaker) Allow() error {
	if cb.IsOpen() {
		return formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodeCircuitOpen,
			"search backend temporarily unavailable").WithDetail("backend", "search")
	}
	return nil
}
