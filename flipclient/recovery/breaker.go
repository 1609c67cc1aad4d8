package recovery

import (
	"sync"
	"time"

	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
)

// CircuitBreaker opens after a run of consecutive ledger-fetch failures and
// refuses further automatic calls until the cool-down elapses. Manual,
// user-initiated refreshes bypass it. Breaker trips are surfaced as a
// distinct error code so callers can say "automatic refresh paused" instead
// of "request failed".
type CircuitBreaker struct {
	mu                  sync.Mutex
	failureThreshold    int
	cooldown            time.Duration
	consecutiveFailures int
	openedAt            time.Time
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures for the given cool-down.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow returns nil when an automatic call may proceed, or an ErrCodeCircuitOpen
// error carrying the remaining cool-down.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consecutiveFailures < b.failureThreshold {
		return nil
	}

	elapsed := time.Since(b.openedAt)
	if elapsed >= b.cooldown {
		// Cool-down over: half-open, allow one probe through
		b.consecutiveFailures = b.failureThreshold - 1
		return nil
	}

	remaining := b.cooldown - elapsed
	return errors.NewCircuitOpenError("", remaining.Round(time.Second).String())
}

// RecordSuccess closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// RecordFailure counts a failure, opening the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures == b.failureThreshold {
		b.openedAt = time.Now()
	}
}

// IsOpen reports whether automatic calls are currently refused.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consecutiveFailures < b.failureThreshold {
		return false
	}
	return time.Since(b.openedAt) < b.cooldown
}
