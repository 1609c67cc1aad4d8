// Package rpcpool manages a pool of ledger RPC endpoints with load
// balancing, passive metrics, and active health checking. A degraded or
// flaky endpoint is excluded after consecutive failures and re-probed after
// a cool-down, so one bad endpoint never dominates retries.
package rpcpool

import (
	"sync"
	"time"
)

// EndpointState is the lifecycle state of one RPC endpoint.
type EndpointState int

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateUnhealthy
	StateExcluded
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// MetricsSnapshot is a point-in-time copy of one endpoint's counters, safe
// to read without holding any lock.
type MetricsSnapshot struct {
	TotalRequests       uint64
	SuccessfulRequests  uint64
	FailedRequests      uint64
	AverageLatency      time.Duration
	ConsecutiveFailures int
	LastSuccessTime     time.Time
	LastErrorTime       time.Time
	LastError           error
	HealthScore         float64 // 0-100, from success rate and latency
}

// EndpointMetrics folds request outcomes into the counters and a health
// score. State transitions and selection strategies read the score and the
// derived rates, never the raw fields.
type EndpointMetrics struct {
	mu   sync.RWMutex
	snap MetricsSnapshot
}

func newMetricsWithScore(score float64) *EndpointMetrics {
	return &EndpointMetrics{snap: MetricsSnapshot{HealthScore: score}}
}

// RecordOutcome folds one request result into the counters and rescores.
func (m *EndpointMetrics) RecordOutcome(success bool, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.snap
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
		s.ConsecutiveFailures = 0
		s.LastSuccessTime = time.Now()
		if s.AverageLatency == 0 {
			s.AverageLatency = latency
		} else {
			s.AverageLatency = ewmaLatency(s.AverageLatency, latency)
		}
	} else {
		s.FailedRequests++
		s.ConsecutiveFailures++
		s.LastErrorTime = time.Now()
		s.LastError = err
		if latency > 0 && s.AverageLatency > 0 {
			s.AverageLatency = ewmaLatency(s.AverageLatency, latency)
		}
	}
	s.HealthScore = healthScore(s)
}

// ewmaLatency keeps a slow-moving latency average, alpha = 0.1.
func ewmaLatency(current, sample time.Duration) time.Duration {
	return time.Duration(float64(current)*0.9 + float64(sample)*0.1)
}

// healthScore derives the 0-100 score from the counters.
func healthScore(s *MetricsSnapshot) float64 {
	if s.TotalRequests == 0 {
		return 100.0
	}

	score := float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100.0

	// Latency penalty above a 1s baseline, capped at 20 points
	if s.AverageLatency > time.Second {
		penalty := (s.AverageLatency.Seconds() - 1.0) * 5.0
		if penalty > 20.0 {
			penalty = 20.0
		}
		score -= penalty
	}

	// 10 points per consecutive failure, capped at 50
	failurePenalty := float64(s.ConsecutiveFailures) * 10.0
	if failurePenalty > 50.0 {
		failurePenalty = 50.0
	}
	score -= failurePenalty

	if score < 0 {
		return 0
	}
	return score
}

// Snapshot returns a copy of the counters.
func (m *EndpointMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// GetHealthScore returns the current health score.
func (m *EndpointMetrics) GetHealthScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.HealthScore
}

// GetSuccessRate returns the lifetime success rate.
func (m *EndpointMetrics) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap.TotalRequests == 0 {
		return 1.0
	}
	return float64(m.snap.SuccessfulRequests) / float64(m.snap.TotalRequests)
}

// GetConsecutiveFailures returns the consecutive failure count.
func (m *EndpointMetrics) GetConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.ConsecutiveFailures
}

// Endpoint is a single RPC endpoint with its client and metrics.
type Endpoint struct {
	URL        string
	Client     Client
	State      EndpointState
	Metrics    *EndpointMetrics
	LastUsed   time.Time
	ExcludedAt time.Time
	mu         sync.RWMutex
}

// NewEndpoint creates an endpoint starting healthy with a perfect score.
func NewEndpoint(url string) *Endpoint {
	return &Endpoint{
		URL:     url,
		State:   StateHealthy,
		Metrics: newMetricsWithScore(100.0),
	}
}

// SetClient sets the RPC client for this endpoint.
func (e *Endpoint) SetClient(client Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Client = client
}

// GetClient returns the RPC client.
func (e *Endpoint) GetClient() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Client
}

// UpdateState updates the endpoint state, stamping exclusion time on the
// healthy->excluded edge.
func (e *Endpoint) UpdateState(state EndpointState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state == StateExcluded && e.State != StateExcluded {
		e.ExcludedAt = time.Now()
	}
	e.State = state
}

// GetState returns the current state.
func (e *Endpoint) GetState() EndpointState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.State
}

// IsUsable reports whether the endpoint may serve requests.
func (e *Endpoint) IsUsable() bool {
	state := e.GetState()
	return state == StateHealthy || state == StateDegraded
}
