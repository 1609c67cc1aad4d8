package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus summarizes the pool for callers that surface diagnostics.
type HealthStatus struct {
	Cluster        string           `json:"cluster"`
	TotalEndpoints int              `json:"total_endpoints"`
	HealthyCount   int              `json:"healthy_count"`
	DegradedCount  int              `json:"degraded_count"`
	UnhealthyCount int              `json:"unhealthy_count"`
	ExcludedCount  int              `json:"excluded_count"`
	Strategy       string           `json:"strategy"`
	Endpoints      []EndpointStatus `json:"endpoints"`
}

// EndpointStatus is the reported status of one endpoint.
type EndpointStatus struct {
	URL          string    `json:"url"`
	State        string    `json:"state"`
	HealthScore  float64   `json:"health_score"`
	ResponseTime int64     `json:"response_time_ms"`
	LastChecked  time.Time `json:"last_checked"`
	LastError    string    `json:"last_error,omitempty"`
}

// HealthMonitor runs periodic active probes against all endpoints and
// manages recovery of excluded ones.
type HealthMonitor struct {
	manager       *Manager
	config        *Config
	logger        zerolog.Logger
	healthChecker HealthChecker
	stopCh        chan struct{}
}

// NewHealthMonitor creates a health monitor for the given pool.
func NewHealthMonitor(manager *Manager, config *Config, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		manager: manager,
		config:  config,
		logger:  logger.With().Str("component", "health_monitor").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// SetHealthChecker installs the active probe implementation. Without one,
// the pool relies on passive metrics only.
func (h *HealthMonitor) SetHealthChecker(checker HealthChecker) {
	h.healthChecker = checker
}

// Start runs the monitoring loop until the context is cancelled or Stop is
// called.
func (h *HealthMonitor) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	h.logger.Info().
		Dur("interval", h.config.HealthCheckInterval).
		Msg("starting health monitor")

	ticker := time.NewTicker(h.config.HealthCheckInterval)
	defer ticker.Stop()

	h.performHealthChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("health monitor stopping: context cancelled")
			return
		case <-h.stopCh:
			h.logger.Info().Msg("health monitor stopping: stop signal received")
			return
		case <-ticker.C:
			h.performHealthChecks(ctx)
		}
	}
}

// Stop stops the monitor loop.
func (h *HealthMonitor) Stop() {
	close(h.stopCh)
}

func (h *HealthMonitor) performHealthChecks(ctx context.Context) {
	endpoints := h.manager.GetEndpoints()

	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			h.checkEndpointHealth(ctx, ep)
		}(endpoint)
	}
	wg.Wait()
}

func (h *HealthMonitor) checkEndpointHealth(ctx context.Context, endpoint *Endpoint) {
	if h.healthChecker == nil {
		return
	}

	client := endpoint.GetClient()
	if client == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := h.healthChecker.CheckHealth(checkCtx, client)
	latency := time.Since(start)

	if endpoint.GetState() == StateExcluded {
		h.handleExcludedEndpointCheck(endpoint, err == nil, latency, err)
		return
	}

	h.manager.RecordOutcome(endpoint, err == nil, latency, err)

	if err != nil {
		h.logger.Warn().
			Str("url", endpoint.URL).
			Dur("latency", latency).
			Err(err).
			Int("consecutive_failures", endpoint.Metrics.GetConsecutiveFailures()).
			Msg("endpoint health check failed")
	}
}

// handleExcludedEndpointCheck attempts recovery of an excluded endpoint once
// the recovery interval has elapsed. Recovered endpoints come back degraded
// with a moderate score so they stay under close observation.
func (h *HealthMonitor) handleExcludedEndpointCheck(endpoint *Endpoint, success bool, latency time.Duration, err error) {
	endpoint.mu.RLock()
	excludedAt := endpoint.ExcludedAt
	endpoint.mu.RUnlock()

	if time.Since(excludedAt) < h.config.RecoveryInterval {
		return
	}

	if success {
		endpoint.Metrics = newMetricsWithScore(70.0)
		endpoint.UpdateState(StateDegraded)
		h.logger.Info().
			Str("url", endpoint.URL).
			Dur("recovery_latency", latency).
			Msg("endpoint recovered, promoted to degraded state")
		return
	}

	// Recovery failed: wait another full recovery interval
	endpoint.mu.Lock()
	endpoint.ExcludedAt = time.Now()
	endpoint.mu.Unlock()

	h.logger.Warn().
		Str("url", endpoint.URL).
		Err(err).
		Msg("endpoint recovery failed, extending exclusion period")
}

// GetHealthStatus returns a snapshot of pool health.
func (h *HealthMonitor) GetHealthStatus() *HealthStatus {
	endpoints := h.manager.GetEndpoints()

	status := &HealthStatus{
		Cluster:        h.manager.cluster,
		TotalEndpoints: len(endpoints),
		Strategy:       string(h.manager.selector.GetStrategy()),
		Endpoints:      make([]EndpointStatus, len(endpoints)),
	}

	for i, endpoint := range endpoints {
		state := endpoint.GetState()
		switch state {
		case StateHealthy:
			status.HealthyCount++
		case StateDegraded:
			status.DegradedCount++
		case StateUnhealthy:
			status.UnhealthyCount++
		case StateExcluded:
			status.ExcludedCount++
		}

		snap := endpoint.Metrics.Snapshot()
		var lastError string
		if snap.LastError != nil {
			lastError = snap.LastError.Error()
		}

		status.Endpoints[i] = EndpointStatus{
			URL:          endpoint.URL,
			State:        state.String(),
			HealthScore:  snap.HealthScore,
			ResponseTime: snap.AverageLatency.Milliseconds(),
			LastChecked:  endpoint.LastUsed,
			LastError:    lastError,
		}
	}

	return status
}
