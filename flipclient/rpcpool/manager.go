package rpcpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the pool tuning knobs, already resolved to durations by the
// caller.
type Config struct {
	HealthCheckInterval   time.Duration
	UnhealthyThreshold    int // consecutive failures before exclusion
	RecoveryInterval      time.Duration
	MinHealthyEndpoints   int
	RequestTimeout        time.Duration
	LoadBalancingStrategy string
}

// Manager owns a pool of RPC endpoints for one cluster, with load balancing
// and health monitoring.
type Manager struct {
	cluster       string
	endpoints     []*Endpoint
	selector      *EndpointSelector
	config        *Config
	logger        zerolog.Logger
	HealthMonitor *HealthMonitor
	clientFactory ClientFactory
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
}

// NewManager creates a pool manager. Returns nil when no URLs are given.
func NewManager(
	cluster string,
	urls []string,
	poolConfig *Config,
	clientFactory ClientFactory,
	logger zerolog.Logger,
) *Manager {
	if len(urls) == 0 {
		logger.Warn().Str("cluster", cluster).Msg("no RPC URLs provided for pool")
		return nil
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = NewEndpoint(url)
	}

	manager := &Manager{
		cluster:       cluster,
		endpoints:     endpoints,
		selector:      NewEndpointSelector(LoadBalancingStrategy(poolConfig.LoadBalancingStrategy)),
		config:        poolConfig,
		logger:        logger.With().Str("component", "rpc_pool").Str("cluster", cluster).Logger(),
		clientFactory: clientFactory,
		stopCh:        make(chan struct{}),
	}
	manager.HealthMonitor = NewHealthMonitor(manager, poolConfig, logger)

	return manager
}

// Start initializes all endpoints and launches health monitoring.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info().
		Int("endpoint_count", len(m.endpoints)).
		Str("strategy", string(m.selector.GetStrategy())).
		Msg("starting RPC pool manager")

	for _, endpoint := range m.endpoints {
		if err := m.initializeEndpoint(endpoint); err != nil {
			m.logger.Warn().
				Str("url", endpoint.URL).
				Err(err).
				Msg("failed to initialize endpoint")
			endpoint.UpdateState(StateUnhealthy)
		}
	}

	usable := m.UsableEndpointCount()
	if usable < m.config.MinHealthyEndpoints {
		return fmt.Errorf("insufficient healthy endpoints: %d/%d (minimum: %d)",
			usable, len(m.endpoints), m.config.MinHealthyEndpoints)
	}

	m.wg.Add(1)
	go m.HealthMonitor.Start(ctx, &m.wg)

	m.logger.Info().
		Int("healthy_endpoints", usable).
		Int("total_endpoints", len(m.endpoints)).
		Msg("RPC pool manager started")

	return nil
}

// Stop stops health monitoring and closes all client connections.
func (m *Manager) Stop() {
	m.logger.Info().Msg("stopping RPC pool manager")

	if m.HealthMonitor != nil {
		m.HealthMonitor.Stop()
	}

	close(m.stopCh)
	m.wg.Wait()

	for _, endpoint := range m.endpoints {
		if client := endpoint.GetClient(); client != nil {
			if err := client.Close(); err != nil {
				m.logger.Warn().
					Str("url", endpoint.URL).
					Err(err).
					Msg("failed to close client connection")
			}
		}
	}
}

func (m *Manager) initializeEndpoint(endpoint *Endpoint) error {
	client, err := m.clientFactory(endpoint.URL)
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", endpoint.URL, err)
	}

	endpoint.SetClient(client)
	endpoint.UpdateState(StateHealthy)
	return nil
}

// SelectEndpoint selects a usable endpoint via the configured strategy.
func (m *Manager) SelectEndpoint() (*Endpoint, error) {
	usable := m.usableEndpoints()
	if len(usable) == 0 {
		return nil, fmt.Errorf("no healthy endpoints available")
	}

	selected := m.selector.SelectEndpoint(usable)
	if selected == nil {
		return nil, fmt.Errorf("failed to select endpoint")
	}

	selected.mu.Lock()
	selected.LastUsed = time.Now()
	selected.mu.Unlock()

	return selected, nil
}

func (m *Manager) usableEndpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usable := make([]*Endpoint, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		if endpoint.IsUsable() {
			usable = append(usable, endpoint)
		}
	}
	return usable
}

// UsableEndpointCount returns how many endpoints may serve requests.
func (m *Manager) UsableEndpointCount() int {
	return len(m.usableEndpoints())
}

// RecordOutcome updates metrics after a request and adjusts the endpoint
// state: promote degraded endpoints back on a good success rate, exclude
// after too many consecutive failures.
func (m *Manager) RecordOutcome(endpoint *Endpoint, success bool, latency time.Duration, err error) {
	endpoint.Metrics.RecordOutcome(success, latency, err)

	if success {
		if endpoint.GetState() == StateDegraded && endpoint.Metrics.GetSuccessRate() > 0.8 {
			endpoint.UpdateState(StateHealthy)
			m.logger.Info().
				Str("url", endpoint.URL).
				Float64("success_rate", endpoint.Metrics.GetSuccessRate()).
				Msg("endpoint promoted to healthy")
		}
		return
	}

	consecutive := endpoint.Metrics.GetConsecutiveFailures()
	switch {
	case consecutive >= m.config.UnhealthyThreshold:
		endpoint.UpdateState(StateExcluded)
		m.logger.Warn().
			Str("url", endpoint.URL).
			Int("consecutive_failures", consecutive).
			Err(err).
			Msg("endpoint excluded due to consecutive failures")
	case endpoint.Metrics.GetSuccessRate() < 0.5 && endpoint.GetState() == StateHealthy:
		endpoint.UpdateState(StateDegraded)
		m.logger.Warn().
			Str("url", endpoint.URL).
			Float64("success_rate", endpoint.Metrics.GetSuccessRate()).
			Msg("endpoint downgraded to degraded")
	}
}

// GetEndpoints returns a copy of the endpoint slice.
func (m *Manager) GetEndpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	endpoints := make([]*Endpoint, len(m.endpoints))
	copy(endpoints, m.endpoints)
	return endpoints
}

// GetConfig returns the pool configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}
