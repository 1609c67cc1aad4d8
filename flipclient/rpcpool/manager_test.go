package rpcpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	pingErr error
}

func (m *mockClient) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockClient) Close() error                   { return nil }

func mockClientFactory(shouldFail bool) ClientFactory {
	return func(url string) (Client, error) {
		if shouldFail {
			return nil, assert.AnError
		}
		return &mockClient{}, nil
	}
}

func testPoolConfig() *Config {
	return &Config{
		HealthCheckInterval:   30 * time.Second,
		UnhealthyThreshold:    3,
		RecoveryInterval:      5 * time.Minute,
		MinHealthyEndpoints:   1,
		RequestTimeout:        10 * time.Second,
		LoadBalancingStrategy: "round-robin",
	}
}

func TestNewManager(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name        string
		urls        []string
		expectedNil bool
	}{
		{
			name: "valid configuration",
			urls: []string{"http://rpc1.test", "http://rpc2.test"},
		},
		{
			name:        "empty URLs returns nil",
			urls:        []string{},
			expectedNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("devnet", tt.urls, testPoolConfig(), mockClientFactory(false), logger)

			if tt.expectedNil {
				assert.Nil(t, manager)
			} else {
				require.NotNil(t, manager)
				assert.Len(t, manager.endpoints, len(tt.urls))
				assert.NotNil(t, manager.HealthMonitor)
			}
		})
	}
}

func TestManager_StartStop(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test", "http://rpc2.test"},
		testPoolConfig(), mockClientFactory(false), zerolog.Nop())
	require.NotNil(t, manager)

	require.NoError(t, manager.Start(context.Background()))
	assert.Equal(t, 2, manager.UsableEndpointCount())
	manager.Stop()
}

func TestManager_Start_InsufficientEndpoints(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test"},
		testPoolConfig(), mockClientFactory(true), zerolog.Nop())
	require.NotNil(t, manager)

	err := manager.Start(context.Background())
	assert.ErrorContains(t, err, "insufficient healthy endpoints")
}

func TestManager_SelectEndpoint_RoundRobin(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test", "http://rpc2.test"},
		testPoolConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		ep, err := manager.SelectEndpoint()
		require.NoError(t, err)
		seen[ep.URL] = true
	}
	assert.Len(t, seen, 2)
}

func TestManager_RecordOutcome_ExclusionAndRecoveryEligibility(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test"},
		testPoolConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	ep := manager.GetEndpoints()[0]
	failure := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		manager.RecordOutcome(ep, false, 10*time.Millisecond, failure)
	}

	assert.Equal(t, StateExcluded, ep.GetState())
	assert.False(t, ep.IsUsable())

	_, err := manager.SelectEndpoint()
	assert.Error(t, err)
}

func TestManager_RecordOutcome_PromotesDegraded(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test"},
		testPoolConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	ep := manager.GetEndpoints()[0]
	ep.UpdateState(StateDegraded)

	for i := 0; i < 10; i++ {
		manager.RecordOutcome(ep, true, 5*time.Millisecond, nil)
	}
	assert.Equal(t, StateHealthy, ep.GetState())
}

func TestEndpointMetrics_HealthScore(t *testing.T) {
	m := newMetricsWithScore(100.0)
	assert.Equal(t, 100.0, m.GetHealthScore())

	m.RecordOutcome(true, 10*time.Millisecond, nil)
	assert.Equal(t, 100.0, m.GetHealthScore())

	m.RecordOutcome(false, 0, errors.New("timeout"))
	score := m.GetHealthScore()
	assert.Less(t, score, 100.0)
	assert.Equal(t, 1, m.GetConsecutiveFailures())

	m.RecordOutcome(true, 10*time.Millisecond, nil)
	assert.Zero(t, m.GetConsecutiveFailures())
}

func TestEndpointSelector_WeightedFallsBackOnZeroScores(t *testing.T) {
	selector := NewEndpointSelector(StrategyWeighted)

	a := NewEndpoint("http://a.test")
	b := NewEndpoint("http://b.test")
	// Force zero scores
	a.Metrics = newMetricsWithScore(0)
	b.Metrics = newMetricsWithScore(0)

	ep := selector.SelectEndpoint([]*Endpoint{a, b})
	assert.NotNil(t, ep)
}

func TestHealthMonitor_ExcludedEndpointRecovery(t *testing.T) {
	cfg := testPoolConfig()
	cfg.RecoveryInterval = 0 // recovery attempt allowed immediately

	manager := NewManager("devnet",
		[]string{"http://rpc1.test"},
		cfg, mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	ep := manager.GetEndpoints()[0]
	ep.UpdateState(StateExcluded)

	manager.HealthMonitor.handleExcludedEndpointCheck(ep, true, time.Millisecond, nil)
	assert.Equal(t, StateDegraded, ep.GetState())
	assert.Equal(t, 70.0, ep.Metrics.GetHealthScore())
}

func TestHealthMonitor_GetHealthStatus(t *testing.T) {
	manager := NewManager("devnet",
		[]string{"http://rpc1.test", "http://rpc2.test"},
		testPoolConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	manager.GetEndpoints()[1].UpdateState(StateExcluded)

	status := manager.HealthMonitor.GetHealthStatus()
	assert.Equal(t, "devnet", status.Cluster)
	assert.Equal(t, 2, status.TotalEndpoints)
	assert.Equal(t, 1, status.HealthyCount)
	assert.Equal(t, 1, status.ExcludedCount)
	assert.Len(t, status.Endpoints, 2)
}
