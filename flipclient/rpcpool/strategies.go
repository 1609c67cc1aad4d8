package rpcpool

import (
	"math/rand"
	"sync/atomic"
)

// LoadBalancingStrategy defines how requests spread across endpoints.
type LoadBalancingStrategy string

const (
	StrategyRoundRobin LoadBalancingStrategy = "round-robin"
	StrategyWeighted   LoadBalancingStrategy = "weighted"
)

// EndpointSelector picks an endpoint according to the configured strategy.
type EndpointSelector struct {
	strategy     LoadBalancingStrategy
	currentIndex atomic.Uint32
}

// NewEndpointSelector creates a selector, defaulting to round-robin for
// unknown strategies.
func NewEndpointSelector(strategy LoadBalancingStrategy) *EndpointSelector {
	if strategy != StrategyRoundRobin && strategy != StrategyWeighted {
		strategy = StrategyRoundRobin
	}
	return &EndpointSelector{strategy: strategy}
}

// SelectEndpoint selects among the usable endpoints.
func (s *EndpointSelector) SelectEndpoint(usable []*Endpoint) *Endpoint {
	if len(usable) == 0 {
		return nil
	}

	switch s.strategy {
	case StrategyWeighted:
		return s.selectWeighted(usable)
	default:
		return s.selectRoundRobin(usable)
	}
}

func (s *EndpointSelector) selectRoundRobin(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 1 {
		return endpoints[0]
	}
	index := s.currentIndex.Add(1) % uint32(len(endpoints))
	return endpoints[index]
}

// selectWeighted samples endpoints proportionally to their health scores.
func (s *EndpointSelector) selectWeighted(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 1 {
		return endpoints[0]
	}

	totalWeight := 0.0
	for _, endpoint := range endpoints {
		totalWeight += endpoint.Metrics.GetHealthScore()
	}
	if totalWeight == 0 {
		return s.selectRoundRobin(endpoints)
	}

	target := rand.Float64() * totalWeight
	cumulative := 0.0
	for _, endpoint := range endpoints {
		cumulative += endpoint.Metrics.GetHealthScore()
		if cumulative >= target {
			return endpoint
		}
	}
	return endpoints[len(endpoints)-1]
}

// GetStrategy returns the configured strategy.
func (s *EndpointSelector) GetStrategy() LoadBalancingStrategy {
	return s.strategy
}
