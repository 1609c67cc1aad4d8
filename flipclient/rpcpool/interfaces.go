package rpcpool

import (
	"context"
)

// Client is the minimal surface the pool needs from a ledger RPC client.
// The concrete Solana client is wrapped by an adapter in flipclient/ledger.
type Client interface {
	// Ping performs a basic connectivity check.
	Ping(ctx context.Context) error

	// Close releases the client connection.
	Close() error
}

// ClientFactory creates a client for a given endpoint URL.
type ClientFactory func(url string) (Client, error)

// HealthChecker performs the active health probe for one client. The ledger
// layer supplies a checker that validates node health, slot progress, and
// the cluster genesis hash.
type HealthChecker interface {
	CheckHealth(ctx context.Context, client Client) error
}
