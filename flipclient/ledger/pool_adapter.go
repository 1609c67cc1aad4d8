package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/allouf/flipCoinFull-sub000/flipclient/rpcpool"
)

// solanaClientAdapter wraps rpc.Client to satisfy rpcpool.Client.
type solanaClientAdapter struct {
	client *rpc.Client
}

// Ping performs a basic connectivity check against the endpoint.
func (a *solanaClientAdapter) Ping(ctx context.Context) error {
	_, err := a.client.GetSlot(ctx, rpc.CommitmentConfirmed)
	return err
}

// Close releases the client. The Solana RPC client has no explicit close;
// dropping the reference is enough.
func (a *solanaClientAdapter) Close() error {
	a.client = nil
	return nil
}

// SolanaClient returns the underlying rpc.Client.
func (a *solanaClientAdapter) SolanaClient() *rpc.Client {
	return a.client
}

// NewClientFactory returns the pool factory producing Solana RPC clients.
func NewClientFactory() rpcpool.ClientFactory {
	return func(url string) (rpcpool.Client, error) {
		return &solanaClientAdapter{client: rpc.New(url)}, nil
	}
}

// solanaHealthChecker validates node health, slot progress, and optionally
// the cluster genesis hash, so a misconfigured endpoint pointing at the
// wrong cluster is excluded instead of serving bogus game state.
type solanaHealthChecker struct {
	expectedGenesisHash string
}

// NewHealthChecker creates the pool health checker. An empty genesis hash
// disables the cluster identity check.
func NewHealthChecker(expectedGenesisHash string) rpcpool.HealthChecker {
	return &solanaHealthChecker{expectedGenesisHash: expectedGenesisHash}
}

func (h *solanaHealthChecker) CheckHealth(ctx context.Context, client rpcpool.Client) error {
	adapter, ok := client.(*solanaClientAdapter)
	if !ok {
		return fmt.Errorf("invalid client type for solana health check: %T", client)
	}
	rpcClient := adapter.SolanaClient()

	health, err := rpcClient.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get health status: %w", err)
	}
	if health != "ok" {
		return fmt.Errorf("node is not healthy: %s", health)
	}

	slot, err := rpcClient.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("failed to get slot: %w", err)
	}
	if slot == 0 {
		return fmt.Errorf("slot is zero, node may not be synced")
	}

	if h.expectedGenesisHash != "" {
		genesisHash, err := rpcClient.GetGenesisHash(ctx)
		if err != nil {
			return fmt.Errorf("failed to get genesis hash: %w", err)
		}
		if genesisHash.String() != h.expectedGenesisHash {
			return fmt.Errorf("genesis hash mismatch: expected %s, got %s",
				h.expectedGenesisHash, genesisHash)
		}
	}

	return nil
}

// solanaClientFromEndpoint extracts the rpc.Client from a pool endpoint.
func solanaClientFromEndpoint(endpoint *rpcpool.Endpoint) (*rpc.Client, error) {
	client := endpoint.GetClient()
	if client == nil {
		return nil, fmt.Errorf("no client available for endpoint %s", endpoint.URL)
	}

	adapter, ok := client.(*solanaClientAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid client type: expected solanaClientAdapter, got %T", client)
	}
	return adapter.SolanaClient(), nil
}
