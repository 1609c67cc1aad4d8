// Package ledger defines the read/submit port the engine uses to observe
// and drive the on-chain coin-flip program, plus the Solana implementation
// over a pooled set of RPC endpoints. Every response is treated as
// eventually consistent: a read is never assumed to reflect a just-submitted
// write.
package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// AccountSnapshot is one observed state of an on-chain account.
type AccountSnapshot struct {
	Address   solana.PublicKey
	Owner     solana.PublicKey
	Lamports  uint64
	Data      []byte
	Slot      uint64
	FetchedAt time.Time
}

// AccountUpdate is delivered to subscribers when a watched account changes
// or disappears. A nil Snapshot means the account no longer exists (closed
// after settlement).
type AccountUpdate struct {
	Address  solana.PublicKey
	Snapshot *AccountSnapshot
}

// Reader is the engine's port to the ledger. GetAccount returns (nil, nil)
// for an account that does not exist; errors are reserved for transport
// failures.
type Reader interface {
	GetAccount(ctx context.Context, addr solana.PublicKey) (*AccountSnapshot, error)
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SubscribeAccount(addr solana.PublicKey) (<-chan AccountUpdate, func())
	LatestSlot(ctx context.Context) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Healthy(ctx context.Context) error
}
