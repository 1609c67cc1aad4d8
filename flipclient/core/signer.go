package core

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
)

// TransactionSigner signs assembled transactions. The wallet layer supplies
// the implementation; no private key material crosses the engine boundary
// unless the embedder chooses KeypairSigner for local play.
type TransactionSigner interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, tx *solana.Transaction) error
}

// KeypairSigner signs with an in-process keypair. Intended for local
// development and tests.
type KeypairSigner struct {
	key solana.PrivateKey
}

// NewKeypairSigner wraps a private key as a signer.
func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) Sign(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return errors.NewInternalError("", "failed to sign transaction", err)
	}
	return nil
}
