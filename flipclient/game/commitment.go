package game

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenerateCommitment computes the commitment hash the on-chain program
// expects for a hidden choice: choice byte, 7 bytes of padding, the secret
// little-endian, double sha256'd.
func GenerateCommitment(choice CoinSide, secret uint64) [32]byte {
	data := make([]byte, 16)
	data[0] = byte(choice)
	binary.LittleEndian.PutUint64(data[8:], secret)

	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// VerifyCommitment reports whether a revealed (choice, secret) pair matches
// a previously submitted commitment.
func VerifyCommitment(commitment [32]byte, choice CoinSide, secret uint64) bool {
	return GenerateCommitment(choice, secret) == commitment
}
