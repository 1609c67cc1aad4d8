// Package store contains the GORM-backed SQLite models used by the flip
// client engine. One database per player, holding the persisted game cache
// and the VRF request journal. Persisted rows are never authoritative on
// their own: the cache re-validates every rehydrated entry against the
// ledger before trusting it.
package store

import (
	"gorm.io/gorm"
)

// CachedGameRecord persists one cached game across page reloads / restarts.
// Rehydrated records come back with a zeroed LastVerified so the sync layer
// is forced to re-read the ledger before the entry is trusted.
type CachedGameRecord struct {
	gorm.Model
	GameID       string `gorm:"uniqueIndex;not null"` // Client-side game identifier
	GamePDA      string `gorm:"index"`                // On-chain game account address (base58)
	Phase        string `gorm:"index"`                // Last known local phase
	Status       string // Last known validation status: "active", "expired", "completed", "invalid"
	BetAmount    uint64 // Bet in lamports
	CreatedAt64  int64  // Ledger-reported creation time (unix seconds)
	ExpiresAt64  int64  // Ledger-derived deadline (unix seconds)
	LastVerified int64  // Unix seconds of last successful ledger read; 0 forces re-validation
	Signature    string // Settlement/refund signature once confirmed
	Snapshot     []byte // Raw JSON-encoded last known ledger account snapshot
	Invalidated  bool   // Marked for mandatory refresh on next access
}

// VRFRequestRecord journals one VRF resolution request so emergency tracking
// survives restarts.
type VRFRequestRecord struct {
	gorm.Model
	GameID     string `gorm:"index;not null"`
	RoomID     string
	VRFAccount string // Oracle account the request was issued against (base58)
	StartedAt  int64  `gorm:"not null"` // Unix seconds the request was first observed outstanding
	Status     string `gorm:"index"`    // "outstanding", "resolved", "fallback", "abandoned"
}
