// Package cache holds the client-side view of every known game. Reads never
// block on the network; staleness is always visible through LastVerified and
// ExpiresAt rather than hidden. Entries past their deadline stay queryable
// as expired so recovery and timeout settlement remain offerable.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/db"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
	"github.com/allouf/flipCoinFull-sub000/flipclient/store"
)

// CachedGame is the cached client-side state of one game. Owned exclusively
// by the cache; mutated only through Put (sync reads) and the recovery path.
type CachedGame struct {
	GameID       string                `json:"game_id"`
	GamePDA      solana.PublicKey      `json:"game_pda"`
	Phase        game.Phase            `json:"phase"`
	BetAmount    uint64                `json:"bet_amount"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	LastVerified time.Time             `json:"last_verified"`
	Signature    string                `json:"signature,omitempty"`
	Account      *game.GameAccount     `json:"account,omitempty"`
	Validation   game.ValidationResult `json:"validation"`
	Invalidated  bool                  `json:"invalidated"`
}

// IsExpired reports whether the ledger-derived deadline has passed.
func (g *CachedGame) IsExpired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// Stats summarizes cache contents.
type Stats struct {
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// GameCache is the in-memory TTL store of per-game state, optionally backed
// by the SQLite persistence layer. A nil database keeps it memory-only.
type GameCache struct {
	mu       sync.RWMutex
	games    map[string]*CachedGame
	database *db.DB
	logger   zerolog.Logger
}

// New creates a game cache. database may be nil for memory-only operation.
func New(database *db.DB, logger zerolog.Logger) *GameCache {
	return &GameCache{
		games:    make(map[string]*CachedGame),
		database: database,
		logger:   logger.With().Str("component", "game_cache").Logger(),
	}
}

// Get returns the cached game or nil. No side effects, never blocks on
// network.
func (c *GameCache) Get(gameID string) *CachedGame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.games[gameID]
	if !ok {
		return nil
	}
	clone := *cached
	return &clone
}

// Put upserts a game after a successful ledger read, stamping LastVerified
// and clearing any pending invalidation. ExpiresAt must come from a ledger
// read; Put is the only mutation path for it.
func (c *GameCache) Put(cached *CachedGame) {
	c.mu.Lock()
	clone := *cached
	clone.LastVerified = time.Now()
	clone.Invalidated = false
	c.games[clone.GameID] = &clone
	c.mu.Unlock()

	c.persist(&clone)
}

// Invalidate marks a game for mandatory refresh on next access. The entry
// stays readable; only its trust marker changes.
func (c *GameCache) Invalidate(gameID string) {
	c.mu.Lock()
	cached, ok := c.games[gameID]
	if ok {
		cached.Invalidated = true
	}
	var clone CachedGame
	if ok {
		clone = *cached
	}
	c.mu.Unlock()

	if ok {
		c.persist(&clone)
	}
}

// Remove deletes a game from the cache and from persistence.
func (c *GameCache) Remove(gameID string) {
	c.mu.Lock()
	delete(c.games, gameID)
	c.mu.Unlock()

	if c.database != nil {
		if err := c.database.Client().
			Where("game_id = ?", gameID).
			Delete(&store.CachedGameRecord{}).Error; err != nil {
			c.logger.Warn().Str("game_id", gameID).Err(err).Msg("failed to delete persisted game")
		}
	}
}

// GetAll returns a snapshot of every cached game, expired entries included.
func (c *GameCache) GetAll() []*CachedGame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*CachedGame, 0, len(c.games))
	for _, cached := range c.games {
		clone := *cached
		out = append(out, &clone)
	}
	return out
}

// GetStats counts active vs expired entries.
func (c *GameCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	stats := Stats{}
	for _, cached := range c.games {
		if cached.IsExpired(now) {
			stats.Expired++
		} else {
			stats.Active++
		}
	}
	return stats
}

// Sweep removes terminal games whose entries have not been verified within
// maxAge. Best-effort garbage collection only: expiry visibility, not
// sweeping, is the correctness mechanism. Returns how many entries were
// removed.
func (c *GameCache) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.mu.Lock()
	var victims []string
	for id, cached := range c.games {
		if cached.Phase.IsTerminal() && cached.LastVerified.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(c.games, id)
	}
	c.mu.Unlock()

	for _, id := range victims {
		if c.database != nil {
			if err := c.database.Client().
				Where("game_id = ?", id).
				Delete(&store.CachedGameRecord{}).Error; err != nil {
				c.logger.Warn().Str("game_id", id).Err(err).Msg("failed to delete swept game")
			}
		}
	}

	if len(victims) > 0 {
		c.logger.Debug().Int("count", len(victims)).Msg("swept terminal cache entries")
	}
	return len(victims)
}

// LoadPersisted rehydrates cache entries from the database. Rehydrated
// entries get a zeroed LastVerified so nothing trusts them before a fresh
// ledger read.
func (c *GameCache) LoadPersisted() error {
	if c.database == nil {
		return nil
	}

	var records []store.CachedGameRecord
	if err := c.database.Client().Find(&records).Error; err != nil {
		return errors.NewPersistenceError("", "failed to load persisted games", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range records {
		record := &records[i]
		cached, err := recordToCachedGame(record)
		if err != nil {
			c.logger.Warn().
				Str("game_id", record.GameID).
				Err(err).
				Msg("skipping corrupt persisted game")
			continue
		}
		c.games[cached.GameID] = cached
	}

	c.logger.Info().Int("count", len(c.games)).Msg("rehydrated persisted games")
	return nil
}

func (c *GameCache) persist(cached *CachedGame) {
	if c.database == nil {
		return
	}

	record, err := cachedGameToRecord(cached)
	if err != nil {
		c.logger.Warn().Str("game_id", cached.GameID).Err(err).Msg("failed to encode game for persistence")
		return
	}

	result := c.database.Client().
		Where("game_id = ?", cached.GameID).
		Assign(map[string]any{
			"game_pda":      record.GamePDA,
			"phase":         record.Phase,
			"status":        record.Status,
			"bet_amount":    record.BetAmount,
			"created_at64":  record.CreatedAt64,
			"expires_at64":  record.ExpiresAt64,
			"last_verified": record.LastVerified,
			"signature":     record.Signature,
			"snapshot":      record.Snapshot,
			"invalidated":   record.Invalidated,
		}).
		FirstOrCreate(&store.CachedGameRecord{GameID: cached.GameID})
	if result.Error != nil {
		c.logger.Warn().Str("game_id", cached.GameID).Err(result.Error).Msg("failed to persist game")
	}
}

func cachedGameToRecord(cached *CachedGame) (*store.CachedGameRecord, error) {
	var snapshot []byte
	if cached.Account != nil {
		var err error
		snapshot, err = json.Marshal(cached.Account)
		if err != nil {
			return nil, err
		}
	}

	record := &store.CachedGameRecord{
		GameID:      cached.GameID,
		GamePDA:     cached.GamePDA.String(),
		Phase:       cached.Phase.String(),
		Status:      string(cached.Validation.Status),
		BetAmount:   cached.BetAmount,
		CreatedAt64: cached.CreatedAt.Unix(),
		ExpiresAt64: cached.ExpiresAt.Unix(),
		Signature:   cached.Signature,
		Snapshot:    snapshot,
		Invalidated: cached.Invalidated,
	}
	if !cached.LastVerified.IsZero() {
		record.LastVerified = cached.LastVerified.Unix()
	}
	return record, nil
}

func recordToCachedGame(record *store.CachedGameRecord) (*CachedGame, error) {
	pda, err := solana.PublicKeyFromBase58(record.GamePDA)
	if err != nil {
		return nil, err
	}

	cached := &CachedGame{
		GameID:    record.GameID,
		GamePDA:   pda,
		Phase:     game.PhaseFromString(record.Phase),
		BetAmount: record.BetAmount,
		CreatedAt: time.Unix(record.CreatedAt64, 0),
		ExpiresAt: time.Unix(record.ExpiresAt64, 0),
		Signature: record.Signature,
		// LastVerified deliberately left zero: persisted entries are never
		// authoritative until re-validated against the ledger.
		Invalidated: true,
	}

	if len(record.Snapshot) > 0 {
		var acct game.GameAccount
		if err := json.Unmarshal(record.Snapshot, &acct); err != nil {
			return nil, err
		}
		cached.Account = &acct
	}
	return cached, nil
}
