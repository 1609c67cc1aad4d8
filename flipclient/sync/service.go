// Package sync keeps the game cache fresh against the ledger. One loop per
// process polls every tracked game account; per-game retries back off
// exponentially and a game that exhausts its retry budget is marked degraded
// without blocking sync of the others. Writes are ordered by fetch
// completion: a slow early fetch can never overwrite a faster later one.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/cache"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
	"github.com/allouf/flipCoinFull-sub000/flipclient/ledger"
)

// Config tunes the sync loop.
type Config struct {
	Interval   time.Duration // tick cadence
	MaxRetries int           // per-game retry budget per tick
	RetryDelay time.Duration // initial backoff delay
}

// Stats reports sync service counters.
type Stats struct {
	LastSync            time.Time `json:"last_sync"`
	LastSlot            uint64    `json:"last_slot"` // ledger slot observed on the most recent tick
	SuccessfulSyncs     uint64    `json:"successful_syncs"`
	FailedSyncs         uint64    `json:"failed_syncs"`
	DroppedStaleWrites  uint64    `json:"dropped_stale_writes"`
	ActiveSubscriptions int       `json:"active_subscriptions"`
}

// UpdateFunc receives a fresh cache entry after each successful sync.
type UpdateFunc func(*cache.CachedGame)

// trackedGame carries per-game sync state, including the fetch-start
// sequence used to discard stale completions.
type trackedGame struct {
	gameID     string
	pda        solana.PublicKey
	nextSeq    uint64
	appliedSeq uint64
	degraded   bool
	unsub      func() // ledger push subscription; nil outside a sync session
}

// Service is the sync engine. Only one loop may run per process; Start is
// idempotent.
type Service struct {
	gameCache *cache.GameCache
	reader    ledger.Reader
	logger    zerolog.Logger

	mu          sync.Mutex
	cfg         Config
	games       map[string]*trackedGame
	subscribers map[string]UpdateFunc
	subOrder    []string
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	lastSync        time.Time
	lastSlot        uint64
	successfulSyncs uint64
	failedSyncs     uint64
	droppedStale    uint64
}

// New creates a sync service over the given cache and ledger reader.
func New(gameCache *cache.GameCache, reader ledger.Reader, logger zerolog.Logger) *Service {
	return &Service{
		gameCache: gameCache,
		reader:    reader,
		logger:    logger.With().Str("component", "sync_service").Logger(),
		cfg: Config{
			Interval:   5 * time.Second,
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
		},
		games:       make(map[string]*trackedGame),
		subscribers: make(map[string]UpdateFunc),
	}
}

// StartSync launches the sync loop. Calling it while running is a no-op.
func (s *Service) StartSync(ctx context.Context, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug().Msg("sync loop already running, ignoring start")
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	s.cfg = cfg

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	// Push path: subscribe every tracked game for the lifetime of this sync
	// session. Pushed snapshots apply through the same sequenced write path
	// as polls, so the two can never interleave out of order.
	for _, tracked := range s.games {
		s.subscribeLocked(tracked)
	}

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info().
		Dur("interval", cfg.Interval).
		Int("max_retries", cfg.MaxRetries).
		Msg("sync loop started")
}

// StopSync stops the loop, drops all push subscriptions and cancels any
// in-flight retry timers.
func (s *Service) StopSync() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	var unsubs []func()
	for _, tracked := range s.games {
		if tracked.unsub != nil {
			unsubs = append(unsubs, tracked.unsub)
			tracked.unsub = nil
		}
	}
	s.mu.Unlock()

	cancel()
	for _, unsub := range unsubs {
		unsub()
	}
	s.wg.Wait()
	s.logger.Info().Msg("sync loop stopped")
}

// Track adds a game to the polling set. During an active sync session the
// game is also subscribed for ledger push updates.
func (s *Service) Track(gameID string, pda solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; ok {
		return
	}
	tracked := &trackedGame{gameID: gameID, pda: pda}
	s.games[gameID] = tracked
	if s.running {
		s.subscribeLocked(tracked)
	}
}

// Untrack removes a game from the polling set. The cache entry stays.
func (s *Service) Untrack(gameID string) {
	s.mu.Lock()
	tracked, ok := s.games[gameID]
	delete(s.games, gameID)
	var unsub func()
	if ok && tracked.unsub != nil {
		unsub = tracked.unsub
		tracked.unsub = nil
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// subscribeLocked opens the push subscription for one tracked game and
// launches its consumer. Callers hold s.mu.
func (s *Service) subscribeLocked(tracked *trackedGame) {
	updates, unsub := s.reader.SubscribeAccount(tracked.pda)
	tracked.unsub = unsub

	s.wg.Add(1)
	go s.consumePush(tracked.gameID, tracked.pda, updates)
}

// consumePush applies pushed account updates until the subscription channel
// closes. Each update takes a fresh sequence number, so a push is dropped if
// a later poll already applied.
func (s *Service) consumePush(gameID string, pda solana.PublicKey, updates <-chan ledger.AccountUpdate) {
	defer s.wg.Done()

	for update := range updates {
		s.mu.Lock()
		tracked, ok := s.games[gameID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		tracked.nextSeq++
		seq := tracked.nextSeq
		s.mu.Unlock()

		s.applyFetch(gameID, pda, seq, update.Snapshot)
	}
}

// IsDegraded reports whether a game exhausted its retry budget on the most
// recent tick.
func (s *Service) IsDegraded(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracked, ok := s.games[gameID]
	return ok && tracked.degraded
}

// Subscribe registers an update callback and returns its token. Delivery
// order is deterministic: subscribers are notified in registration order.
func (s *Service) Subscribe(fn UpdateFunc) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	s.subscribers[token] = fn
	s.subOrder = append(s.subOrder, token)
	return token
}

// Unsubscribe removes a subscription by token.
func (s *Service) Unsubscribe(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscribers, token)
	for i, t := range s.subOrder {
		if t == token {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
}

// GetStats returns a snapshot of the counters.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LastSync:            s.lastSync,
		LastSlot:            s.lastSlot,
		SuccessfulSyncs:     s.successfulSyncs,
		FailedSyncs:         s.failedSyncs,
		DroppedStaleWrites:  s.droppedStale,
		ActiveSubscriptions: len(s.subscribers),
	}
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Immediate first pass
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fetches every tracked game concurrently, each tagged with a
// fetch-start sequence number. The tick does not wait for slow fetches;
// stale completions are discarded at apply time.
func (s *Service) tick(ctx context.Context) {
	slot, slotErr := s.reader.LatestSlot(ctx)

	s.mu.Lock()
	s.lastSync = time.Now()
	if slotErr == nil {
		s.lastSlot = slot
	}
	jobs := make([]*trackedGame, 0, len(s.games))
	var seqs []uint64
	for _, tracked := range s.games {
		tracked.nextSeq++
		jobs = append(jobs, tracked)
		seqs = append(seqs, tracked.nextSeq)
	}
	s.mu.Unlock()

	for i, tracked := range jobs {
		s.wg.Add(1)
		go func(tg *trackedGame, seq uint64) {
			defer s.wg.Done()
			s.syncGame(ctx, tg.gameID, tg.pda, seq)
		}(tracked, seqs[i])
	}
}

// SyncNow fetches one tracked game immediately, outside the tick cadence.
func (s *Service) SyncNow(ctx context.Context, gameID string) error {
	s.mu.Lock()
	tracked, ok := s.games[gameID]
	if !ok {
		s.mu.Unlock()
		return errors.NewValidationError(gameID, "game is not tracked")
	}
	tracked.nextSeq++
	seq := tracked.nextSeq
	pda := tracked.pda
	s.mu.Unlock()

	return s.syncGame(ctx, gameID, pda, seq)
}

// syncGame fetches one game with per-game retry/backoff. A failure after
// the retry budget marks only this game degraded.
func (s *Service) syncGame(ctx context.Context, gameID string, pda solana.PublicKey, seq uint64) error {
	var snapshot *ledger.AccountSnapshot

	delay := s.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		var err error
		snapshot, err = s.reader.GetAccount(ctx, pda)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = errors.ExponentialBackoff(attempt+1, s.cfg.RetryDelay, 30*time.Second)
	}

	if lastErr != nil {
		s.mu.Lock()
		s.failedSyncs++
		if tracked, ok := s.games[gameID]; ok {
			tracked.degraded = true
		}
		s.mu.Unlock()

		s.logger.Warn().
			Str("game_id", gameID).
			Err(lastErr).
			Msg("game sync degraded after retries")
		return errors.WrapGameError(lastErr, errors.ErrCodeRPC, gameID, "sync fetch failed")
	}

	s.applyFetch(gameID, pda, seq, snapshot)
	return nil
}

// applyFetch applies a completed fetch if no later-started fetch has been
// applied already. Last-write-wins by completion order, monotonic per game.
func (s *Service) applyFetch(gameID string, pda solana.PublicKey, seq uint64, snapshot *ledger.AccountSnapshot) {
	s.mu.Lock()
	tracked, ok := s.games[gameID]
	if !ok {
		// Untracked mid-flight: drop silently
		s.mu.Unlock()
		return
	}
	if seq <= tracked.appliedSeq {
		s.droppedStale++
		s.mu.Unlock()
		s.logger.Debug().
			Str("game_id", gameID).
			Uint64("seq", seq).
			Msg("discarding stale sync completion")
		return
	}
	tracked.appliedSeq = seq
	tracked.degraded = false
	s.successfulSyncs++
	subs := s.orderedSubscribersLocked()

	// Build and write the entry while still holding the lock so a racing
	// completion cannot interleave between the sequence check and the write.
	cached := s.buildCachedGame(gameID, pda, snapshot)
	s.gameCache.Put(cached)
	s.mu.Unlock()

	fresh := s.gameCache.Get(gameID)
	for _, fn := range subs {
		fn(fresh)
	}
}

// orderedSubscribersLocked snapshots callbacks in registration order.
// Callers hold s.mu.
func (s *Service) orderedSubscribersLocked() []UpdateFunc {
	subs := make([]UpdateFunc, 0, len(s.subOrder))
	for _, token := range s.subOrder {
		if fn, ok := s.subscribers[token]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

// buildCachedGame derives the new cache entry from a ledger snapshot. A nil
// snapshot means the account no longer exists, which for a previously known
// game is a settled-and-closed outcome, not an error.
func (s *Service) buildCachedGame(gameID string, pda solana.PublicKey, snapshot *ledger.AccountSnapshot) *cache.CachedGame {
	now := time.Now()
	previous := s.gameCache.Get(gameID)

	cached := &cache.CachedGame{
		GameID:  gameID,
		GamePDA: pda,
	}
	if previous != nil {
		cached.BetAmount = previous.BetAmount
		cached.CreatedAt = previous.CreatedAt
		cached.ExpiresAt = previous.ExpiresAt
		cached.Signature = previous.Signature
		cached.Phase = previous.Phase
	}

	if snapshot == nil {
		// A just-created game has no account until its transaction lands;
		// absence only means settled once the account was expected to exist.
		if previous != nil && previous.Phase == game.PhaseCreating && previous.Account == nil {
			cached.Validation = game.ValidationResult{
				IsValid:   true,
				Status:    game.ValidationActive,
				Details:   "creation submitted; account not yet visible on ledger",
				Timestamp: now,
			}
			return cached
		}
		cached.Phase = game.PhaseResolved
		cached.Validation = game.ValidationResult{
			IsValid:   true,
			Status:    game.ValidationCompleted,
			Details:   "account not found on ledger; game settled and closed",
			Timestamp: now,
		}
		return cached
	}

	acct, err := game.DecodeGameAccount(snapshot.Data)
	if err != nil {
		s.logger.Warn().Str("game_id", gameID).Err(err).Msg("failed to decode game account")
		cached.Validation = game.ValidationResult{
			Status:    game.ValidationInvalid,
			Details:   "undecodable account data: " + err.Error(),
			Timestamp: now,
		}
		return cached
	}

	cached.Account = acct
	cached.BetAmount = acct.BetAmount
	cached.CreatedAt = time.Unix(acct.CreatedAt, 0)
	cached.ExpiresAt = time.Unix(acct.Deadline(), 0)
	cached.Validation = game.Validate(acct, now)

	phase := acct.Phase()
	if cached.Validation.Status == game.ValidationExpired && phase.IsActive() {
		phase = game.PhaseTimedOut
	}
	cached.Phase = phase

	return cached
}
