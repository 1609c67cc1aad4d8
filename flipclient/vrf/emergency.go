package vrf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/db"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/store"
)

// EmergencyGameEntry describes one game whose VRF resolution has been
// outstanding past the grace period.
type EmergencyGameEntry struct {
	GameID        string        `json:"game_id"`
	RoomID        string        `json:"room_id"`
	VRFAccount    string        `json:"vrf_account"`
	StartedAt     time.Time     `json:"started_at"`
	TimeRemaining time.Duration `json:"time_remaining"` // until the hard deadline
}

// RetryRequester issues a fresh VRF request for a game against the given
// oracle account. Supplied by the composition root, which owns transaction
// construction.
type RetryRequester func(ctx context.Context, gameID, vrfAccount string) error

// DeadlineHandler is invoked once when a game's hard deadline elapses with
// no resolution. The game is then eligible for a timeout-settlement
// transaction; it stays tracked until explicitly resolved or abandoned.
type DeadlineHandler func(gameID string)

type emergencyEntry struct {
	gameID          string
	roomID          string
	vrfAccount      string
	startedAt       time.Time
	deadline        time.Time
	deadlineEscaped bool // deadline handler already fired
}

// EmergencyFallback tracks games whose VRF request exceeded the grace
// period and guarantees they terminate: manual retry, and past the hard
// deadline, eligibility for timeout settlement. A tracked game is removed
// exactly once, on resolution or abandonment, never silently.
type EmergencyFallback struct {
	mu       sync.Mutex
	entries  map[string]*emergencyEntry
	manager  *AccountManager
	database *db.DB // optional journal; nil disables persistence
	logger   zerolog.Logger

	grace        time.Duration
	hardDeadline time.Duration

	retryRequester  RetryRequester
	deadlineHandler DeadlineHandler

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// FallbackConfig tunes the emergency tracker.
type FallbackConfig struct {
	GracePeriod  time.Duration // outstanding time before emergency tracking begins
	HardDeadline time.Duration // total outstanding time before timeout settlement
}

// NewEmergencyFallback creates the tracker. database may be nil.
func NewEmergencyFallback(
	manager *AccountManager,
	database *db.DB,
	cfg FallbackConfig,
	logger zerolog.Logger,
) *EmergencyFallback {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 15 * time.Second
	}
	if cfg.HardDeadline <= cfg.GracePeriod {
		cfg.HardDeadline = cfg.GracePeriod + 4*time.Minute
	}
	return &EmergencyFallback{
		entries:      make(map[string]*emergencyEntry),
		manager:      manager,
		database:     database,
		logger:       logger.With().Str("component", "vrf_emergency_fallback").Logger(),
		grace:        cfg.GracePeriod,
		hardDeadline: cfg.HardDeadline,
		stopCh:       make(chan struct{}),
	}
}

// SetRetryRequester wires in the transaction path for manual retries.
func (f *EmergencyFallback) SetRetryRequester(fn RetryRequester) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryRequester = fn
}

// SetDeadlineHandler wires in the hard-deadline escalation.
func (f *EmergencyFallback) SetDeadlineHandler(fn DeadlineHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlineHandler = fn
}

// LoadPersisted rehydrates the emergency set from the journal. The newest
// row per game wins, so games later journaled as resolved or abandoned stay
// out. Grace is not re-applied: a journaled game already exceeded it before
// the restart.
func (f *EmergencyFallback) LoadPersisted() error {
	if f.database == nil {
		return nil
	}

	var records []store.VRFRequestRecord
	if err := f.database.Client().Order("id asc").Find(&records).Error; err != nil {
		return errors.NewPersistenceError("", "failed to load VRF request journal", err)
	}

	latest := make(map[string]store.VRFRequestRecord, len(records))
	for _, record := range records {
		latest[record.GameID] = record
	}

	f.mu.Lock()
	restored := 0
	for gameID, record := range latest {
		if record.Status != "outstanding" {
			continue
		}
		if _, ok := f.entries[gameID]; ok {
			continue
		}
		since := time.Unix(record.StartedAt, 0)
		f.entries[gameID] = &emergencyEntry{
			gameID:     gameID,
			roomID:     record.RoomID,
			vrfAccount: record.VRFAccount,
			startedAt:  since,
			deadline:   since.Add(f.hardDeadline),
		}
		restored++
	}
	f.mu.Unlock()

	if restored > 0 {
		f.logger.Info().Int("restored", restored).Msg("rehydrated VRF emergency tracking from journal")
	}
	return nil
}

// ObserveOutstanding reports that a game's VRF request has been outstanding
// since the given time. Once the grace period is exceeded the game enters
// the emergency set. Idempotent per game.
func (f *EmergencyFallback) ObserveOutstanding(gameID, roomID, vrfAccount string, since time.Time) {
	now := time.Now()
	if now.Sub(since) < f.grace {
		return
	}

	f.mu.Lock()
	if _, ok := f.entries[gameID]; ok {
		f.mu.Unlock()
		return
	}
	entry := &emergencyEntry{
		gameID:     gameID,
		roomID:     roomID,
		vrfAccount: vrfAccount,
		startedAt:  since,
		deadline:   since.Add(f.hardDeadline),
	}
	f.entries[gameID] = entry
	f.mu.Unlock()

	f.logger.Warn().
		Str("game_id", gameID).
		Str("oracle", vrfAccount).
		Time("deadline", entry.deadline).
		Msg("game entered VRF emergency tracking")

	f.journal(gameID, roomID, vrfAccount, since, "outstanding")
}

// GetActiveEmergencyGames lists tracked games, ordered by remaining time.
func (f *EmergencyFallback) GetActiveEmergencyGames() []EmergencyGameEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	out := make([]EmergencyGameEntry, 0, len(f.entries))
	for _, entry := range f.entries {
		remaining := entry.deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, EmergencyGameEntry{
			GameID:        entry.gameID,
			RoomID:        entry.roomID,
			VRFAccount:    entry.vrfAccount,
			StartedAt:     entry.startedAt,
			TimeRemaining: remaining,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeRemaining != out[j].TimeRemaining {
			return out[i].TimeRemaining < out[j].TimeRemaining
		}
		return out[i].GameID < out[j].GameID
	})
	return out
}

// IsGameInEmergencyState reports whether a game is being tracked.
func (f *EmergencyFallback) IsGameInEmergencyState(gameID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[gameID]
	return ok
}

// ManualRetryVRF issues a fresh VRF request for a tracked game against the
// best currently available oracle account.
func (f *EmergencyFallback) ManualRetryVRF(ctx context.Context, gameID string) error {
	f.mu.Lock()
	entry, ok := f.entries[gameID]
	requester := f.retryRequester
	f.mu.Unlock()

	if !ok {
		return errors.NewValidationError(gameID, "game is not in emergency state")
	}
	if requester == nil {
		return errors.NewInternalError(gameID, "no VRF retry requester wired", nil)
	}

	account, err := f.manager.SelectBestAccount()
	if err != nil {
		return err
	}

	start := time.Now()
	err = requester(ctx, gameID, account)
	f.manager.RecordOutcome(account, err == nil, time.Since(start), -1)
	if err != nil {
		classification := ClassifyError(err, account)
		f.logger.Warn().
			Str("game_id", gameID).
			Str("oracle", account).
			Str("type", string(classification.Type)).
			Msg("manual VRF retry failed")
		return errors.NewVRFError(gameID, "manual VRF retry failed: "+classification.SuggestedAction, err)
	}

	f.mu.Lock()
	entry.vrfAccount = account
	f.mu.Unlock()

	f.logger.Info().
		Str("game_id", gameID).
		Str("oracle", account).
		Msg("manual VRF retry issued")
	return nil
}

// MarkResolved removes a game from tracking because it resolved (normally
// or via the fallback settlement).
func (f *EmergencyFallback) MarkResolved(gameID string) {
	f.remove(gameID, "resolved")
}

// MarkAbandoned removes a game from tracking after a local abandon. Ledger
// state is unchanged; funds may remain locked until timeout settlement.
func (f *EmergencyFallback) MarkAbandoned(gameID string) {
	f.remove(gameID, "abandoned")
}

func (f *EmergencyFallback) remove(gameID, status string) {
	f.mu.Lock()
	entry, ok := f.entries[gameID]
	if ok {
		delete(f.entries, gameID)
	}
	f.mu.Unlock()

	if !ok {
		return
	}

	f.logger.Info().
		Str("game_id", gameID).
		Str("status", status).
		Msg("game left VRF emergency tracking")
	f.journal(gameID, entry.roomID, entry.vrfAccount, entry.startedAt, status)
}

// Start launches the deadline watch loop.
func (f *EmergencyFallback) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-ticker.C:
				f.checkDeadlines()
			}
		}
	}()
}

// Stop terminates the watch loop.
func (f *EmergencyFallback) Stop() {
	f.once.Do(func() { close(f.stopCh) })
	f.wg.Wait()
}

// checkDeadlines fires the deadline handler once per game whose hard
// deadline has elapsed. The entry is NOT removed: it stays visible until
// the timeout settlement resolves or the user abandons, so no game ever
// disappears from tracking without a terminal phase.
func (f *EmergencyFallback) checkDeadlines() {
	now := time.Now()

	f.mu.Lock()
	var elapsed []string
	handler := f.deadlineHandler
	for id, entry := range f.entries {
		if !entry.deadlineEscaped && now.After(entry.deadline) {
			entry.deadlineEscaped = true
			elapsed = append(elapsed, id)
		}
	}
	f.mu.Unlock()

	for _, id := range elapsed {
		f.logger.Warn().
			Str("game_id", id).
			Msg("VRF hard deadline elapsed; game eligible for timeout settlement")
		if handler != nil {
			handler(id)
		}
	}
}

func (f *EmergencyFallback) journal(gameID, roomID, vrfAccount string, since time.Time, status string) {
	if f.database == nil {
		return
	}

	record := &store.VRFRequestRecord{
		GameID:     gameID,
		RoomID:     roomID,
		VRFAccount: vrfAccount,
		StartedAt:  since.Unix(),
		Status:     status,
	}
	if err := f.database.Client().Create(record).Error; err != nil {
		f.logger.Warn().Str("game_id", gameID).Err(err).Msg("failed to journal VRF request")
	}
}
