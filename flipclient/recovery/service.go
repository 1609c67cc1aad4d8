// Package recovery reconciles a single game's cached state against ledger
// truth. It is invoked after an error, a suspected desync, or an explicit
// user refresh, and is the only component allowed to override a game's
// phase without a normal transition: the ledger always wins.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/cache"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
	"github.com/allouf/flipCoinFull-sub000/flipclient/ledger"
)

// PhaseOverrider receives ledger-truth phase overrides for repaired games.
// The composition root wires the per-game state machines in through this.
type PhaseOverrider interface {
	ForcePhase(gameID string, phase game.Phase)
}

// Result reports the outcome of one recovery attempt.
type Result struct {
	Success bool              `json:"success"`
	GameID  string            `json:"game_id"`
	Details string            `json:"details"`
	Game    *cache.CachedGame `json:"game,omitempty"`
}

// Service reconciles cached game state with the ledger.
type Service struct {
	gameCache *cache.GameCache
	reader    ledger.Reader
	breaker   *CircuitBreaker
	overrider PhaseOverrider
	timeout   time.Duration
	logger    zerolog.Logger
}

// Config tunes the recovery service.
type Config struct {
	Timeout          time.Duration // hard per-operation timeout
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// New creates a recovery service.
func New(gameCache *cache.GameCache, reader ledger.Reader, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Service{
		gameCache: gameCache,
		reader:    reader,
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		timeout:   cfg.Timeout,
		logger:    logger.With().Str("component", "recovery_service").Logger(),
	}
}

// SetPhaseOverrider wires in the state machine registry. Optional; without
// it recovery still repairs the cache.
func (s *Service) SetPhaseOverrider(overrider PhaseOverrider) {
	s.overrider = overrider
}

// Breaker exposes the circuit breaker for diagnostics.
func (s *Service) Breaker() *CircuitBreaker {
	return s.breaker
}

// AttemptRecovery is the user-initiated path. It bypasses the circuit
// breaker but still records outcomes on it.
func (s *Service) AttemptRecovery(ctx context.Context, gameID string, player solana.PublicKey) *Result {
	return s.recover(ctx, gameID, player, true)
}

// AttemptAutoRecovery is the automatic path, refused while the breaker is
// open.
func (s *Service) AttemptAutoRecovery(ctx context.Context, gameID string, player solana.PublicKey) *Result {
	return s.recover(ctx, gameID, player, false)
}

func (s *Service) recover(ctx context.Context, gameID string, player solana.PublicKey, manual bool) *Result {
	if !manual {
		if err := s.breaker.Allow(); err != nil {
			return &Result{GameID: gameID, Details: err.Error()}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	previous := s.gameCache.Get(gameID)
	if previous == nil {
		return &Result{GameID: gameID, Details: "game not known to this client"}
	}

	// Force the stale entry out of trust before re-reading
	s.gameCache.Invalidate(gameID)

	var snapshot *ledger.AccountSnapshot
	err := errors.RetryWithConfig(ctx, func() error {
		var fetchErr error
		snapshot, fetchErr = s.reader.GetAccount(ctx, previous.GamePDA)
		if fetchErr != nil {
			return errors.NewRPCError(gameID, "recovery fetch failed", fetchErr)
		}
		return nil
	}, &errors.RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeRPC, errors.ErrCodeNetwork, errors.ErrCodeTimeout},
	})
	if err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn().Str("game_id", gameID).Err(err).Msg("recovery failed: ledger unreachable")
		return &Result{GameID: gameID, Details: "ledger unreachable after retries: " + err.Error()}
	}
	s.breaker.RecordSuccess()

	if snapshot == nil {
		return s.reconcileClosed(gameID, previous)
	}
	return s.reconcileLive(gameID, player, previous, snapshot)
}

// reconcileClosed handles an account that no longer exists on the ledger: a
// settled-and-closed game, reported as completed with a reconstructed
// result rather than a raw not-found error.
func (s *Service) reconcileClosed(gameID string, previous *cache.CachedGame) *Result {
	now := time.Now()
	repaired := *previous
	repaired.Phase = game.PhaseResolved
	repaired.Account = nil
	repaired.Validation = game.ValidationResult{
		IsValid:   true,
		Status:    game.ValidationCompleted,
		Details:   "account closed on ledger; game settled",
		Timestamp: now,
	}
	s.gameCache.Put(&repaired)
	s.forcePhase(gameID, game.PhaseResolved)

	s.logger.Info().Str("game_id", gameID).Msg("recovered closed game as completed")
	return &Result{
		Success: true,
		GameID:  gameID,
		Details: "game account closed; reconstructed as completed",
		Game:    s.gameCache.Get(gameID),
	}
}

// reconcileLive re-validates the live account and overwrites local state
// wherever it disagrees with the ledger.
func (s *Service) reconcileLive(gameID string, player solana.PublicKey, previous *cache.CachedGame, snapshot *ledger.AccountSnapshot) *Result {
	acct, err := game.DecodeGameAccount(snapshot.Data)
	if err != nil {
		return &Result{GameID: gameID, Details: "undecodable game account: " + err.Error()}
	}

	if !player.IsZero() && acct.PlayerA != player && acct.PlayerB != player {
		return &Result{GameID: gameID, Details: "game does not belong to this player"}
	}

	now := time.Now()
	validation := game.Validate(acct, now)

	ledgerPhase := acct.Phase()
	if validation.Status == game.ValidationExpired && ledgerPhase.IsActive() {
		ledgerPhase = game.PhaseTimedOut
	}

	repaired := *previous
	repaired.Account = acct
	repaired.BetAmount = acct.BetAmount
	repaired.CreatedAt = time.Unix(acct.CreatedAt, 0)
	repaired.ExpiresAt = time.Unix(acct.Deadline(), 0)
	repaired.Validation = validation
	repaired.Phase = ledgerPhase
	s.gameCache.Put(&repaired)

	details := "cache re-validated against ledger"
	if previous.Phase != ledgerPhase {
		details = fmt.Sprintf("desync repaired: local phase %s overwritten by ledger phase %s",
			previous.Phase, ledgerPhase)
		s.logger.Warn().
			Str("game_id", gameID).
			Str("local_phase", previous.Phase.String()).
			Str("ledger_phase", ledgerPhase.String()).
			Msg("ledger disagrees with local phase, ledger wins")
		s.forcePhase(gameID, ledgerPhase)
	}

	return &Result{
		Success: true,
		GameID:  gameID,
		Details: details,
		Game:    s.gameCache.Get(gameID),
	}
}

func (s *Service) forcePhase(gameID string, phase game.Phase) {
	if s.overrider != nil {
		s.overrider.ForcePhase(gameID, phase)
	}
}
