package game

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
)

// TransitionEvidence carries the ledger observations a guarded transition
// needs. Guards never trust local assumptions: a second player, completed
// commitments, or a settlement must have been observed on the ledger.
type TransitionEvidence struct {
	Account             *GameAccount // latest decoded ledger snapshot, nil if unavailable
	SettlementSignature string       // confirmed settlement/refund transaction signature
	Now                 time.Time
}

// StateMachine tracks the local phase of one game and validates every
// transition against the allowed table plus ledger-derived guards. Only the
// recovery path may bypass guards, via ForceSet.
type StateMachine struct {
	mu     sync.RWMutex
	gameID string
	phase  Phase
	logger zerolog.Logger
}

// NewStateMachine creates a state machine starting at PhaseIdle.
func NewStateMachine(gameID string, logger zerolog.Logger) *StateMachine {
	return &StateMachine{
		gameID: gameID,
		phase:  PhaseIdle,
		logger: logger.With().Str("component", "state_machine").Str("game_id", gameID).Logger(),
	}
}

// Phase returns the current phase.
func (sm *StateMachine) Phase() Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.phase
}

// Transition moves the machine to next if the transition table allows it and
// the guard for that edge holds against the supplied evidence.
func (sm *StateMachine) Transition(next Phase, ev TransitionEvidence) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	current := sm.phase
	if !current.CanTransitionTo(next) {
		return errors.NewValidationError(sm.gameID,
			"transition "+current.String()+" -> "+next.String()+" not allowed")
	}

	if err := sm.checkGuard(current, next, ev); err != nil {
		return err
	}

	sm.logger.Debug().
		Str("from", current.String()).
		Str("to", next.String()).
		Msg("phase transition")
	sm.phase = next
	return nil
}

// checkGuard enforces the ledger-evidence guards on individual edges.
// Callers hold sm.mu.
func (sm *StateMachine) checkGuard(current, next Phase, ev TransitionEvidence) error {
	switch next {
	case PhaseSelecting:
		if current == PhaseWaiting {
			if ev.Account == nil || !ev.Account.HasSecondPlayer() {
				return errors.NewValidationError(sm.gameID, "ledger has not reported a second player")
			}
		}
	case PhaseRevealing:
		if ev.Account == nil || !ev.Account.CommitmentsComplete {
			return errors.NewValidationError(sm.gameID, "both commitments not yet observed on ledger")
		}
	case PhaseResolved:
		if ev.SettlementSignature == "" {
			return errors.NewValidationError(sm.gameID, "no ledger-confirmed settlement signature")
		}
	case PhaseTimedOut:
		if ev.Account == nil {
			return errors.NewValidationError(sm.gameID, "no ledger snapshot to derive deadline from")
		}
		now := ev.Now
		if now.IsZero() {
			now = time.Now()
		}
		if now.Unix() <= ev.Account.Deadline() {
			return errors.NewValidationError(sm.gameID, "ledger-derived deadline not yet passed")
		}
	case PhaseAbandoned:
		// Local-only escape hatch: stops polling and prompting for this game
		// without changing ledger truth. Funds may remain locked on-chain;
		// timeout settlement and recovery stay available afterwards.
	}
	return nil
}

// ForceSet overrides the phase without transition validation. Reserved for
// the recovery path, which repairs desyncs by adopting ledger truth.
func (sm *StateMachine) ForceSet(next Phase) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.phase != next {
		sm.logger.Warn().
			Str("from", sm.phase.String()).
			Str("to", next.String()).
			Msg("phase force-set from ledger truth")
		sm.phase = next
	}
}
