package core

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
)

// MachineRegistry holds one state machine per known game. It implements the
// recovery service's phase-override hook, the only path allowed to move a
// machine without a validated transition.
type MachineRegistry struct {
	mu       sync.Mutex
	machines map[string]*game.StateMachine
	logger   zerolog.Logger
}

// NewMachineRegistry creates an empty registry.
func NewMachineRegistry(logger zerolog.Logger) *MachineRegistry {
	return &MachineRegistry{
		machines: make(map[string]*game.StateMachine),
		logger:   logger,
	}
}

// MachineFor returns the state machine for a game, creating it at PhaseIdle
// on first use.
func (r *MachineRegistry) MachineFor(gameID string) *game.StateMachine {
	r.mu.Lock()
	defer r.mu.Unlock()

	machine, ok := r.machines[gameID]
	if !ok {
		machine = game.NewStateMachine(gameID, r.logger)
		r.machines[gameID] = machine
	}
	return machine
}

// PhaseOf reports a game's current local phase, PhaseIdle when unknown.
func (r *MachineRegistry) PhaseOf(gameID string) game.Phase {
	r.mu.Lock()
	machine, ok := r.machines[gameID]
	r.mu.Unlock()

	if !ok {
		return game.PhaseIdle
	}
	return machine.Phase()
}

// ForcePhase adopts ledger truth for a game, bypassing transition guards.
// Called by the recovery service only.
func (r *MachineRegistry) ForcePhase(gameID string, phase game.Phase) {
	r.MachineFor(gameID).ForceSet(phase)
}

// Remove drops a game's machine, as when a terminal game is swept.
func (r *MachineRegistry) Remove(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, gameID)
}
