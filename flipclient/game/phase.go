// Package game models the client-side lifecycle of one coin-flip game: the
// local phase state machine, the decoded on-chain game account, validation,
// and the commit/reveal helpers. The ledger is always authoritative; the
// phase here is the client's best local view of it.
package game

// Phase is the local lifecycle phase of a game.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCreating
	PhaseWaiting
	PhaseSelecting // commitment phase
	PhaseRevealing
	PhaseResolving
	PhaseResolved
	PhaseTimedOut
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCreating:
		return "creating"
	case PhaseWaiting:
		return "waiting"
	case PhaseSelecting:
		return "selecting"
	case PhaseRevealing:
		return "revealing"
	case PhaseResolving:
		return "resolving"
	case PhaseResolved:
		return "resolved"
	case PhaseTimedOut:
		return "timedOut"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// PhaseFromString parses a phase name, returning PhaseIdle for unknown input.
func PhaseFromString(s string) Phase {
	for p := PhaseIdle; p <= PhaseAbandoned; p++ {
		if p.String() == s {
			return p
		}
	}
	return PhaseIdle
}

// IsTerminal reports whether the phase is locally terminal. timedOut is not
// terminal: it can still reach resolved once a timeout-claim transaction
// confirms. abandoned is locally terminal only; ledger state is unchanged
// and funds may remain locked on-chain.
func (p Phase) IsTerminal() bool {
	return p == PhaseResolved || p == PhaseAbandoned
}

// IsActive reports whether the game is still in play and subject to
// ledger-derived deadlines.
func (p Phase) IsActive() bool {
	switch p {
	case PhaseCreating, PhaseWaiting, PhaseSelecting, PhaseRevealing, PhaseResolving:
		return true
	default:
		return false
	}
}

// phaseTransitions is the allowed transition table. Guards on top of this
// table (second player present, both commitments observed, settlement
// signature confirmed) live in the StateMachine.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseCreating, PhaseWaiting},
	PhaseCreating:  {PhaseWaiting, PhaseTimedOut, PhaseAbandoned},
	PhaseWaiting:   {PhaseSelecting, PhaseTimedOut, PhaseAbandoned},
	PhaseSelecting: {PhaseRevealing, PhaseTimedOut, PhaseAbandoned},
	PhaseRevealing: {PhaseResolving, PhaseResolved, PhaseTimedOut, PhaseAbandoned},
	PhaseResolving: {PhaseResolved, PhaseTimedOut, PhaseAbandoned},
	PhaseTimedOut:  {PhaseResolved, PhaseAbandoned},
	PhaseResolved:  {},
	PhaseAbandoned: {},
}

// CanTransitionTo reports whether the transition table allows p -> next.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
