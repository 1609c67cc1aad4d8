package game

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitionTable(t *testing.T) {
	assert.True(t, PhaseIdle.CanTransitionTo(PhaseCreating))
	assert.True(t, PhaseWaiting.CanTransitionTo(PhaseSelecting))
	assert.True(t, PhaseTimedOut.CanTransitionTo(PhaseResolved))
	assert.False(t, PhaseResolved.CanTransitionTo(PhaseWaiting))
	assert.False(t, PhaseAbandoned.CanTransitionTo(PhaseResolved))
	assert.False(t, PhaseWaiting.CanTransitionTo(PhaseRevealing))
}

func TestPhaseTerminality(t *testing.T) {
	assert.True(t, PhaseResolved.IsTerminal())
	assert.True(t, PhaseAbandoned.IsTerminal())
	assert.False(t, PhaseTimedOut.IsTerminal())
	assert.True(t, PhaseSelecting.IsActive())
	assert.False(t, PhaseResolved.IsActive())
}

func TestPhaseStringRoundTrip(t *testing.T) {
	for p := PhaseIdle; p <= PhaseAbandoned; p++ {
		assert.Equal(t, p, PhaseFromString(p.String()))
	}
	assert.Equal(t, PhaseIdle, PhaseFromString("bogus"))
}

func TestStateMachine_GuardedTransitions(t *testing.T) {
	sm := NewStateMachine("game-1", zerolog.Nop())
	require.NoError(t, sm.Transition(PhaseCreating, TransitionEvidence{}))
	require.NoError(t, sm.Transition(PhaseWaiting, TransitionEvidence{}))

	// waiting -> selecting requires a second player reported by the ledger
	err := sm.Transition(PhaseSelecting, TransitionEvidence{
		Account: &GameAccount{Status: StatusWaitingForPlayer},
	})
	assert.Error(t, err)
	assert.Equal(t, PhaseWaiting, sm.Phase())

	withPlayerB := &GameAccount{
		PlayerB:   solana.NewWallet().PublicKey(),
		Status:    StatusPlayersReady,
		CreatedAt: time.Now().Unix(),
	}
	require.NoError(t, sm.Transition(PhaseSelecting, TransitionEvidence{Account: withPlayerB}))

	// selecting -> revealing requires both commitments observed
	err = sm.Transition(PhaseRevealing, TransitionEvidence{Account: withPlayerB})
	assert.Error(t, err)

	withCommitments := *withPlayerB
	withCommitments.CommitmentsComplete = true
	require.NoError(t, sm.Transition(PhaseRevealing, TransitionEvidence{Account: &withCommitments}))

	// -> resolved requires a confirmed settlement signature
	err = sm.Transition(PhaseResolved, TransitionEvidence{Account: &withCommitments})
	assert.Error(t, err)

	require.NoError(t, sm.Transition(PhaseResolved, TransitionEvidence{
		SettlementSignature: "5KtP3EjLr...sig",
	}))
	assert.Equal(t, PhaseResolved, sm.Phase())
}

func TestStateMachine_TimeoutPath(t *testing.T) {
	sm := NewStateMachine("game-2", zerolog.Nop())
	require.NoError(t, sm.Transition(PhaseCreating, TransitionEvidence{}))
	require.NoError(t, sm.Transition(PhaseWaiting, TransitionEvidence{}))

	created := time.Now().Add(-10 * time.Minute).Unix()
	expired := &GameAccount{Status: StatusWaitingForPlayer, CreatedAt: created}

	// Before the deadline the timeout edge is rejected
	fresh := &GameAccount{Status: StatusWaitingForPlayer, CreatedAt: time.Now().Unix()}
	assert.Error(t, sm.Transition(PhaseTimedOut, TransitionEvidence{Account: fresh, Now: time.Now()}))

	require.NoError(t, sm.Transition(PhaseTimedOut, TransitionEvidence{Account: expired, Now: time.Now()}))
	assert.Equal(t, PhaseTimedOut, sm.Phase())

	// timedOut -> resolved once the timeout-claim transaction confirms
	require.NoError(t, sm.Transition(PhaseResolved, TransitionEvidence{
		SettlementSignature: "refundSig",
	}))
}

func TestStateMachine_AbandonIsLocalOnly(t *testing.T) {
	sm := NewStateMachine("game-3", zerolog.Nop())
	require.NoError(t, sm.Transition(PhaseCreating, TransitionEvidence{}))

	// Abandon needs no ledger evidence
	require.NoError(t, sm.Transition(PhaseAbandoned, TransitionEvidence{}))
	assert.True(t, sm.Phase().IsTerminal())

	// Terminal: nothing transitions out
	assert.Error(t, sm.Transition(PhaseResolved, TransitionEvidence{SettlementSignature: "sig"}))
}

func TestStateMachine_ForceSet(t *testing.T) {
	sm := NewStateMachine("game-4", zerolog.Nop())
	sm.ForceSet(PhaseResolved)
	assert.Equal(t, PhaseResolved, sm.Phase())
}

func TestGenerateCommitment_Deterministic(t *testing.T) {
	c1 := GenerateCommitment(Heads, 42)
	c2 := GenerateCommitment(Heads, 42)
	assert.Equal(t, c1, c2)

	assert.NotEqual(t, c1, GenerateCommitment(Tails, 42))
	assert.NotEqual(t, c1, GenerateCommitment(Heads, 43))

	assert.True(t, VerifyCommitment(c1, Heads, 42))
	assert.False(t, VerifyCommitment(c1, Tails, 42))
}

func TestValidate(t *testing.T) {
	now := time.Unix(1700000100, 0)

	tests := []struct {
		name       string
		acct       *GameAccount
		wantStatus ValidationStatus
		wantValid  bool
	}{
		{
			name:       "nil account is invalid",
			acct:       nil,
			wantStatus: ValidationInvalid,
		},
		{
			name: "resolved game is completed",
			acct: &GameAccount{Status: StatusResolved},

			wantStatus: ValidationCompleted,
			wantValid:  true,
		},
		{
			name:       "cancelled game is completed",
			acct:       &GameAccount{Status: StatusCancelled},
			wantStatus: ValidationCompleted,
			wantValid:  true,
		},
		{
			name:       "zero bet is invalid",
			acct:       &GameAccount{Status: StatusPlayersReady, CreatedAt: now.Unix()},
			wantStatus: ValidationInvalid,
		},
		{
			name: "past selection deadline is expired",
			acct: &GameAccount{
				Status:    StatusPlayersReady,
				BetAmount: 1,
				CreatedAt: now.Unix() - SelectionTimeoutSeconds - 1,
			},
			wantStatus: ValidationExpired,
			wantValid:  true,
		},
		{
			name: "waiting game inside room window is active",
			acct: &GameAccount{
				Status:    StatusWaitingForPlayer,
				BetAmount: 1,
				CreatedAt: now.Unix() - 60,
			},
			wantStatus: ValidationActive,
			wantValid:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.acct, now)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantValid, res.IsValid)
			assert.Equal(t, now, res.Timestamp)
		})
	}
}
