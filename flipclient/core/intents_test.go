package core

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flperrors "github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
)

func TestCreateGame(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	result, err := h.client.CreateGame(ctx, 1, 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, "1", result.GameID)
	assert.Equal(t, game.PhaseCreating, result.Phase)
	assert.False(t, result.Signature.IsZero())

	require.Len(t, h.mem.SubmittedTransactions(), 1)

	cached := h.client.Cache().Get("1")
	require.NotNil(t, cached)
	assert.Equal(t, uint64(100_000_000), cached.BetAmount)
	assert.NotEmpty(t, cached.Signature)

	// Creating the same game twice is rejected by the state machine
	_, err = h.client.CreateGame(ctx, 1, 100_000_000)
	assert.Error(t, err)
}

func TestJoinGame_Validations(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := solana.NewWallet().PublicKey()

	// Nonexistent game
	_, err := h.client.JoinGame(ctx, playerA, 2)
	require.Error(t, err)
	assert.True(t, flperrors.IsGameError(err, flperrors.ErrCodeValidation))

	// Cannot join own game
	own := &game.GameAccount{
		GameID:    3,
		PlayerA:   h.signer.PublicKey(),
		BetAmount: 1_000_000,
		Status:    game.StatusWaitingForPlayer,
		CreatedAt: time.Now().Unix(),
	}
	h.installAccount(t, own)
	_, err = h.client.JoinGame(ctx, h.signer.PublicKey(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "own game")

	// Game already full
	full := &game.GameAccount{
		GameID:    4,
		PlayerA:   playerA,
		PlayerB:   solana.NewWallet().PublicKey(),
		BetAmount: 1_000_000,
		Status:    game.StatusPlayersReady,
		CreatedAt: time.Now().Unix(),
	}
	h.installAccount(t, full)
	_, err = h.client.JoinGame(ctx, playerA, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer open")
}

func TestJoinGame(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := solana.NewWallet().PublicKey()
	open := &game.GameAccount{
		GameID:    5,
		PlayerA:   playerA,
		BetAmount: 50_000_000,
		Status:    game.StatusWaitingForPlayer,
		CreatedAt: time.Now().Unix(),
	}
	h.installAccount(t, open)

	result, err := h.client.JoinGame(ctx, playerA, 5)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseWaiting, result.Phase)
	require.Len(t, h.mem.SubmittedTransactions(), 1)

	cached := h.client.Cache().Get("5")
	require.NotNil(t, cached)
	assert.Equal(t, uint64(50_000_000), cached.BetAmount)
}

// Full happy path: create, opponent joins, both commit, both reveal,
// ledger resolves. The local phase must reach resolved with a settlement
// signature present.
func TestGameLifecycle_HappyPath(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	playerB := solana.NewWallet().PublicKey()
	const gameID = 10
	const bet = 100_000_000 // 0.1 SOL

	choice := game.Heads
	secret := uint64(987654321)
	commitmentA := game.GenerateCommitment(choice, secret)
	commitmentB := game.GenerateCommitment(game.Tails, 123456789)

	_, err := h.client.CreateGame(ctx, gameID, bet)
	require.NoError(t, err)

	// Ledger confirms the open game, then the opponent joins
	acct := &game.GameAccount{
		GameID:    gameID,
		PlayerA:   playerA,
		BetAmount: bet,
		Status:    game.StatusWaitingForPlayer,
		CreatedAt: time.Now().Unix(),
	}
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "10"))
	assert.Equal(t, game.PhaseWaiting, h.client.PhaseOf("10"))

	acct.PlayerB = playerB
	acct.Status = game.StatusPlayersReady
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "10"))
	assert.Equal(t, game.PhaseSelecting, h.client.PhaseOf("10"))

	// Commit within the selection window
	_, err = h.client.CommitChoice(ctx, "10", choice, secret)
	require.NoError(t, err)

	// Ledger reports both commitments
	acct.CommitmentA = commitmentA
	acct.CommitmentB = commitmentB
	acct.CommitmentsComplete = true
	acct.Status = game.StatusCommitmentsReady
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "10"))
	assert.Equal(t, game.PhaseRevealing, h.client.PhaseOf("10"))

	// Reveal; the program auto-resolves after the second reveal
	revealResult, err := h.client.RevealChoice(ctx, "10", choice, secret)
	require.NoError(t, err)
	require.False(t, revealResult.Signature.IsZero())

	winner := playerA
	resolvedAt := time.Now().Unix()
	acct.Status = game.StatusResolved
	acct.Winner = &winner
	acct.ResolvedAt = &resolvedAt
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "10"))

	cached := h.client.Cache().Get("10")
	require.NotNil(t, cached)
	assert.Equal(t, game.PhaseResolved, cached.Phase)
	assert.NotEmpty(t, cached.Signature, "settlement signature must be present")
	assert.Equal(t, game.PhaseResolved, h.client.PhaseOf("10"))
}

func TestRevealChoice_RejectsMismatchedSecret(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	acct := &game.GameAccount{
		GameID:              11,
		PlayerA:             playerA,
		PlayerB:             solana.NewWallet().PublicKey(),
		BetAmount:           1_000_000,
		CommitmentA:         game.GenerateCommitment(game.Heads, 42424242),
		CommitmentsComplete: true,
		Status:              game.StatusCommitmentsReady,
		CreatedAt:           time.Now().Unix(),
	}
	pda := h.installAccount(t, acct)
	h.client.syncSvc.Track("11", pda)
	require.NoError(t, h.client.ForceRefresh(ctx, "11"))

	_, err := h.client.RevealChoice(ctx, "11", game.Heads, 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match")
}

// Selection window elapses with no second commitment: the phase goes to
// timedOut, and the timeout-handling action yields a refund signature.
func TestGameLifecycle_SelectionTimeout(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	acct := &game.GameAccount{
		GameID:    12,
		PlayerA:   playerA,
		PlayerB:   solana.NewWallet().PublicKey(),
		BetAmount: 1_000_000,
		Status:    game.StatusPlayersReady,
		// Selection deadline long past
		CreatedAt: time.Now().Unix() - 2*game.RoomTimeoutSeconds,
	}
	pda := h.installAccount(t, acct)
	h.client.syncSvc.Track("12", pda)
	require.NoError(t, h.client.ForceRefresh(ctx, "12"))

	assert.Equal(t, game.PhaseTimedOut, h.client.PhaseOf("12"))
	cached := h.client.Cache().Get("12")
	require.NotNil(t, cached)
	assert.Equal(t, game.PhaseTimedOut, cached.Phase)

	result, err := h.client.HandleTimeout(ctx, "12")
	require.NoError(t, err)
	assert.False(t, result.Signature.IsZero(), "refund signature must be present")

	// Refund confirmed on ledger as cancelled; the game reaches resolved
	acct.Status = game.StatusCancelled
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "12"))
	assert.Equal(t, game.PhaseResolved, h.client.Cache().Get("12").Phase)
}

func TestForceAbandon(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.client.CreateGame(ctx, 13, 1_000_000)
	require.NoError(t, err)

	result, err := h.client.ForceAbandon("13")
	require.NoError(t, err)
	assert.True(t, result.FundsMayRemainLocked)
	assert.Equal(t, game.PhaseAbandoned, h.client.PhaseOf("13"))
	assert.Equal(t, game.PhaseAbandoned, h.client.Cache().Get("13").Phase)

	// Abandon is locally terminal
	_, err = h.client.ForceAbandon("13")
	assert.Error(t, err)

	// Unknown games are rejected
	_, err = h.client.ForceAbandon("nope")
	assert.Error(t, err)
}

// A game stuck awaiting randomness: manual retry must go through the
// engine's signing path and land a resolution transaction on the ledger.
func TestRetryVRF_SubmitsManualResolution(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	acct := &game.GameAccount{
		GameID:              20,
		PlayerA:             playerA,
		PlayerB:             solana.NewWallet().PublicKey(),
		BetAmount:           1_000_000,
		CommitmentsComplete: true,
		Status:              game.StatusRevealingPhase,
		CreatedAt:           time.Now().Unix(),
	}
	pda := h.installAccount(t, acct)
	h.client.syncSvc.Track("20", pda)
	require.NoError(t, h.client.ForceRefresh(ctx, "20"))

	// Randomness outstanding long past the grace period
	h.client.fallback.ObserveOutstanding("20", pda.String(), "", time.Now().Add(-10*time.Second))
	require.True(t, h.client.fallback.IsGameInEmergencyState("20"))

	require.NoError(t, h.client.RetryVRF(ctx, "20"))

	require.Len(t, h.mem.SubmittedTransactions(), 1)
	cached := h.client.Cache().Get("20")
	require.NotNil(t, cached)
	assert.NotEmpty(t, cached.Signature)

	games := h.client.EmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, h.oracle.String(), games[0].VRFAccount)
}

// A resolving game that crosses the selection deadline flips to timedOut on
// refresh. It is still outstanding: emergency tracking must hold it, with
// room and oracle populated, until the ledger reports resolution.
func TestEmergencyTracking_SurvivesTimedOutPhase(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	acct := &game.GameAccount{
		GameID:              21,
		PlayerA:             playerA,
		PlayerB:             solana.NewWallet().PublicKey(),
		BetAmount:           1_000_000,
		CommitmentsComplete: true,
		Status:              game.StatusRevealingPhase,
		CreatedAt:           time.Now().Unix(),
	}
	pda := h.installAccount(t, acct)
	h.client.syncSvc.Track("21", pda)

	// First observed resolving long ago, so the next refresh enrolls it
	h.client.mu.Lock()
	h.client.resolvingSince["21"] = time.Now().Add(-10 * time.Second)
	h.client.mu.Unlock()
	require.NoError(t, h.client.ForceRefresh(ctx, "21"))

	games := h.client.EmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, "21", games[0].GameID)
	assert.Equal(t, pda.String(), games[0].RoomID)
	assert.Equal(t, h.oracle.String(), games[0].VRFAccount)

	// Deadline passes with no resolution: the phase flips to timedOut but
	// the game must not leave tracking
	acct.CreatedAt = time.Now().Unix() - 2*game.SelectionTimeoutSeconds
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "21"))
	assert.Equal(t, game.PhaseTimedOut, h.client.Cache().Get("21").Phase)
	assert.True(t, h.client.fallback.IsGameInEmergencyState("21"))

	// Resolution lands; tracking releases the game
	winner := playerA
	resolvedAt := time.Now().Unix()
	acct.Status = game.StatusResolved
	acct.Winner = &winner
	acct.ResolvedAt = &resolvedAt
	h.installAccount(t, acct)
	require.NoError(t, h.client.ForceRefresh(ctx, "21"))
	assert.False(t, h.client.fallback.IsGameInEmergencyState("21"))
}

func TestCommitChoice_RequiresSecondPlayer(t *testing.T) {
	h := newTestHarness(t)
	h.start(t)
	ctx := context.Background()

	playerA := h.signer.PublicKey()
	acct := &game.GameAccount{
		GameID:    14,
		PlayerA:   playerA,
		BetAmount: 1_000_000,
		Status:    game.StatusWaitingForPlayer,
		CreatedAt: time.Now().Unix(),
	}
	pda := h.installAccount(t, acct)
	h.client.syncSvc.Track("14", pda)
	require.NoError(t, h.client.ForceRefresh(ctx, "14"))

	_, err := h.client.CommitChoice(ctx, "14", game.Heads, 42424242)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second player")
}
