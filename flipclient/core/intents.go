package core

import (
	"context"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/allouf/flipCoinFull-sub000/flipclient/cache"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
	"github.com/allouf/flipCoinFull-sub000/flipclient/recovery"
)

// IntentResult reports the outcome of one submitted intent.
type IntentResult struct {
	GameID    string           `json:"game_id"`
	Signature solana.Signature `json:"signature"`
	Phase     game.Phase       `json:"phase"`
}

// AbandonResult reports a local abandon. The ledger is untouched: escrowed
// funds may remain locked until a timeout settlement lands. No background
// sweep ever reclaims them automatically.
type AbandonResult struct {
	GameID               string `json:"game_id"`
	FundsMayRemainLocked bool   `json:"funds_may_remain_locked"`
}

func gameKey(gameID uint64) string {
	return strconv.FormatUint(gameID, 10)
}

// submit assembles, signs and sends a single-instruction transaction.
func (c *FlipClient) submit(ctx context.Context, gameID string, ix solana.Instruction) (solana.Signature, error) {
	blockhash, err := c.reader.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, errors.NewRPCError(gameID, "failed to fetch recent blockhash", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash,
		solana.TransactionPayer(c.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, errors.NewInternalError(gameID, "failed to assemble transaction", err)
	}
	if err := c.signer.Sign(ctx, tx); err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.reader.SubmitTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, errors.NewRPCError(gameID, "transaction submission failed", err)
	}
	return sig, nil
}

// CreateGame opens a new game as player A, escrowing the bet.
func (c *FlipClient) CreateGame(ctx context.Context, gameID, betLamports uint64) (*IntentResult, error) {
	key := gameKey(gameID)
	machine := c.registry.MachineFor(key)

	if err := machine.Transition(game.PhaseCreating, game.TransitionEvidence{Now: time.Now()}); err != nil {
		return nil, err
	}

	playerA := c.signer.PublicKey()
	gamePDA, _, err := game.DeriveGamePDA(c.programID, playerA, gameID)
	if err != nil {
		return nil, errors.NewInternalError(key, "failed to derive game address", err)
	}
	escrowPDA, _, err := game.DeriveEscrowPDA(c.programID, playerA, gameID)
	if err != nil {
		return nil, errors.NewInternalError(key, "failed to derive escrow address", err)
	}

	ix := game.NewCreateGameInstruction(
		c.programID, playerA, gamePDA, escrowPDA, c.houseWallet,
		gameID, betLamports,
	)
	sig, err := c.submit(ctx, key, ix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c.gameCache.Put(&cache.CachedGame{
		GameID:    key,
		GamePDA:   gamePDA,
		Phase:     game.PhaseCreating,
		BetAmount: betLamports,
		CreatedAt: now,
		ExpiresAt: now.Add(game.RoomTimeoutSeconds * time.Second),
		Signature: sig.String(),
	})
	c.syncSvc.Track(key, gamePDA)

	c.log.Info().
		Str("game_id", key).
		Uint64("bet_lamports", betLamports).
		Str("signature", sig.String()).
		Msg("game created")
	return &IntentResult{GameID: key, Signature: sig, Phase: machine.Phase()}, nil
}

// JoinGame joins an open game created by playerA, escrowing the matching
// bet.
func (c *FlipClient) JoinGame(ctx context.Context, playerA solana.PublicKey, gameID uint64) (*IntentResult, error) {
	key := gameKey(gameID)
	machine := c.registry.MachineFor(key)

	gamePDA, _, err := game.DeriveGamePDA(c.programID, playerA, gameID)
	if err != nil {
		return nil, errors.NewInternalError(key, "failed to derive game address", err)
	}
	escrowPDA, _, err := game.DeriveEscrowPDA(c.programID, playerA, gameID)
	if err != nil {
		return nil, errors.NewInternalError(key, "failed to derive escrow address", err)
	}

	// The game must exist on the ledger and still be open.
	snapshot, err := c.reader.GetAccount(ctx, gamePDA)
	if err != nil {
		return nil, errors.NewRPCError(key, "failed to read game account", err)
	}
	if snapshot == nil {
		return nil, errors.NewValidationError(key, "game does not exist on ledger")
	}
	acct, err := game.DecodeGameAccount(snapshot.Data)
	if err != nil {
		return nil, errors.NewValidationError(key, "undecodable game account: "+err.Error())
	}
	if acct.Status != game.StatusWaitingForPlayer {
		return nil, errors.NewValidationError(key, "game is no longer open for joining")
	}
	if acct.PlayerA == c.signer.PublicKey() {
		return nil, errors.NewValidationError(key, "cannot join own game")
	}

	if err := machine.Transition(game.PhaseWaiting, game.TransitionEvidence{Account: acct, Now: time.Now()}); err != nil {
		return nil, err
	}

	ix := game.NewJoinGameInstruction(c.programID, c.signer.PublicKey(), gamePDA, escrowPDA)
	sig, err := c.submit(ctx, key, ix)
	if err != nil {
		return nil, err
	}

	c.gameCache.Put(&cache.CachedGame{
		GameID:    key,
		GamePDA:   gamePDA,
		Phase:     game.PhaseWaiting,
		BetAmount: acct.BetAmount,
		CreatedAt: time.Unix(acct.CreatedAt, 0),
		ExpiresAt: time.Unix(acct.Deadline(), 0),
		Account:   acct,
		Signature: sig.String(),
	})
	c.syncSvc.Track(key, gamePDA)

	c.log.Info().
		Str("game_id", key).
		Str("signature", sig.String()).
		Msg("joined game")
	return &IntentResult{GameID: key, Signature: sig, Phase: machine.Phase()}, nil
}

// CommitChoice submits the hidden commitment for this player's choice. The
// caller keeps the (choice, secret) pair for the later reveal; it never
// leaves this process.
func (c *FlipClient) CommitChoice(ctx context.Context, gameID string, choice game.CoinSide, secret uint64) (*IntentResult, error) {
	if secret <= 1 {
		return nil, errors.NewValidationError(gameID, "secret is too weak")
	}

	cached, machine, err := c.knownGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	// Selection requires a second player observed on the ledger.
	ev := game.TransitionEvidence{Account: cached.Account, Now: time.Now()}
	if machine.Phase() != game.PhaseSelecting {
		if err := machine.Transition(game.PhaseSelecting, ev); err != nil {
			return nil, err
		}
	}

	commitment := game.GenerateCommitment(choice, secret)
	ix := game.NewMakeCommitmentInstruction(c.programID, c.signer.PublicKey(), cached.GamePDA, commitment)
	sig, err := c.submit(ctx, gameID, ix)
	if err != nil {
		return nil, err
	}

	cached.Signature = sig.String()
	c.gameCache.Put(cached)

	c.log.Info().
		Str("game_id", gameID).
		Str("signature", sig.String()).
		Msg("commitment submitted")
	return &IntentResult{GameID: gameID, Signature: sig, Phase: machine.Phase()}, nil
}

// RevealChoice reveals this player's choice and secret once both
// commitments are on the ledger. The program auto-resolves after the second
// reveal.
func (c *FlipClient) RevealChoice(ctx context.Context, gameID string, choice game.CoinSide, secret uint64) (*IntentResult, error) {
	cached, machine, err := c.knownGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	acct := cached.Account
	if acct == nil {
		return nil, errors.NewDesyncError(gameID, "no ledger snapshot for game; refresh first")
	}

	player := c.signer.PublicKey()
	var expected [32]byte
	switch player {
	case acct.PlayerA:
		expected = acct.CommitmentA
	case acct.PlayerB:
		expected = acct.CommitmentB
	default:
		return nil, errors.NewValidationError(gameID, "game does not belong to this player")
	}
	if !game.VerifyCommitment(expected, choice, secret) {
		return nil, errors.NewValidationError(gameID, "choice and secret do not match the submitted commitment")
	}

	ev := game.TransitionEvidence{Account: acct, Now: time.Now()}
	if machine.Phase() != game.PhaseRevealing {
		if err := machine.Transition(game.PhaseRevealing, ev); err != nil {
			return nil, err
		}
	}

	escrowPDA, _, err := game.DeriveEscrowPDA(c.programID, acct.PlayerA, acct.GameID)
	if err != nil {
		return nil, errors.NewInternalError(gameID, "failed to derive escrow address", err)
	}
	ix := game.NewRevealChoiceInstruction(
		c.programID, player, cached.GamePDA,
		acct.PlayerA, acct.PlayerB, acct.HouseWallet, escrowPDA,
		choice, secret,
	)
	sig, err := c.submit(ctx, gameID, ix)
	if err != nil {
		return nil, err
	}

	cached.Signature = sig.String()
	c.gameCache.Put(cached)

	c.log.Info().
		Str("game_id", gameID).
		Str("signature", sig.String()).
		Msg("choice revealed")
	return &IntentResult{GameID: gameID, Signature: sig, Phase: machine.Phase()}, nil
}

// HandleTimeout claims the timeout settlement for a game whose deadline
// passed without resolution, refunding the escrow per program rules.
func (c *FlipClient) HandleTimeout(ctx context.Context, gameID string) (*IntentResult, error) {
	cached, machine, err := c.knownGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	acct := cached.Account
	if acct == nil {
		return nil, errors.NewDesyncError(gameID, "no ledger snapshot for game; refresh first")
	}

	ev := game.TransitionEvidence{Account: acct, Now: time.Now()}
	if machine.Phase() != game.PhaseTimedOut {
		if err := machine.Transition(game.PhaseTimedOut, ev); err != nil {
			return nil, err
		}
	}

	escrowPDA, _, err := game.DeriveEscrowPDA(c.programID, acct.PlayerA, acct.GameID)
	if err != nil {
		return nil, errors.NewInternalError(gameID, "failed to derive escrow address", err)
	}
	ix := game.NewCancelGameInstruction(
		c.programID, c.signer.PublicKey(), cached.GamePDA,
		acct.PlayerA, acct.PlayerB, acct.HouseWallet, escrowPDA,
	)
	sig, err := c.submit(ctx, gameID, ix)
	if err != nil {
		return nil, err
	}

	cached.Phase = game.PhaseTimedOut
	cached.Signature = sig.String()
	c.gameCache.Put(cached)

	c.log.Info().
		Str("game_id", gameID).
		Str("signature", sig.String()).
		Msg("timeout settlement submitted")
	return &IntentResult{GameID: gameID, Signature: sig, Phase: machine.Phase()}, nil
}

// ForceAbandon abandons a game locally. The ledger is untouched and the
// escrow may stay locked; timeout settlement and recovery remain available.
func (c *FlipClient) ForceAbandon(gameID string) (*AbandonResult, error) {
	cached := c.gameCache.Get(gameID)
	if cached == nil {
		return nil, errors.NewValidationError(gameID, "game not known to this client")
	}

	machine := c.registry.MachineFor(gameID)
	if err := machine.Transition(game.PhaseAbandoned, game.TransitionEvidence{Now: time.Now()}); err != nil {
		return nil, err
	}

	c.syncSvc.Untrack(gameID)
	c.fallback.MarkAbandoned(gameID)

	cached.Phase = game.PhaseAbandoned
	c.gameCache.Put(cached)

	c.log.Warn().
		Str("game_id", gameID).
		Msg("game abandoned locally; escrowed funds may remain locked on ledger")
	return &AbandonResult{GameID: gameID, FundsMayRemainLocked: true}, nil
}

// ForceRefresh re-reads one game from the ledger immediately.
func (c *FlipClient) ForceRefresh(ctx context.Context, gameID string) error {
	return c.syncSvc.SyncNow(ctx, gameID)
}

// ForceRecovery runs the manual reconciliation path. It bypasses the
// circuit breaker and overwrites local state with ledger truth.
func (c *FlipClient) ForceRecovery(ctx context.Context, gameID string) *recovery.Result {
	return c.recoverySvc.AttemptRecovery(ctx, gameID, c.signer.PublicKey())
}

// RetryVRF manually re-requests randomness for a game in emergency state.
func (c *FlipClient) RetryVRF(ctx context.Context, gameID string) error {
	return c.fallback.ManualRetryVRF(ctx, gameID)
}

// requestManualResolution submits the manual-resolution transaction for a
// game stuck awaiting randomness. The emergency fallback calls this on
// manual retry; the oracle choice is the fallback's, the transaction is
// ours.
func (c *FlipClient) requestManualResolution(ctx context.Context, gameID, vrfAccount string) error {
	cached := c.gameCache.Get(gameID)
	if cached == nil || cached.Account == nil {
		return errors.NewDesyncError(gameID, "no ledger snapshot for game; refresh first")
	}
	acct := cached.Account

	escrowPDA, _, err := game.DeriveEscrowPDA(c.programID, acct.PlayerA, acct.GameID)
	if err != nil {
		return errors.NewInternalError(gameID, "failed to derive escrow address", err)
	}
	ix := game.NewResolveGameManualInstruction(
		c.programID, c.signer.PublicKey(), cached.GamePDA,
		acct.PlayerA, acct.PlayerB, acct.HouseWallet, escrowPDA,
	)
	sig, err := c.submit(ctx, gameID, ix)
	if err != nil {
		return err
	}

	cached.Signature = sig.String()
	c.gameCache.Put(cached)

	c.log.Info().
		Str("game_id", gameID).
		Str("oracle", vrfAccount).
		Str("signature", sig.String()).
		Msg("manual resolution submitted")
	return nil
}

// knownGame loads a cached game, refreshing it from the ledger when the
// cache has no trusted snapshot yet.
func (c *FlipClient) knownGame(ctx context.Context, gameID string) (*cache.CachedGame, *game.StateMachine, error) {
	cached := c.gameCache.Get(gameID)
	if cached == nil {
		return nil, nil, errors.NewValidationError(gameID, "game not known to this client")
	}
	if cached.Account == nil || cached.Invalidated {
		if err := c.syncSvc.SyncNow(ctx, gameID); err != nil {
			return nil, nil, err
		}
		cached = c.gameCache.Get(gameID)
		if cached == nil {
			return nil, nil, errors.NewValidationError(gameID, "game not known to this client")
		}
	}
	return cached, c.registry.MachineFor(gameID), nil
}
