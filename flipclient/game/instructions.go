package game

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// PDA seed prefixes used by the coin-flip program.
var (
	gameSeed   = []byte("game")
	escrowSeed = []byte("escrow")
)

// anchorDiscriminator derives the 8-byte instruction discriminator for a
// global program method.
func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

func gameIDSeed(gameID uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], gameID)
	return b[:]
}

// DeriveGamePDA returns the game account address for (playerA, gameID).
func DeriveGamePDA(programID, playerA solana.PublicKey, gameID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{gameSeed, playerA[:], gameIDSeed(gameID)},
		programID,
	)
}

// DeriveEscrowPDA returns the escrow address holding both bets.
func DeriveEscrowPDA(programID, playerA solana.PublicKey, gameID uint64) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{escrowSeed, playerA[:], gameIDSeed(gameID)},
		programID,
	)
}

// NewCreateGameInstruction opens a game and escrows player A's bet.
func NewCreateGameInstruction(
	programID, playerA, gamePDA, escrowPDA, houseWallet solana.PublicKey,
	gameID, betAmount uint64,
) solana.Instruction {
	data := anchorDiscriminator("create_game")
	data = append(data, gameIDSeed(gameID)...)
	var bet [8]byte
	binary.LittleEndian.PutUint64(bet[:], betAmount)
	data = append(data, bet[:]...)

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(playerA, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(houseWallet, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)
}

// NewJoinGameInstruction joins player B and escrows the matching bet.
func NewJoinGameInstruction(
	programID, playerB, gamePDA, escrowPDA solana.PublicKey,
) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(playerB, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, anchorDiscriminator("join_game"))
}

// NewMakeCommitmentInstruction submits one player's hidden choice hash.
func NewMakeCommitmentInstruction(
	programID, player, gamePDA solana.PublicKey,
	commitment [32]byte,
) solana.Instruction {
	data := anchorDiscriminator("make_commitment")
	data = append(data, commitment[:]...)

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(player, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
	}, data)
}

// NewRevealChoiceInstruction reveals a player's choice and secret. The
// program auto-resolves and pays out once both players have revealed, so the
// payout accounts ride along.
func NewRevealChoiceInstruction(
	programID, player, gamePDA, playerA, playerB, houseWallet, escrowPDA solana.PublicKey,
	choice CoinSide, secret uint64,
) solana.Instruction {
	data := anchorDiscriminator("reveal_choice")
	data = append(data, byte(choice))
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], secret)
	data = append(data, s[:]...)

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(player, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
		solana.NewAccountMeta(playerA, true, false),
		solana.NewAccountMeta(playerB, true, false),
		solana.NewAccountMeta(houseWallet, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)
}

// NewResolveGameManualInstruction forces resolution of a fully revealed game
// whose auto-resolution payout never landed.
func NewResolveGameManualInstruction(
	programID, resolver, gamePDA, playerA, playerB, houseWallet, escrowPDA solana.PublicKey,
) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(resolver, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
		solana.NewAccountMeta(playerA, true, false),
		solana.NewAccountMeta(playerB, true, false),
		solana.NewAccountMeta(houseWallet, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, anchorDiscriminator("resolve_game_manual"))
}

// NewCancelGameInstruction refunds a stuck game past the cancellation
// window; the timeout-settlement path.
func NewCancelGameInstruction(
	programID, canceller, gamePDA, playerA, playerB, houseWallet, escrowPDA solana.PublicKey,
) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(canceller, true, true),
		solana.NewAccountMeta(gamePDA, true, false),
		solana.NewAccountMeta(playerA, true, false),
		solana.NewAccountMeta(playerB, true, false),
		solana.NewAccountMeta(houseWallet, true, false),
		solana.NewAccountMeta(escrowPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, anchorDiscriminator("cancel_game"))
}
