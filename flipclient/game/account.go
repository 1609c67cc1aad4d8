package game

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// GameStatus mirrors the on-chain program's status enum.
type GameStatus uint8

const (
	StatusWaitingForPlayer GameStatus = iota
	StatusPlayersReady
	StatusCommitmentsReady
	StatusRevealingPhase
	StatusResolved
	StatusCancelled
)

func (s GameStatus) String() string {
	switch s {
	case StatusWaitingForPlayer:
		return "waiting_for_player"
	case StatusPlayersReady:
		return "players_ready"
	case StatusCommitmentsReady:
		return "commitments_ready"
	case StatusRevealingPhase:
		return "revealing_phase"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CoinSide is a player's choice or the flip result.
type CoinSide uint8

const (
	Heads CoinSide = iota
	Tails
)

func (c CoinSide) String() string {
	if c == Tails {
		return "tails"
	}
	return "heads"
}

// On-chain deadline windows, in seconds. Selection covers the commit phase
// after both players are present; the room window bounds how long a created
// game may sit waiting for a second player.
const (
	SelectionTimeoutSeconds = 30
	RoomTimeoutSeconds      = 300
)

// GameAccount is the decoded on-chain game account.
type GameAccount struct {
	GameID      uint64
	PlayerA     solana.PublicKey
	PlayerB     solana.PublicKey
	BetAmount   uint64
	HouseWallet solana.PublicKey

	CommitmentA         [32]byte
	CommitmentB         [32]byte
	CommitmentsComplete bool

	ChoiceA *CoinSide
	SecretA *uint64
	ChoiceB *CoinSide
	SecretB *uint64

	Status     GameStatus
	CoinResult *CoinSide
	Winner     *solana.PublicKey
	HouseFee   uint64

	CreatedAt  int64
	ResolvedAt *int64

	Bump       uint8
	EscrowBump uint8
}

// accountDiscriminatorLen is the Anchor 8-byte account discriminator prefix.
const accountDiscriminatorLen = 8

type accountDecoder struct {
	data []byte
	pos  int
}

func (d *accountDecoder) remaining() int { return len(d.data) - d.pos }

func (d *accountDecoder) readBytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("account data truncated: need %d bytes at offset %d, have %d", n, d.pos, d.remaining())
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *accountDecoder) readU8() (uint8, error) {
	b, err := d.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *accountDecoder) readBool() (bool, error) {
	v, err := d.readU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (d *accountDecoder) readU64() (uint64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *accountDecoder) readI64() (int64, error) {
	v, err := d.readU64()
	return int64(v), err
}

func (d *accountDecoder) readPubkey() (solana.PublicKey, error) {
	b, err := d.readBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

// readOption reads a borsh Option tag byte and, when set, decodes the value.
func (d *accountDecoder) readOption(decode func() error) (bool, error) {
	tag, err := d.readU8()
	if err != nil {
		return false, err
	}
	if tag == 0 {
		return false, nil
	}
	return true, decode()
}

func (d *accountDecoder) readOptionCoinSide() (*CoinSide, error) {
	var side CoinSide
	set, err := d.readOption(func() error {
		v, err := d.readU8()
		if err != nil {
			return err
		}
		if v > 1 {
			return fmt.Errorf("invalid coin side %d", v)
		}
		side = CoinSide(v)
		return nil
	})
	if err != nil || !set {
		return nil, err
	}
	return &side, nil
}

func (d *accountDecoder) readOptionU64() (*uint64, error) {
	var v uint64
	set, err := d.readOption(func() (e error) {
		v, e = d.readU64()
		return e
	})
	if err != nil || !set {
		return nil, err
	}
	return &v, nil
}

// DecodeGameAccount decodes raw account bytes (including the 8-byte Anchor
// discriminator) into a GameAccount. Field order matches the on-chain
// program's account layout; Option fields carry a one-byte tag.
func DecodeGameAccount(data []byte) (*GameAccount, error) {
	if len(data) < accountDiscriminatorLen {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	d := &accountDecoder{data: data, pos: accountDiscriminatorLen}

	acct := &GameAccount{}
	var err error

	if acct.GameID, err = d.readU64(); err != nil {
		return nil, err
	}
	if acct.PlayerA, err = d.readPubkey(); err != nil {
		return nil, err
	}
	if acct.PlayerB, err = d.readPubkey(); err != nil {
		return nil, err
	}
	if acct.BetAmount, err = d.readU64(); err != nil {
		return nil, err
	}
	if acct.HouseWallet, err = d.readPubkey(); err != nil {
		return nil, err
	}

	commitA, err := d.readBytes(32)
	if err != nil {
		return nil, err
	}
	copy(acct.CommitmentA[:], commitA)
	commitB, err := d.readBytes(32)
	if err != nil {
		return nil, err
	}
	copy(acct.CommitmentB[:], commitB)
	if acct.CommitmentsComplete, err = d.readBool(); err != nil {
		return nil, err
	}

	if acct.ChoiceA, err = d.readOptionCoinSide(); err != nil {
		return nil, err
	}
	if acct.SecretA, err = d.readOptionU64(); err != nil {
		return nil, err
	}
	if acct.ChoiceB, err = d.readOptionCoinSide(); err != nil {
		return nil, err
	}
	if acct.SecretB, err = d.readOptionU64(); err != nil {
		return nil, err
	}

	status, err := d.readU8()
	if err != nil {
		return nil, err
	}
	if status > uint8(StatusCancelled) {
		return nil, fmt.Errorf("invalid game status %d", status)
	}
	acct.Status = GameStatus(status)

	if acct.CoinResult, err = d.readOptionCoinSide(); err != nil {
		return nil, err
	}

	var winner solana.PublicKey
	set, err := d.readOption(func() (e error) {
		winner, e = d.readPubkey()
		return e
	})
	if err != nil {
		return nil, err
	}
	if set {
		acct.Winner = &winner
	}

	if acct.HouseFee, err = d.readU64(); err != nil {
		return nil, err
	}
	if acct.CreatedAt, err = d.readI64(); err != nil {
		return nil, err
	}

	var resolvedAt int64
	set, err = d.readOption(func() (e error) {
		resolvedAt, e = d.readI64()
		return e
	})
	if err != nil {
		return nil, err
	}
	if set {
		acct.ResolvedAt = &resolvedAt
	}

	if acct.Bump, err = d.readU8(); err != nil {
		return nil, err
	}
	if acct.EscrowBump, err = d.readU8(); err != nil {
		return nil, err
	}

	return acct, nil
}

// HasSecondPlayer reports whether a second player has joined.
func (a *GameAccount) HasSecondPlayer() bool {
	return !a.PlayerB.IsZero()
}

// Phase maps the on-chain status to the local phase model.
func (a *GameAccount) Phase() Phase {
	switch a.Status {
	case StatusWaitingForPlayer:
		return PhaseWaiting
	case StatusPlayersReady:
		return PhaseSelecting
	case StatusCommitmentsReady:
		return PhaseRevealing
	case StatusRevealingPhase:
		return PhaseResolving
	case StatusResolved:
		return PhaseResolved
	case StatusCancelled:
		return PhaseResolved
	default:
		return PhaseIdle
	}
}

// SelectionDeadline returns the unix time by which the commit phase must
// complete, derived from the ledger-reported creation time.
func (a *GameAccount) SelectionDeadline() int64 {
	return a.CreatedAt + SelectionTimeoutSeconds
}

// RoomDeadline returns the unix time by which a second player must join.
func (a *GameAccount) RoomDeadline() int64 {
	return a.CreatedAt + RoomTimeoutSeconds
}

// Deadline returns the deadline governing the current on-chain status: the
// room window while waiting for a second player, the selection window after.
func (a *GameAccount) Deadline() int64 {
	if a.Status == StatusWaitingForPlayer {
		return a.RoomDeadline()
	}
	return a.SelectionDeadline()
}
