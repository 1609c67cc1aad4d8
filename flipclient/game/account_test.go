package game

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeGameAccount builds raw account bytes in the on-chain layout for
// decoder tests.
func encodeGameAccount(acct *GameAccount) []byte {
	buf := make([]byte, 0, 320)
	buf = append(buf, make([]byte, accountDiscriminatorLen)...)

	appendU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	appendOptionByte := func(set bool, v byte) {
		if !set {
			buf = append(buf, 0)
			return
		}
		buf = append(buf, 1, v)
	}

	appendU64(acct.GameID)
	buf = append(buf, acct.PlayerA[:]...)
	buf = append(buf, acct.PlayerB[:]...)
	appendU64(acct.BetAmount)
	buf = append(buf, acct.HouseWallet[:]...)

	buf = append(buf, acct.CommitmentA[:]...)
	buf = append(buf, acct.CommitmentB[:]...)
	if acct.CommitmentsComplete {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	appendOptionByte(acct.ChoiceA != nil, byte(deref(acct.ChoiceA)))
	if acct.SecretA != nil {
		buf = append(buf, 1)
		appendU64(*acct.SecretA)
	} else {
		buf = append(buf, 0)
	}
	appendOptionByte(acct.ChoiceB != nil, byte(deref(acct.ChoiceB)))
	if acct.SecretB != nil {
		buf = append(buf, 1)
		appendU64(*acct.SecretB)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, byte(acct.Status))
	appendOptionByte(acct.CoinResult != nil, byte(deref(acct.CoinResult)))
	if acct.Winner != nil {
		buf = append(buf, 1)
		buf = append(buf, acct.Winner[:]...)
	} else {
		buf = append(buf, 0)
	}

	appendU64(acct.HouseFee)
	appendU64(uint64(acct.CreatedAt))
	if acct.ResolvedAt != nil {
		buf = append(buf, 1)
		appendU64(uint64(*acct.ResolvedAt))
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, acct.Bump, acct.EscrowBump)
	return buf
}

func deref(c *CoinSide) CoinSide {
	if c == nil {
		return Heads
	}
	return *c
}

func TestDecodeGameAccount_Waiting(t *testing.T) {
	playerA := solana.NewWallet().PublicKey()
	house := solana.NewWallet().PublicKey()

	src := &GameAccount{
		GameID:      42,
		PlayerA:     playerA,
		BetAmount:   100_000_000,
		HouseWallet: house,
		Status:      StatusWaitingForPlayer,
		CreatedAt:   1700000000,
		Bump:        254,
		EscrowBump:  253,
	}

	acct, err := DecodeGameAccount(encodeGameAccount(src))
	require.NoError(t, err)

	assert.Equal(t, uint64(42), acct.GameID)
	assert.Equal(t, playerA, acct.PlayerA)
	assert.False(t, acct.HasSecondPlayer())
	assert.Equal(t, StatusWaitingForPlayer, acct.Status)
	assert.Nil(t, acct.Winner)
	assert.Nil(t, acct.ResolvedAt)
	assert.Equal(t, PhaseWaiting, acct.Phase())
	assert.Equal(t, int64(1700000000+RoomTimeoutSeconds), acct.Deadline())
}

func TestDecodeGameAccount_Resolved(t *testing.T) {
	playerA := solana.NewWallet().PublicKey()
	playerB := solana.NewWallet().PublicKey()
	result := Tails
	secretA := uint64(12345)
	resolvedAt := int64(1700000020)

	src := &GameAccount{
		GameID:              7,
		PlayerA:             playerA,
		PlayerB:             playerB,
		BetAmount:           50_000_000,
		CommitmentsComplete: true,
		ChoiceA:             &result,
		SecretA:             &secretA,
		Status:              StatusResolved,
		CoinResult:          &result,
		Winner:              &playerB,
		HouseFee:            7_000_000,
		CreatedAt:           1700000000,
		ResolvedAt:          &resolvedAt,
	}

	acct, err := DecodeGameAccount(encodeGameAccount(src))
	require.NoError(t, err)

	assert.True(t, acct.HasSecondPlayer())
	assert.True(t, acct.CommitmentsComplete)
	require.NotNil(t, acct.CoinResult)
	assert.Equal(t, Tails, *acct.CoinResult)
	require.NotNil(t, acct.Winner)
	assert.Equal(t, playerB, *acct.Winner)
	require.NotNil(t, acct.ResolvedAt)
	assert.Equal(t, resolvedAt, *acct.ResolvedAt)
	assert.Equal(t, PhaseResolved, acct.Phase())
	assert.Equal(t, int64(1700000000+SelectionTimeoutSeconds), acct.Deadline())
}

func TestDecodeGameAccount_Truncated(t *testing.T) {
	_, err := DecodeGameAccount([]byte{1, 2, 3})
	assert.Error(t, err)

	full := encodeGameAccount(&GameAccount{Status: StatusPlayersReady, BetAmount: 1})
	_, err = DecodeGameAccount(full[:len(full)-10])
	assert.Error(t, err)
}

func TestDecodeGameAccount_InvalidStatus(t *testing.T) {
	data := encodeGameAccount(&GameAccount{Status: StatusCancelled})
	// Status byte sits right after the four Option-tagged reveal fields.
	// Corrupt it to an out-of-range value.
	offset := accountDiscriminatorLen + 8 + 32 + 32 + 8 + 32 + 32 + 32 + 1 + 1 + 1 + 1 + 1
	data[offset] = 99
	_, err := DecodeGameAccount(data)
	assert.Error(t, err)
}
