package vrf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allouf/flipCoinFull-sub000/flipclient/db"
	flperrors "github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/store"
)

func newTestFallback(t *testing.T, cfg FallbackConfig) (*EmergencyFallback, *AccountManager) {
	t.Helper()
	manager, _ := newTestManager(t, time.Minute)
	return NewEmergencyFallback(manager, nil, cfg, zerolog.Nop()), manager
}

func TestObserveOutstanding_GracePeriod(t *testing.T) {
	fallback, _ := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Minute,
		HardDeadline: 5 * time.Minute,
	})

	// Still inside the grace period: not tracked
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now())
	assert.False(t, fallback.IsGameInEmergencyState("game-1"))
	assert.Empty(t, fallback.GetActiveEmergencyGames())

	// Past the grace period: tracked
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now().Add(-2*time.Minute))
	assert.True(t, fallback.IsGameInEmergencyState("game-1"))

	games := fallback.GetActiveEmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, "game-1", games[0].GameID)
	assert.Equal(t, "room-1", games[0].RoomID)
	assert.Greater(t, games[0].TimeRemaining, time.Duration(0))
}

func TestObserveOutstanding_Idempotent(t *testing.T) {
	fallback, _ := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Second,
		HardDeadline: time.Minute,
	})

	since := time.Now().Add(-10 * time.Second)
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", since)
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", since)
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", since)

	assert.Len(t, fallback.GetActiveEmergencyGames(), 1)
}

func TestEmergencyGame_RemovedExactlyOnResolveOrAbandon(t *testing.T) {
	fallback, _ := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Second,
		HardDeadline: time.Minute,
	})

	since := time.Now().Add(-10 * time.Second)
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", since)
	fallback.ObserveOutstanding("game-2", "room-2", "oracle-b", since)
	require.Len(t, fallback.GetActiveEmergencyGames(), 2)

	fallback.MarkResolved("game-1")
	assert.False(t, fallback.IsGameInEmergencyState("game-1"))
	assert.True(t, fallback.IsGameInEmergencyState("game-2"))

	fallback.MarkAbandoned("game-2")
	assert.False(t, fallback.IsGameInEmergencyState("game-2"))
	assert.Empty(t, fallback.GetActiveEmergencyGames())

	// Removing an untracked game is a no-op
	fallback.MarkResolved("game-1")
}

func TestHardDeadline_FiresOnceAndKeepsTracking(t *testing.T) {
	fallback, _ := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Millisecond,
		HardDeadline: 10 * time.Millisecond,
	})

	var mu sync.Mutex
	fired := make(map[string]int)
	fallback.SetDeadlineHandler(func(gameID string) {
		mu.Lock()
		fired[gameID]++
		mu.Unlock()
	})

	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now().Add(-time.Second))

	fallback.Start(context.Background(), 5*time.Millisecond)
	defer fallback.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired["game-1"] >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	count := fired["game-1"]
	mu.Unlock()
	assert.Equal(t, 1, count, "deadline handler must fire once per game")

	// Past the deadline the game is still visible until resolved
	assert.True(t, fallback.IsGameInEmergencyState("game-1"))
	games := fallback.GetActiveEmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, time.Duration(0), games[0].TimeRemaining)
}

func TestManualRetryVRF_SwitchesToHealthyOracle(t *testing.T) {
	fallback, manager := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Second,
		HardDeadline: time.Minute,
	})

	summary := manager.GetAccountStatusSummary()
	require.Equal(t, 3, summary.Total)

	// Quarantine the preferred oracle the game was using
	preferred, err := manager.SelectBestAccount()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		manager.RecordOutcome(preferred, false, 0, 25)
	}

	var mu sync.Mutex
	var requested []string
	fallback.SetRetryRequester(func(_ context.Context, gameID, vrfAccount string) error {
		mu.Lock()
		requested = append(requested, vrfAccount)
		mu.Unlock()
		return nil
	})

	fallback.ObserveOutstanding("game-1", "room-1", preferred, time.Now().Add(-10*time.Second))
	require.NoError(t, fallback.ManualRetryVRF(context.Background(), "game-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requested, 1)
	assert.NotEqual(t, preferred, requested[0], "retry must use a different oracle than the quarantined one")

	games := fallback.GetActiveEmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, requested[0], games[0].VRFAccount)
}

func TestManualRetryVRF_Errors(t *testing.T) {
	fallback, _ := newTestFallback(t, FallbackConfig{
		GracePeriod:  time.Second,
		HardDeadline: time.Minute,
	})

	// Unknown game
	err := fallback.ManualRetryVRF(context.Background(), "nope")
	assert.True(t, flperrors.IsGameError(err, flperrors.ErrCodeValidation))

	// No requester wired
	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now().Add(-10*time.Second))
	err = fallback.ManualRetryVRF(context.Background(), "game-1")
	assert.True(t, flperrors.IsGameError(err, flperrors.ErrCodeInternal))

	// Requester failure surfaces as a VRF error and counts against the oracle
	fallback.SetRetryRequester(func(context.Context, string, string) error {
		return errors.New("queue is full")
	})
	err = fallback.ManualRetryVRF(context.Background(), "game-1")
	assert.True(t, flperrors.IsGameError(err, flperrors.ErrCodeVRF))
}

func TestLoadPersisted_RestoresOutstandingGames(t *testing.T) {
	manager := NewAccountManager([]AccountConfig{
		{Name: "oracle-a", PublicKey: solana.NewWallet().PublicKey(), Priority: 0},
	}, nil, time.Minute, zerolog.Nop())

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	cfg := FallbackConfig{GracePeriod: time.Second, HardDeadline: time.Minute}

	before := NewEmergencyFallback(manager, database, cfg, zerolog.Nop())
	before.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now().Add(-10*time.Second))
	before.ObserveOutstanding("game-2", "room-2", "oracle-a", time.Now().Add(-10*time.Second))
	before.MarkResolved("game-2")

	// Fresh instance over the same database, as after a restart
	after := NewEmergencyFallback(manager, database, cfg, zerolog.Nop())
	require.NoError(t, after.LoadPersisted())

	require.True(t, after.IsGameInEmergencyState("game-1"))
	assert.False(t, after.IsGameInEmergencyState("game-2"), "resolved games must stay out after a restart")

	games := after.GetActiveEmergencyGames()
	require.Len(t, games, 1)
	assert.Equal(t, "game-1", games[0].GameID)
	assert.Equal(t, "room-1", games[0].RoomID)
	assert.Equal(t, "oracle-a", games[0].VRFAccount)

	// No journal configured: rehydration is a no-op
	bare, _ := newTestFallback(t, cfg)
	require.NoError(t, bare.LoadPersisted())
}

func TestEmergencyFallback_JournalsTransitions(t *testing.T) {
	manager := NewAccountManager([]AccountConfig{
		{Name: "oracle-a", PublicKey: solana.NewWallet().PublicKey(), Priority: 0},
	}, nil, time.Minute, zerolog.Nop())

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	fallback := NewEmergencyFallback(manager, database, FallbackConfig{
		GracePeriod:  time.Second,
		HardDeadline: time.Minute,
	}, zerolog.Nop())

	fallback.ObserveOutstanding("game-1", "room-1", "oracle-a", time.Now().Add(-10*time.Second))
	fallback.MarkResolved("game-1")

	var records []store.VRFRequestRecord
	require.NoError(t, database.Client().Order("id asc").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, "outstanding", records[0].Status)
	assert.Equal(t, "resolved", records[1].Status)
	assert.Equal(t, "game-1", records[0].GameID)
}
