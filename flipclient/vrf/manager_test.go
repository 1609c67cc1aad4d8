package vrf

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, quarantine time.Duration) (*AccountManager, []AccountConfig) {
	t.Helper()

	accounts := []AccountConfig{
		{Name: "oracle-a", PublicKey: solana.NewWallet().PublicKey(), Priority: 0},
		{Name: "oracle-b", PublicKey: solana.NewWallet().PublicKey(), Priority: 1},
		{Name: "oracle-c", PublicKey: solana.NewWallet().PublicKey(), Priority: 2},
	}
	return NewAccountManager(accounts, nil, quarantine, zerolog.Nop()), accounts
}

func TestSelectBestAccount_PrefersLowestPriority(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)

	selected, err := m.SelectBestAccount()
	require.NoError(t, err)
	assert.Equal(t, accounts[0].PublicKey.String(), selected)
}

func TestSelectBestAccount_NoAccounts(t *testing.T) {
	m := NewAccountManager(nil, nil, time.Minute, zerolog.Nop())
	_, err := m.SelectBestAccount()
	assert.Error(t, err)
}

func TestRecordOutcome_ThreeConsecutiveFailuresQuarantine(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)
	a := accounts[0].PublicKey.String()

	// Three queue-full failures in a row on the preferred oracle
	for i := 0; i < 3; i++ {
		m.RecordOutcome(a, false, 50*time.Millisecond, 25)
	}

	summary := m.GetAccountStatusSummary()
	require.Len(t, summary.Quarantined, 1)
	assert.Equal(t, "oracle-a", summary.Quarantined[0].Name)

	selected, err := m.SelectBestAccount()
	require.NoError(t, err)
	assert.NotEqual(t, a, selected, "quarantined oracle must not be selected")
	assert.Equal(t, accounts[1].PublicKey.String(), selected)
}

func TestRecordOutcome_SuccessResetsConsecutiveFailures(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)
	a := accounts[0].PublicKey.String()

	m.RecordOutcome(a, false, 0, -1)
	m.RecordOutcome(a, false, 0, -1)
	m.RecordOutcome(a, true, 0, -1)
	m.RecordOutcome(a, false, 0, -1)
	m.RecordOutcome(a, false, 0, -1)

	summary := m.GetAccountStatusSummary()
	assert.Empty(t, summary.Quarantined, "interleaved success must reset the consecutive counter")
}

func TestRecordOutcome_WindowedFailureRateQuarantines(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)
	a := accounts[0].PublicKey.String()

	// Alternate success/failure, then enough failures to sink the window
	// below half without three in a row at the start.
	outcomes := []bool{true, false, true, false, false, true, false, false}
	for _, ok := range outcomes {
		m.RecordOutcome(a, ok, 0, -1)
	}

	summary := m.GetAccountStatusSummary()
	require.Len(t, summary.Quarantined, 1)
	assert.Equal(t, "oracle-a", summary.Quarantined[0].Name)
}

func TestQuarantineExpires(t *testing.T) {
	m, accounts := newTestManager(t, 20*time.Millisecond)
	a := accounts[0].PublicKey.String()

	for i := 0; i < 3; i++ {
		m.RecordOutcome(a, false, 0, -1)
	}
	selected, err := m.SelectBestAccount()
	require.NoError(t, err)
	require.NotEqual(t, a, selected)

	time.Sleep(30 * time.Millisecond)

	// Cool-down elapsed; a run of successful probes restores the oracle.
	for i := 0; i < 4; i++ {
		m.RecordOutcome(a, true, 10*time.Millisecond, 0)
	}
	selected, err = m.SelectBestAccount()
	require.NoError(t, err)
	assert.Equal(t, a, selected, "recovered oracle should win again on priority")
}

func TestHighQueueDepthIsUnhealthyButSelectable(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)
	a := accounts[0].PublicKey.String()
	b := accounts[1].PublicKey.String()

	m.RecordOutcome(a, true, 10*time.Millisecond, 50)
	m.RecordOutcome(b, true, 10*time.Millisecond, 0)

	summary := m.GetAccountStatusSummary()
	assert.Len(t, summary.Failing, 1)
	assert.Equal(t, "oracle-a", summary.Failing[0].Name)

	// The healthy tier wins even though oracle-a has the better priority.
	selected, err := m.SelectBestAccount()
	require.NoError(t, err)
	assert.Equal(t, b, selected)
}

func TestGetAccountStatusSummary_Grouping(t *testing.T) {
	m, accounts := newTestManager(t, time.Minute)

	// a healthy, b quarantined, c failing on queue depth
	m.RecordOutcome(accounts[0].PublicKey.String(), true, 5*time.Millisecond, 0)
	for i := 0; i < 3; i++ {
		m.RecordOutcome(accounts[1].PublicKey.String(), false, 0, -1)
	}
	m.RecordOutcome(accounts[2].PublicKey.String(), true, 5*time.Millisecond, 99)

	summary := m.GetAccountStatusSummary()
	assert.Equal(t, 3, summary.Total)
	require.Len(t, summary.Healthy, 1)
	require.Len(t, summary.Quarantined, 1)
	require.Len(t, summary.Failing, 1)
	assert.Equal(t, "oracle-a", summary.Healthy[0].Name)
	assert.Equal(t, "oracle-b", summary.Quarantined[0].Name)
	assert.Equal(t, "oracle-c", summary.Failing[0].Name)
}

func TestSelectBestAccount_DeterministicTies(t *testing.T) {
	zetaKey := solana.NewWallet().PublicKey()
	alphaKey := solana.NewWallet().PublicKey()

	// Same priority: fall back to name ordering.
	m := NewAccountManager([]AccountConfig{
		{Name: "zeta", PublicKey: zetaKey, Priority: 1},
		{Name: "alpha", PublicKey: alphaKey, Priority: 1},
	}, nil, time.Minute, zerolog.Nop())

	first, err := m.SelectBestAccount()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.SelectBestAccount()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, alphaKey.String(), first)
}
