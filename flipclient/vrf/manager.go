package vrf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/ledger"
)

const (
	// healthWindowSize bounds the rolling outcome window per account.
	healthWindowSize = 20

	// quarantineFailureRate is the windowed failure rate that triggers
	// quarantine.
	quarantineFailureRate = 0.5

	// quarantineConsecutiveFailures quarantines an account outright after
	// this many failures in a row, regardless of the window.
	quarantineConsecutiveFailures = 3

	// maxHealthyQueueDepth is the queue depth above which an account stops
	// counting as healthy.
	maxHealthyQueueDepth = 10
)

// AccountHealth is the reported health of one oracle account. IsHealthy is
// recomputed from the rolling window on every probe, never carried over.
type AccountHealth struct {
	Name            string        `json:"name"`
	PublicKey       string        `json:"public_key"`
	Priority        int           `json:"priority"`
	QueueDepth      int           `json:"queue_depth"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	SuccessRate     float64       `json:"success_rate"`
	IsHealthy       bool          `json:"is_healthy"`
	Quarantined     bool          `json:"quarantined"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// StatusSummary groups accounts by health for diagnostics.
type StatusSummary struct {
	Healthy     []AccountHealth `json:"healthy"`
	Failing     []AccountHealth `json:"failing"`
	Quarantined []AccountHealth `json:"quarantined"`
	Total       int             `json:"total"`
}

// oracleAccount is the internal per-account state.
type oracleAccount struct {
	name             string
	publicKey        solana.PublicKey
	priority         int // lower is preferred
	window           []bool
	consecutiveFails int
	queueDepth       int
	avgResponseTime  time.Duration
	quarantinedUntil time.Time
	lastUpdated      time.Time
}

func (a *oracleAccount) successRate() float64 {
	if len(a.window) == 0 {
		return 1.0
	}
	ok := 0
	for _, success := range a.window {
		if success {
			ok++
		}
	}
	return float64(ok) / float64(len(a.window))
}

func (a *oracleAccount) quarantined(now time.Time) bool {
	return now.Before(a.quarantinedUntil)
}

func (a *oracleAccount) healthy(now time.Time) bool {
	if a.quarantined(now) {
		return false
	}
	return a.successRate() >= quarantineFailureRate && a.queueDepth <= maxHealthyQueueDepth
}

// AccountManager tracks the health of the VRF oracle pool and ranks
// accounts for selection. Quarantine mirrors the RPC pool's exclusion
// policy: a failing oracle leaves the selection pool for a cool-down, then
// gets re-probed.
type AccountManager struct {
	mu         sync.RWMutex
	accounts   map[string]*oracleAccount
	order      []string // configuration order, for deterministic ties
	reader     ledger.Reader
	quarantine time.Duration
	logger     zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// AccountConfig declares one oracle account in the pool.
type AccountConfig struct {
	Name      string
	PublicKey solana.PublicKey
	Priority  int
}

// NewAccountManager creates a manager over the configured oracle pool.
func NewAccountManager(
	accounts []AccountConfig,
	reader ledger.Reader,
	quarantine time.Duration,
	logger zerolog.Logger,
) *AccountManager {
	if quarantine <= 0 {
		quarantine = 5 * time.Minute
	}

	m := &AccountManager{
		accounts:   make(map[string]*oracleAccount, len(accounts)),
		reader:     reader,
		quarantine: quarantine,
		logger:     logger.With().Str("component", "vrf_account_manager").Logger(),
		stopCh:     make(chan struct{}),
	}
	for _, cfg := range accounts {
		key := cfg.PublicKey.String()
		m.accounts[key] = &oracleAccount{
			name:      cfg.Name,
			publicKey: cfg.PublicKey,
			priority:  cfg.Priority,
		}
		m.order = append(m.order, key)
	}
	return m
}

// RecordOutcome feeds one observed request outcome into the rolling window
// and applies the quarantine policy.
func (m *AccountManager) RecordOutcome(accountID string, success bool, latency time.Duration, queueDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountID]
	if !ok {
		return
	}

	acct.window = append(acct.window, success)
	if len(acct.window) > healthWindowSize {
		acct.window = acct.window[1:]
	}
	if queueDepth >= 0 {
		acct.queueDepth = queueDepth
	}
	if latency > 0 {
		if acct.avgResponseTime == 0 {
			acct.avgResponseTime = latency
		} else {
			acct.avgResponseTime = time.Duration(float64(acct.avgResponseTime)*0.8 + float64(latency)*0.2)
		}
	}
	acct.lastUpdated = time.Now()

	if success {
		acct.consecutiveFails = 0
		return
	}
	acct.consecutiveFails++

	now := time.Now()
	alreadyQuarantined := acct.quarantined(now)
	tooManyConsecutive := acct.consecutiveFails >= quarantineConsecutiveFailures
	windowTooBad := len(acct.window) >= quarantineConsecutiveFailures &&
		acct.successRate() < quarantineFailureRate

	if !alreadyQuarantined && (tooManyConsecutive || windowTooBad) {
		acct.quarantinedUntil = now.Add(m.quarantine)
		m.logger.Warn().
			Str("oracle", acct.name).
			Int("consecutive_failures", acct.consecutiveFails).
			Float64("success_rate", acct.successRate()).
			Dur("quarantine", m.quarantine).
			Msg("oracle account quarantined")
	}
}

// SelectBestAccount returns the preferred oracle account id. Healthy
// accounts are ranked by (priority, success rate, latency, configuration
// order); if none is healthy, the least-bad non-quarantined account is
// chosen, and only as a last resort a quarantined one. Selection is
// deterministic for a fixed health snapshot.
func (m *AccountManager) SelectBestAccount() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return "", errors.NewVRFError("", "no VRF oracle accounts configured", nil)
	}

	now := time.Now()
	ranked := make([]string, len(m.order))
	copy(ranked, m.order)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := m.accounts[ranked[i]], m.accounts[ranked[j]]

		// Tier first: healthy < unhealthy-but-available < quarantined
		ta, tb := m.tier(a, now), m.tier(b, now)
		if ta != tb {
			return ta < tb
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		ra, rb := a.successRate(), b.successRate()
		if ra != rb {
			return ra > rb
		}
		if a.avgResponseTime != b.avgResponseTime {
			return a.avgResponseTime < b.avgResponseTime
		}
		return a.name < b.name
	})

	return ranked[0], nil
}

func (m *AccountManager) tier(a *oracleAccount, now time.Time) int {
	switch {
	case a.healthy(now):
		return 0
	case !a.quarantined(now):
		return 1
	default:
		return 2
	}
}

// GetAccountStatusSummary reports every account grouped by health tier.
func (m *AccountManager) GetAccountStatusSummary() StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	summary := StatusSummary{Total: len(m.order)}

	for _, key := range m.order {
		acct := m.accounts[key]
		health := AccountHealth{
			Name:            acct.name,
			PublicKey:       key,
			Priority:        acct.priority,
			QueueDepth:      acct.queueDepth,
			AvgResponseTime: acct.avgResponseTime,
			SuccessRate:     acct.successRate(),
			IsHealthy:       acct.healthy(now),
			Quarantined:     acct.quarantined(now),
			LastUpdated:     acct.lastUpdated,
		}

		switch {
		case health.Quarantined:
			summary.Quarantined = append(summary.Quarantined, health)
		case health.IsHealthy:
			summary.Healthy = append(summary.Healthy, health)
		default:
			summary.Failing = append(summary.Failing, health)
		}
	}
	return summary
}

// StartProbing launches the periodic health probe loop. Each probe reads
// the oracle account from the ledger and feeds the outcome into the rolling
// window; quarantined accounts are probed too so they can recover.
func (m *AccountManager) StartProbing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// StopProbing terminates the probe loop.
func (m *AccountManager) StopProbing() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *AccountManager) probeAll(ctx context.Context) {
	m.mu.RLock()
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	m.mu.RUnlock()

	for _, key := range keys {
		m.mu.RLock()
		acct := m.accounts[key]
		pubkey := acct.publicKey
		m.mu.RUnlock()

		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		start := time.Now()
		snapshot, err := m.reader.GetAccount(probeCtx, pubkey)
		latency := time.Since(start)
		cancel()

		// A probe succeeds when the oracle account exists and is readable.
		success := err == nil && snapshot != nil
		if !success {
			m.logger.Debug().
				Str("oracle", acct.name).
				Err(err).
				Msg("oracle probe failed")
		}
		m.RecordOutcome(key, success, latency, -1)
	}
}
