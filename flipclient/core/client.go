// Package core is the composition root of the flip client engine. It builds
// and owns the long-lived services (cache, sync, recovery, VRF tracking,
// cross-tab coordination) and exposes the intent methods the UI layer calls.
// No ambient globals: everything is constructed once and injected.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/allouf/flipCoinFull-sub000/flipclient/cache"
	"github.com/allouf/flipCoinFull-sub000/flipclient/config"
	"github.com/allouf/flipCoinFull-sub000/flipclient/db"
	"github.com/allouf/flipCoinFull-sub000/flipclient/errors"
	"github.com/allouf/flipCoinFull-sub000/flipclient/game"
	"github.com/allouf/flipCoinFull-sub000/flipclient/ledger"
	"github.com/allouf/flipCoinFull-sub000/flipclient/recovery"
	"github.com/allouf/flipCoinFull-sub000/flipclient/rpcpool"
	flipsync "github.com/allouf/flipCoinFull-sub000/flipclient/sync"
	"github.com/allouf/flipCoinFull-sub000/flipclient/tabs"
	"github.com/allouf/flipCoinFull-sub000/flipclient/vrf"
)

const (
	cacheSweepInterval = 10 * time.Minute
	cacheSweepMaxAge   = 24 * time.Hour
	fallbackTick       = 5 * time.Second
)

// FlipClient wires the engine together and drives one player's games.
type FlipClient struct {
	log    zerolog.Logger
	cfg    *config.Config
	signer TransactionSigner

	database  *db.DB
	gameCache *cache.GameCache
	pool      *rpcpool.Manager
	solReader *ledger.SolanaReader
	reader    ledger.Reader

	syncSvc     *flipsync.Service
	recoverySvc *recovery.Service
	vrfManager  *vrf.AccountManager
	fallback    *vrf.EmergencyFallback
	coordinator *tabs.Coordinator
	registry    *MachineRegistry

	programID   solana.PublicKey
	houseWallet solana.PublicKey
	syncCfg     flipsync.Config

	mu             sync.Mutex
	started        bool
	runCtx         context.Context
	syncSubToken   string
	resolvingSince map[string]time.Time
	stopCh         chan struct{}
	wg             sync.WaitGroup
	once           sync.Once
}

// NewFlipClient assembles the engine from pre-built primitives. Tests inject
// a MemoryReader and an in-memory database here; Build is the production
// path.
func NewFlipClient(
	cfg *config.Config,
	reader ledger.Reader,
	signer TransactionSigner,
	database *db.DB,
	channel tabs.Channel,
	log zerolog.Logger,
) (*FlipClient, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, errors.NewValidationError("", "invalid program id: "+err.Error())
	}
	var houseWallet solana.PublicKey
	if cfg.HouseWallet != "" {
		houseWallet, err = solana.PublicKeyFromBase58(cfg.HouseWallet)
		if err != nil {
			return nil, errors.NewValidationError("", "invalid house wallet: "+err.Error())
		}
	}

	gameCache := cache.New(database, log)

	syncSvc := flipsync.New(gameCache, reader, log)
	syncCfg := flipsync.Config{
		Interval:   time.Duration(cfg.SyncIntervalSeconds) * time.Second,
		MaxRetries: cfg.SyncMaxRetries,
		RetryDelay: time.Duration(cfg.SyncRetryDelayMs) * time.Millisecond,
	}

	registry := NewMachineRegistry(log)
	recoverySvc := recovery.New(gameCache, reader, recovery.Config{
		Timeout:          time.Duration(cfg.RecoveryTimeoutSeconds) * time.Second,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerCooldown:  time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
	}, log)
	recoverySvc.SetPhaseOverrider(registry)

	accounts := make([]vrf.AccountConfig, 0, len(cfg.VRFAccounts))
	for _, acct := range cfg.VRFAccounts {
		key, err := solana.PublicKeyFromBase58(acct.PublicKey)
		if err != nil {
			return nil, errors.NewValidationError("", "invalid vrf account "+acct.Name+": "+err.Error())
		}
		accounts = append(accounts, vrf.AccountConfig{
			Name:      acct.Name,
			PublicKey: key,
			Priority:  acct.Priority,
		})
	}
	vrfManager := vrf.NewAccountManager(
		accounts,
		reader,
		time.Duration(cfg.VRFQuarantineSeconds)*time.Second,
		log,
	)
	fallback := vrf.NewEmergencyFallback(vrfManager, database, vrf.FallbackConfig{
		GracePeriod:  time.Duration(cfg.VRFGracePeriodSeconds) * time.Second,
		HardDeadline: time.Duration(cfg.VRFHardDeadlineSeconds) * time.Second,
	}, log)

	coordinator := tabs.NewCoordinator(channel, tabs.Config{
		HeartbeatInterval: time.Duration(cfg.TabHeartbeatMs) * time.Millisecond,
		LeaderTimeout:     time.Duration(cfg.TabLeaderTimeoutMs) * time.Millisecond,
	}, log)

	return &FlipClient{
		log:            log.With().Str("component", "flip_client").Logger(),
		cfg:            cfg,
		signer:         signer,
		database:       database,
		gameCache:      gameCache,
		reader:         reader,
		syncSvc:        syncSvc,
		syncCfg:        syncCfg,
		recoverySvc:    recoverySvc,
		vrfManager:     vrfManager,
		fallback:       fallback,
		coordinator:    coordinator,
		registry:       registry,
		programID:      programID,
		houseWallet:    houseWallet,
		resolvingSince: make(map[string]time.Time),
		stopCh:         make(chan struct{}),
	}, nil
}

// Build constructs a production client: file-backed database, pooled Solana
// RPC reader, in-process tab channel.
func Build(cfg *config.Config, signer TransactionSigner, log zerolog.Logger) (*FlipClient, error) {
	database, err := db.OpenFileDB(cfg.DataDir, "flipclient.db", true)
	if err != nil {
		return nil, errors.NewPersistenceError("", "failed to open cache database", err)
	}

	pool := rpcpool.NewManager("solana", cfg.LedgerRPCURLs, &rpcpool.Config{
		HealthCheckInterval:   time.Duration(cfg.RPCPool.HealthCheckIntervalSeconds) * time.Second,
		UnhealthyThreshold:    cfg.RPCPool.UnhealthyThreshold,
		RecoveryInterval:      time.Duration(cfg.RPCPool.RecoveryIntervalSeconds) * time.Second,
		MinHealthyEndpoints:   cfg.RPCPool.MinHealthyEndpoints,
		RequestTimeout:        time.Duration(cfg.RPCPool.RequestTimeoutSeconds) * time.Second,
		LoadBalancingStrategy: cfg.RPCPool.LoadBalancingStrategy,
	}, ledger.NewClientFactory(), log)
	if pool == nil {
		return nil, errors.NewValidationError("", "no ledger RPC endpoints configured")
	}
	pool.HealthMonitor.SetHealthChecker(ledger.NewHealthChecker(cfg.GenesisHash))

	solReader := ledger.NewSolanaReader(
		pool,
		rpc.CommitmentType(cfg.CommitmentLevel),
		time.Duration(cfg.SyncIntervalSeconds)*time.Second,
		log,
	)

	client, err := NewFlipClient(cfg, solReader, signer, database, tabs.NewMemoryChannel(), log)
	if err != nil {
		database.Close()
		return nil, err
	}
	client.pool = pool
	client.solReader = solReader
	return client, nil
}

// Start brings up the engine: pool health monitoring, the ledger watch loop,
// persisted-cache rehydration, VRF probing and emergency tracking, and tab
// coordination. Sync polling starts only when this tab wins leadership.
func (c *FlipClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.runCtx = ctx
	c.mu.Unlock()

	c.log.Info().Msg("starting flip client engine")

	if c.pool != nil {
		if err := c.pool.Start(ctx); err != nil {
			return err
		}
	}
	if c.solReader != nil {
		c.solReader.Start(ctx)
	}

	if c.database != nil {
		if err := c.gameCache.LoadPersisted(); err != nil {
			c.log.Warn().Err(err).Msg("failed to rehydrate persisted cache")
		}
		if err := c.fallback.LoadPersisted(); err != nil {
			c.log.Warn().Err(err).Msg("failed to rehydrate VRF emergency tracking")
		}
		// Rehydrated games resume tracking; they stay untrusted until the
		// first ledger read completes.
		for _, cached := range c.gameCache.GetAll() {
			if !cached.Phase.IsTerminal() {
				c.syncSvc.Track(cached.GameID, cached.GamePDA)
			}
		}
	}

	c.mu.Lock()
	c.syncSubToken = c.syncSvc.Subscribe(c.handleSyncUpdate)
	c.mu.Unlock()

	c.vrfManager.StartProbing(ctx, time.Duration(c.cfg.VRFProbeIntervalSeconds)*time.Second)
	c.fallback.SetRetryRequester(c.requestManualResolution)
	c.fallback.SetDeadlineHandler(func(gameID string) {
		c.log.Warn().
			Str("game_id", gameID).
			Msg("VRF hard deadline elapsed; timeout settlement available via HandleTimeout")
	})
	c.fallback.Start(ctx, fallbackTick)

	c.coordinator.SetLeadershipHandler(func(isLeader bool) {
		if isLeader {
			c.log.Info().Msg("tab is leader; starting sync polling")
			c.syncSvc.StartSync(ctx, c.syncCfg)
		} else {
			c.log.Info().Msg("tab lost leadership; stopping sync polling")
			c.syncSvc.StopSync()
		}
	})
	c.coordinator.Start(ctx)

	c.wg.Add(1)
	go c.maintenanceLoop(ctx)

	c.log.Info().Msg("flip client engine started")
	return nil
}

// Run starts the engine and blocks until the context is cancelled.
func (c *FlipClient) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}

// Stop shuts the engine down in reverse dependency order.
func (c *FlipClient) Stop() error {
	c.log.Info().Msg("stopping flip client engine")

	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	c.coordinator.Stop()
	c.syncSvc.StopSync()
	c.mu.Lock()
	if c.syncSubToken != "" {
		c.syncSvc.Unsubscribe(c.syncSubToken)
		c.syncSubToken = ""
	}
	c.mu.Unlock()
	c.fallback.Stop()
	c.vrfManager.StopProbing()
	if c.solReader != nil {
		c.solReader.Stop()
	}
	if c.pool != nil {
		c.pool.Stop()
	}
	if c.database != nil {
		return c.database.Close()
	}
	return nil
}

// Cache exposes read access for the UI layer.
func (c *FlipClient) Cache() *cache.GameCache {
	return c.gameCache
}

// Role reports this tab's coordination role.
func (c *FlipClient) Role() tabs.Role {
	return c.coordinator.Role()
}

// VRFStatus reports the oracle pool health summary.
func (c *FlipClient) VRFStatus() vrf.StatusSummary {
	return c.vrfManager.GetAccountStatusSummary()
}

// EmergencyGames lists games under VRF emergency tracking.
func (c *FlipClient) EmergencyGames() []vrf.EmergencyGameEntry {
	return c.fallback.GetActiveEmergencyGames()
}

// SyncStats reports sync loop counters.
func (c *FlipClient) SyncStats() flipsync.Stats {
	return c.syncSvc.GetStats()
}

// PhaseOf reports the local phase of a game.
func (c *FlipClient) PhaseOf(gameID string) game.Phase {
	return c.registry.PhaseOf(gameID)
}

// handleSyncUpdate converges the local state machine toward each fresh cache
// entry and maintains VRF emergency tracking for games stuck in resolving.
func (c *FlipClient) handleSyncUpdate(cached *cache.CachedGame) {
	machine := c.registry.MachineFor(cached.GameID)
	ev := game.TransitionEvidence{
		Account:             cached.Account,
		SettlementSignature: cached.Signature,
		Now:                 time.Now(),
	}
	c.advanceMachine(machine, cached.Phase, ev)

	c.trackResolving(cached)
}

// advanceMachine walks the machine along validated transitions toward the
// observed phase. Steps whose guards fail are left for the recovery path;
// the machine never jumps without evidence.
func (c *FlipClient) advanceMachine(machine *game.StateMachine, target game.Phase, ev game.TransitionEvidence) {
	switch target {
	case game.PhaseIdle:
		return
	case game.PhaseAbandoned:
		if machine.Phase() != target {
			_ = machine.Transition(target, ev)
		}
		return
	case game.PhaseTimedOut:
		// Reach the game's live phase first so the timeout edge exists
		if ev.Account != nil {
			c.climbTo(machine, ev.Account.Phase(), ev)
		}
		if machine.Phase() != target {
			_ = machine.Transition(target, ev)
		}
		return
	}

	if machine.Phase() == game.PhaseTimedOut {
		if target == game.PhaseResolved {
			_ = machine.Transition(game.PhaseResolved, ev)
		}
		return
	}
	c.climbTo(machine, target, ev)
}

// climbTo steps the machine up the normal lifecycle ladder toward target,
// stopping at the first transition whose guard fails.
func (c *FlipClient) climbTo(machine *game.StateMachine, target game.Phase, ev game.TransitionEvidence) {
	ladder := []game.Phase{
		game.PhaseWaiting,
		game.PhaseSelecting,
		game.PhaseRevealing,
		game.PhaseResolving,
		game.PhaseResolved,
	}
	for _, step := range ladder {
		if step > target || machine.Phase() >= step {
			continue
		}
		if err := machine.Transition(step, ev); err != nil {
			return
		}
	}
}

// trackResolving enrolls games stuck awaiting resolution into emergency
// tracking and releases them only on terminal phases. A timedOut game is
// still outstanding: its timeout settlement has not landed yet, so it keeps
// its tracking until the ledger reports resolved (or the user abandons).
func (c *FlipClient) trackResolving(cached *cache.CachedGame) {
	c.mu.Lock()
	since, seen := c.resolvingSince[cached.GameID]
	if cached.Phase == game.PhaseResolving && !seen {
		since = time.Now()
		c.resolvingSince[cached.GameID] = since
		seen = true
	}
	if cached.Phase == game.PhaseResolved || cached.Phase == game.PhaseAbandoned {
		delete(c.resolvingSince, cached.GameID)
	}
	c.mu.Unlock()

	outstanding := cached.Phase == game.PhaseResolving ||
		(cached.Phase == game.PhaseTimedOut && seen)

	switch {
	case outstanding:
		oracle := ""
		if account, err := c.vrfManager.SelectBestAccount(); err == nil {
			oracle = account
		}
		c.fallback.ObserveOutstanding(cached.GameID, cached.GamePDA.String(), oracle, since)
	case cached.Phase == game.PhaseResolved:
		c.fallback.MarkResolved(cached.GameID)
	case cached.Phase == game.PhaseAbandoned:
		c.fallback.MarkAbandoned(cached.GameID)
	}
}

// maintenanceLoop sweeps stale terminal cache entries.
func (c *FlipClient) maintenanceLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if removed := c.gameCache.Sweep(cacheSweepMaxAge); removed > 0 {
				c.log.Debug().Int("removed", removed).Msg("swept stale cache entries")
			}
		}
	}
}
