package config

// Config is the root configuration for the flip client engine.
// All interval knobs are stored as seconds so the JSON file stays flat.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	DataDir string `json:"data_dir"` // Where the cache database lives (default: ~/.flipclient)

	// Ledger configuration
	ProgramID       string   `json:"program_id"`        // Coin-flip program address (base58)
	HouseWallet     string   `json:"house_wallet"`      // House fee wallet address (base58)
	GenesisHash     string   `json:"genesis_hash"`      // Expected cluster genesis hash (empty disables the check)
	LedgerRPCURLs   []string `json:"ledger_rpc_urls"`   // Solana JSON-RPC endpoints
	PlayerAddress   string   `json:"player_address"`    // Wallet public address used as playerAddress
	CommitmentLevel string   `json:"commitment_level"`  // "processed", "confirmed" or "finalized"

	// Sync configuration
	SyncIntervalSeconds int `json:"sync_interval_seconds"` // Poll interval for tracked games (default: 5)
	SyncMaxRetries      int `json:"sync_max_retries"`      // Per-game retry budget before marking degraded (default: 3)
	SyncRetryDelayMs    int `json:"sync_retry_delay_ms"`   // Initial per-game retry delay (default: 500)

	// Recovery configuration
	RecoveryTimeoutSeconds  int `json:"recovery_timeout_seconds"`  // Hard per-operation timeout (default: 30)
	BreakerFailureThreshold int `json:"breaker_failure_threshold"` // Consecutive failures before the breaker opens (default: 3)
	BreakerCooldownSeconds  int `json:"breaker_cooldown_seconds"`  // Cool-down before automatic calls resume (default: 60)

	// VRF configuration
	VRFAccounts             []VRFAccountConfig `json:"vrf_accounts"`               // Oracle account pool
	VRFProbeIntervalSeconds int                `json:"vrf_probe_interval_seconds"` // Health probe cadence (default: 30)
	VRFGracePeriodSeconds   int                `json:"vrf_grace_period_seconds"`   // Outstanding-request grace before emergency tracking (default: 15, inside the selection window)
	VRFHardDeadlineSeconds  int                `json:"vrf_hard_deadline_seconds"`  // Emergency hard deadline (default: 300)
	VRFQuarantineSeconds    int                `json:"vrf_quarantine_seconds"`     // Oracle cool-down after quarantine (default: 300)

	// Cross-tab configuration
	TabHeartbeatMs     int `json:"tab_heartbeat_ms"`      // Heartbeat cadence (default: 1000)
	TabLeaderTimeoutMs int `json:"tab_leader_timeout_ms"` // Heartbeat silence before re-election (default: 3000)

	// RPC pool configuration
	RPCPool RPCPoolConfig `json:"rpc_pool"`
}

// VRFAccountConfig describes one oracle account in the pool.
type VRFAccountConfig struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"` // base58
	Priority  int    `json:"priority"`   // Lower is preferred
}

// RPCPoolConfig configures the ledger RPC endpoint pool.
type RPCPoolConfig struct {
	HealthCheckIntervalSeconds int    `json:"health_check_interval_seconds"` // default: 30
	UnhealthyThreshold         int    `json:"unhealthy_threshold"`           // Consecutive failures before exclusion (default: 3)
	RecoveryIntervalSeconds    int    `json:"recovery_interval_seconds"`     // default: 300
	MinHealthyEndpoints        int    `json:"min_healthy_endpoints"`         // default: 1
	RequestTimeoutSeconds      int    `json:"request_timeout_seconds"`       // default: 10
	LoadBalancingStrategy      string `json:"load_balancing_strategy"`       // "round-robin" or "weighted"
}
