// Package config loads and validates the flip client configuration.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
)

const (
	configSubdir   = "config"
	configFileName = "flipclient_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.ProgramID != "" {
		if err := validateBase58Key(cfg.ProgramID); err != nil {
			return fmt.Errorf("invalid program_id: %w", err)
		}
	}
	if cfg.PlayerAddress != "" {
		if err := validateBase58Key(cfg.PlayerAddress); err != nil {
			return fmt.Errorf("invalid player_address: %w", err)
		}
	}
	for _, acct := range cfg.VRFAccounts {
		if err := validateBase58Key(acct.PublicKey); err != nil {
			return fmt.Errorf("invalid vrf account %q: %w", acct.Name, err)
		}
	}

	if cfg.CommitmentLevel == "" {
		cfg.CommitmentLevel = "confirmed"
	}
	switch cfg.CommitmentLevel {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("commitment level must be 'processed', 'confirmed' or 'finalized'")
	}

	// Set defaults for sync config
	if cfg.SyncIntervalSeconds == 0 {
		cfg.SyncIntervalSeconds = 5
	}
	if cfg.SyncMaxRetries == 0 {
		cfg.SyncMaxRetries = 3
	}
	if cfg.SyncRetryDelayMs == 0 {
		cfg.SyncRetryDelayMs = 500
	}

	// Set defaults for recovery config
	if cfg.RecoveryTimeoutSeconds == 0 {
		cfg.RecoveryTimeoutSeconds = 30
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 3
	}
	if cfg.BreakerCooldownSeconds == 0 {
		cfg.BreakerCooldownSeconds = 60
	}

	// Set defaults for VRF config
	if cfg.VRFProbeIntervalSeconds == 0 {
		cfg.VRFProbeIntervalSeconds = 30
	}
	// Grace must fit inside the 30s selection window, or a stuck game times
	// out before it ever enters emergency tracking.
	if cfg.VRFGracePeriodSeconds == 0 {
		cfg.VRFGracePeriodSeconds = 15
	}
	if cfg.VRFHardDeadlineSeconds == 0 {
		cfg.VRFHardDeadlineSeconds = 300
	}
	if cfg.VRFQuarantineSeconds == 0 {
		cfg.VRFQuarantineSeconds = 300
	}

	// Set defaults for cross-tab config
	if cfg.TabHeartbeatMs == 0 {
		cfg.TabHeartbeatMs = 1000
	}
	if cfg.TabLeaderTimeoutMs == 0 {
		cfg.TabLeaderTimeoutMs = 3000
	}

	// Set defaults for RPC pool config
	if cfg.RPCPool.HealthCheckIntervalSeconds == 0 {
		cfg.RPCPool.HealthCheckIntervalSeconds = 30
	}
	if cfg.RPCPool.UnhealthyThreshold == 0 {
		cfg.RPCPool.UnhealthyThreshold = 3
	}
	if cfg.RPCPool.RecoveryIntervalSeconds == 0 {
		cfg.RPCPool.RecoveryIntervalSeconds = 300
	}
	if cfg.RPCPool.MinHealthyEndpoints == 0 {
		cfg.RPCPool.MinHealthyEndpoints = 1
	}
	if cfg.RPCPool.RequestTimeoutSeconds == 0 {
		cfg.RPCPool.RequestTimeoutSeconds = 10
	}
	if cfg.RPCPool.LoadBalancingStrategy == "" {
		cfg.RPCPool.LoadBalancingStrategy = "round-robin"
	}

	// Validate load balancing strategy
	if cfg.RPCPool.LoadBalancingStrategy != "round-robin" &&
		cfg.RPCPool.LoadBalancingStrategy != "weighted" {
		return fmt.Errorf("load balancing strategy must be 'round-robin' or 'weighted'")
	}

	if len(cfg.LedgerRPCURLs) == 0 {
		cfg.LedgerRPCURLs = []string{"http://localhost:8899"}
	}

	return nil
}

// validateBase58Key checks that a configured account id decodes to a 32-byte key.
func validateBase58Key(key string) error {
	raw, err := base58.Decode(key)
	if err != nil {
		return fmt.Errorf("not valid base58: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("decoded key is %d bytes, want 32", len(raw))
	}
	return nil
}

// Save writes the given config to <basePath>/config/flipclient_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config from <basePath>/config/flipclient_config.json,
// falling back to the embedded defaults when no file exists. The returned
// config is always validated with defaults filled in.
func Load(basePath string) (*Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return LoadDefaultConfig()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}
