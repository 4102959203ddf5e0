package config

import (
	"fmt"
	"time"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome     string `json:"node_home"`      // Node home directory (default: ~/.pvault)
	LocalPartyID string `json:"local_party_id"` // Party id announced to the relay (e.g. "iPhone-5C9")

	// Relay / mediator configuration
	RelayURL          string `json:"relay_url"`           // Public relay used when a session sets useVultisigRelay
	MediatorPort      int    `json:"mediator_port"`       // Port of the local mediator on the initiating device (default: 18080)
	ServiceNamePrefix string `json:"service_name_prefix"` // Prefix for mdns service names of sessions started here

	// Threshold engine
	EngineBackend    string `json:"engine_backend"`    // Registered engine factory name
	EngineWorkers    int    `json:"engine_workers"`    // Worker pool size for blocking engine calls (default: 2)
	KeysharePassword string `json:"keyshare_password"` // Encryption password for local key-share state

	// Ceremony timing
	RoundMaxAttempts          int `json:"round_max_attempts"`           // Attempts per cryptographic round (default: 3)
	RoundRetryBackoffSeconds  int `json:"round_retry_backoff_seconds"`  // Fixed backoff between round attempts (default: 1)
	StartPollIntervalSeconds  int `json:"start_poll_interval_seconds"`  // Poll interval while waiting for the session start (default: 1)
	QuorumPollIntervalSeconds int `json:"quorum_poll_interval_seconds"` // Poll interval while waiting for completion quorum (default: 1)
	QuorumMaxAttempts         int `json:"quorum_max_attempts"`          // Completion quorum polls before timing out (default: 60)
	MessagePullIntervalMillis int `json:"message_pull_interval_millis"` // Relay message poll interval (default: 1000)
	DedupCacheSize            int `json:"dedup_cache_size"`             // Inbound message dedup cache entries (default: 4096)

	// Status Server Config
	StatusServerPort int `json:"status_server_port"` // Port for HTTP status server (default: 8090)

	// Unified per-chain configuration
	ChainConfigs map[string]ChainSpecificConfig `json:"chain_configs"` // Map of chain name to all chain-specific settings
}

// ChainSpecificConfig holds all chain-specific configuration in one place
type ChainSpecificConfig struct {
	// RPC Configuration
	RPCURLs []string `json:"rpc_urls,omitempty"` // RPC endpoints for this chain

	// EVM
	EVMChainID *int64 `json:"evm_chain_id,omitempty"` // EIP-155 chain id

	// Cosmos-SDK
	CosmosChainID string `json:"cosmos_chain_id,omitempty"` // e.g. cosmoshub-4
	Denom         string `json:"denom,omitempty"`           // Fee and transfer denom
	Bech32Prefix  string `json:"bech32_prefix,omitempty"`   // Account address prefix
	FeeAmount     *int64 `json:"fee_amount,omitempty"`      // Flat fee in denom units

	// UTXO node RPC credentials
	RPCUser     string `json:"rpc_user,omitempty"`
	RPCPassword string `json:"rpc_password,omitempty"`
}

// GetChainConfig returns the complete configuration for a specific chain
func (c *Config) GetChainConfig(chain string) *ChainSpecificConfig {
	if c.ChainConfigs != nil {
		if config, ok := c.ChainConfigs[chain]; ok {
			return &config
		}
	}
	// Return empty config if not found
	return &ChainSpecificConfig{}
}

// GetEVMChainID returns the EIP-155 chain id configured for an EVM chain.
func (c *Config) GetEVMChainID(chain string) (int64, error) {
	cfg := c.GetChainConfig(chain)
	if cfg.EVMChainID == nil {
		return 0, fmt.Errorf("evm_chain_id is required for chain %s", chain)
	}
	return *cfg.EVMChainID, nil
}

// RoundRetryBackoff returns the backoff between round attempts.
func (c *Config) RoundRetryBackoff() time.Duration {
	return time.Duration(c.RoundRetryBackoffSeconds) * time.Second
}

// StartPollInterval returns the poll interval of the start-wait loop.
func (c *Config) StartPollInterval() time.Duration {
	return time.Duration(c.StartPollIntervalSeconds) * time.Second
}

// QuorumPollInterval returns the poll interval of the completion-quorum loop.
func (c *Config) QuorumPollInterval() time.Duration {
	return time.Duration(c.QuorumPollIntervalSeconds) * time.Second
}

// MessagePullInterval returns the relay message poll interval.
func (c *Config) MessagePullInterval() time.Duration {
	return time.Duration(c.MessagePullIntervalMillis) * time.Millisecond
}
