package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configSubdir   = "config"
	configFileName = "pvault_config.json"
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

	// Set defaults for relay / mediator
	if cfg.MediatorPort == 0 {
		cfg.MediatorPort = 18080
	}
	if cfg.ServiceNamePrefix == "" {
		cfg.ServiceNamePrefix = "VultisigApp"
	}

	// Set defaults for engine
	if cfg.EngineWorkers == 0 {
		cfg.EngineWorkers = 2
	}

	// Set defaults for ceremony timing
	if cfg.RoundMaxAttempts == 0 {
		cfg.RoundMaxAttempts = 3
	}
	if cfg.RoundRetryBackoffSeconds == 0 {
		cfg.RoundRetryBackoffSeconds = 1
	}
	if cfg.StartPollIntervalSeconds == 0 {
		cfg.StartPollIntervalSeconds = 1
	}
	if cfg.QuorumPollIntervalSeconds == 0 {
		cfg.QuorumPollIntervalSeconds = 1
	}
	if cfg.QuorumMaxAttempts == 0 {
		cfg.QuorumMaxAttempts = 60
	}
	if cfg.MessagePullIntervalMillis == 0 {
		cfg.MessagePullIntervalMillis = 1000
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = 4096
	}

	if cfg.RoundMaxAttempts < 0 || cfg.QuorumMaxAttempts < 0 {
		return fmt.Errorf("attempt limits must be positive")
	}

	// Set defaults for status server
	if cfg.StatusServerPort == 0 {
		cfg.StatusServerPort = 8090
	}

	// Initialize ChainConfigs if nil or empty
	if len(cfg.ChainConfigs) == 0 {
		// Load defaults from embedded config
		var defaultCfg Config
		if err := json.Unmarshal(defaultConfigJSON, &defaultCfg); err == nil {
			cfg.ChainConfigs = defaultCfg.ChainConfigs
		} else {
			cfg.ChainConfigs = make(map[string]ChainSpecificConfig)
		}
	}

	return nil
}

// Validate applies defaults and checks the given config.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <NodeDir>/config/pvault_config.json.
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

// Load reads and returns the config from <BasePath>/config/pvault_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}
