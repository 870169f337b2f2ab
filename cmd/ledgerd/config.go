// config.go - Configuration management for the ledger daemon
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	// Storage
	DataDir string `yaml:"data_dir"`

	// Transfer proofs
	ProvingKeyPath   string `yaml:"proving_key_path"`
	VerifyingKeyPath string `yaml:"verifying_key_path"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Performance
	MaxConcurrency int `yaml:"max_concurrency"`
	SnapshotEvery  int `yaml:"snapshot_every"`

	// Security
	EnableAudit  bool   `yaml:"enable_audit"`
	AuditLogPath string `yaml:"audit_log_path"`

	// Metrics summary written after each command, empty to disable
	MetricsPath string `yaml:"metrics_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:          "ledger",
		ProvingKeyPath:   "keys/transfer.pk",
		VerifyingKeyPath: "keys/transfer.vk",
		LogLevel:         "info",
		LogFile:          "ledgerd.log",
		MaxConcurrency:   4,
		SnapshotEvery:    1,
		EnableAudit:      true,
		AuditLogPath:     "audit.log",
		MetricsPath:      "metrics.yaml",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	// Try to load from file
	if _, err := os.Stat(configPath); err == nil {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		config := DefaultConfig()
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		return config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.ProvingKeyPath == "" || c.VerifyingKeyPath == "" {
		return fmt.Errorf("proving_key_path and verifying_key_path must be set")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.SnapshotEvery <= 0 {
		return fmt.Errorf("snapshot_every must be positive")
	}
	if c.EnableAudit && c.AuditLogPath == "" {
		return fmt.Errorf("audit_log_path must be set when enable_audit is true")
	}
	return nil
}
