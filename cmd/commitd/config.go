// config.go - Configuration management for commitd
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"privpool/internal/accumulator"
)

// Environment overrides, applied after the config file.
const (
	EnvSeed     = "COMMITD_SEED"
	EnvLogLevel = "COMMITD_LOG_LEVEL"
	EnvFeedURL  = "COMMITD_FEED_URL"
	EnvTreeURL  = "COMMITD_TREE_URL"
)

// Config represents the application configuration
type Config struct {
	// Storage
	LedgerPath string `json:"ledger_path"`
	TreePath   string `json:"tree_path"`
	TreeHeight int    `json:"tree_height"`
	ChunkSize  uint64 `json:"chunk_size"`

	// Remote accumulator and change feed
	ListenAddr     string `json:"listen_addr"`
	TreeURL        string `json:"tree_url"`
	FeedURL        string `json:"feed_url"`
	StorageAccount string `json:"storage_account"`

	// Per-client request budget of the served tree; 0 disables it.
	RateLimitBurst     int `json:"rate_limit_burst"`
	RateLimitPerSecond int `json:"rate_limit_per_second"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Performance
	MaxConcurrency      int `json:"max_concurrency"`
	AwaitTimeoutSeconds int `json:"await_timeout_seconds"`

	// Seed is hex and only ever read from the environment.
	Seed string `json:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LedgerPath:          "ledger.json",
		TreePath:            "tree.db",
		TreeHeight:          accumulator.DefaultHeight,
		ChunkSize:           accumulator.DefaultChunkSize,
		ListenAddr:          "127.0.0.1:8900",
		TreeURL:             "http://127.0.0.1:8900/tree",
		FeedURL:             "ws://127.0.0.1:8900/feed",
		StorageAccount:      accumulator.DefaultAccount,
		RateLimitBurst:      200,
		RateLimitPerSecond:  50,
		LogLevel:            "info",
		LogFile:             "",
		MaxConcurrency:      4,
		AwaitTimeoutSeconds: 0,
	}
}

// LoadConfig loads configuration from file or creates default, then applies
// environment overrides. envFile is loaded first if it exists.
func LoadConfig(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var config *Config
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config = DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	} else {
		// Create default config and save it
		config = DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	config.applyEnv(os.Getenv)
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvSeed); v != "" {
		c.Seed = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvFeedURL); v != "" {
		c.FeedURL = v
	}
	if v := getenv(EnvTreeURL); v != "" {
		c.TreeURL = v
	}
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if c.TreeHeight <= 0 || c.TreeHeight > 32 {
		return fmt.Errorf("tree_height must be in [1, 32]")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.StorageAccount == "" {
		return fmt.Errorf("storage_account must be set")
	}
	if c.RateLimitBurst < 0 || c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.AwaitTimeoutSeconds < 0 {
		return fmt.Errorf("await_timeout_seconds must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// AwaitTimeout is zero when waits are unbounded.
func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutSeconds) * time.Second
}
