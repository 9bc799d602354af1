// Package config provides configuration loading and management for the
// pipeline engine.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pipeline engine configuration
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Repo    RepoConfig    `yaml:"repo"`
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`
	Tools   ToolsConfig   `yaml:"tools"`
	Watch   WatchConfig   `yaml:"watch"`
}

// NATSConfig configures the NATS connection backing the state store
type NATSConfig struct {
	// URL is the NATS server URL (default: nats://127.0.0.1:4222)
	URL string `yaml:"url"`
	// Embedded starts an in-process NATS server instead of connecting to URL
	Embedded bool `yaml:"embedded"`
}

// RepoConfig configures the repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// BreakerConfig configures per-tool circuit breakers
type BreakerConfig struct {
	// FailureThreshold is the consecutive failures before a tool's breaker opens
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long an open breaker waits before a trial call
	Cooldown time.Duration `yaml:"cooldown"`
	// SuccessThreshold is the trial successes required to close a breaker
	SuccessThreshold int `yaml:"success_threshold"`
}

// RetryConfig configures task retry defaults
type RetryConfig struct {
	// MaxRetries is the default retry budget for tasks that don't set their own
	MaxRetries int `yaml:"max_retries"`
}

// ToolsConfig configures tool adapters
type ToolsConfig struct {
	// Registered lists the tool names to build subprocess adapters for
	Registered []string `yaml:"registered"`
	// Allowlist restricts executables adapters may launch (doublestar globs, empty = allow all)
	Allowlist []string `yaml:"allowlist"`
}

// WatchConfig configures the job spool watcher
type WatchConfig struct {
	// Enabled controls whether the spool directory is watched
	Enabled bool `yaml:"enabled"`
	// SpoolDir is the directory watched for job descriptor files
	SpoolDir string `yaml:"spool_dir"`
	// DebounceDelay is how long to wait for a file to settle before submitting
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
			SuccessThreshold: 2,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
		},
		Tools: ToolsConfig{
			Registered: []string{"shell"},
			Allowlist:  nil, // Allow all
		},
		Watch: WatchConfig{
			Enabled:       false,
			SpoolDir:      ".pipeline/jobs",
			DebounceDelay: 500 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats.url is required unless nats.embedded is set")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Watch.Enabled && c.Watch.SpoolDir == "" {
		return fmt.Errorf("watch.spool_dir is required when watching is enabled")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToWriter writes the configuration as YAML
func (c *Config) SaveToWriter(w io.Writer) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Embedded {
		c.NATS.Embedded = true
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// Breaker
	if other.Breaker.FailureThreshold != 0 {
		c.Breaker.FailureThreshold = other.Breaker.FailureThreshold
	}
	if other.Breaker.Cooldown != 0 {
		c.Breaker.Cooldown = other.Breaker.Cooldown
	}
	if other.Breaker.SuccessThreshold != 0 {
		c.Breaker.SuccessThreshold = other.Breaker.SuccessThreshold
	}

	// Retry
	if other.Retry.MaxRetries != 0 {
		c.Retry.MaxRetries = other.Retry.MaxRetries
	}

	// Tools
	if len(other.Tools.Registered) > 0 {
		c.Tools.Registered = other.Tools.Registered
	}
	if len(other.Tools.Allowlist) > 0 {
		c.Tools.Allowlist = other.Tools.Allowlist
	}

	// Watch
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.SpoolDir != "" {
		c.Watch.SpoolDir = other.Watch.SpoolDir
	}
	if other.Watch.DebounceDelay != 0 {
		c.Watch.DebounceDelay = other.Watch.DebounceDelay
	}
}
