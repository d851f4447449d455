package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Retry   RetryConfig   `toml:"retry"`
	Web     WebConfig     `toml:"web"`
}

// GeneralConfig holds orchestrator-wide settings
type GeneralConfig struct {
	HistoryDB        string `toml:"history_db"`
	ExecutorsFile    string `toml:"executors_file"`
	RetentionHours   int    `toml:"retention_hours"`
	EvictionSchedule string `toml:"eviction_schedule"`
}

// RetryConfig bounds stage executor retries
type RetryConfig struct {
	Attempts              int `toml:"attempts"`
	InitialBackoffSeconds int `toml:"initial_backoff_seconds"`
	MaxBackoffSeconds     int `toml:"max_backoff_seconds"`
}

// WebConfig holds the API server settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			HistoryDB:        filepath.Join(home, ".run-orchestrator", "history.db"),
			ExecutorsFile:    filepath.Join(home, ".config", "run-orchestrator", "executors.yaml"),
			RetentionHours:   24,
			EvictionSchedule: "*/10 * * * *",
		},
		Retry: RetryConfig{
			Attempts:              3,
			InitialBackoffSeconds: 1,
			MaxBackoffSeconds:     30,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8484,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.HistoryDB = ExpandPath(cfg.General.HistoryDB)
	cfg.General.ExecutorsFile = ExpandPath(cfg.General.ExecutorsFile)

	return cfg, nil
}

// Retention returns the retention window as a duration
func (c *Config) Retention() time.Duration {
	if c.General.RetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.General.RetentionHours) * time.Hour
}

// ListenAddr returns the host:port the API server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "run-orchestrator", "config.toml")
}
