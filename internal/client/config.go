package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the client's saved state in ~/.huddle/client.toml
type Config struct {
	Server           string `toml:"server"`
	Email            string `toml:"email,omitempty"`
	Token            string `toml:"token,omitempty"`
	LastTeam         string `toml:"last_team,omitempty"`
	TypingIntervalMS int    `toml:"typing_interval_ms"`
	RequestTimeoutS  int    `toml:"request_timeout_seconds"`
	HistoryLimit     int    `toml:"history_limit"`
	DownloadDir      string `toml:"download_dir"`
	Theme            string `toml:"theme"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	downloads := "."
	if home, err := os.UserHomeDir(); err == nil {
		downloads = filepath.Join(home, "Downloads")
	}
	return &Config{
		Server:           "http://localhost:8080",
		TypingIntervalMS: int(DefaultTypingInterval / time.Millisecond),
		RequestTimeoutS:  int(DefaultRequestTimeout / time.Second),
		HistoryLimit:     100,
		DownloadDir:      downloads,
		Theme:            "dracula",
	}
}

// SessionConfig converts the saved settings for NewSession
func (c *Config) SessionConfig() SessionConfig {
	return SessionConfig{
		ServerAddr:     c.Server,
		TypingInterval: time.Duration(c.TypingIntervalMS) * time.Millisecond,
		RequestTimeout: time.Duration(c.RequestTimeoutS) * time.Second,
		HistoryLimit:   c.HistoryLimit,
	}
}

// ConfigManager handles loading and saving the client configuration
type ConfigManager struct {
	path string
	mu   sync.RWMutex
}

// NewConfigManager creates a manager for dir/client.toml. An empty dir
// means ~/.huddle.
func NewConfigManager(dir string) (*ConfigManager, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".huddle")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &ConfigManager{path: filepath.Join(dir, "client.toml")}, nil
}

// Path returns the config file location
func (cm *ConfigManager) Path() string {
	return cm.path
}

// Load reads the config, returning defaults if the file does not exist
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config := DefaultConfig()
	data, err := os.ReadFile(cm.path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return config, nil
}

// Save writes the config atomically. The file holds a bearer token, so it
// is readable by the owner only.
func (cm *ConfigManager) Save(config *Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}

	tempFile := cm.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}

	if err := os.Rename(tempFile, cm.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save client config: %w", err)
	}
	return nil
}
