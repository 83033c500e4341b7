package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration stored as a string ("10s", "24h") in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the server configuration
type Config struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	DatabasePath   string   `toml:"database_path"`
	UploadDir      string   `toml:"upload_dir"`
	JWTSecret      string   `toml:"jwt_secret"`
	TokenTTL       Duration `toml:"token_ttl"`
	TypingTimeout  Duration `toml:"typing_timeout"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	HistoryLimit   int      `toml:"history_limit"`
	LogLevel       string   `toml:"log_level"`
	Debug          bool     `toml:"debug"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		DatabasePath:   "huddle.db",
		UploadDir:      "uploads",
		TokenTTL:       Duration{24 * time.Hour},
		TypingTimeout:  Duration{10 * time.Second},
		MaxUploadBytes: 25 << 20,
		HistoryLimit:   100,
		LogLevel:       "info",
		Debug:          false,
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters (set it in the config or HUDDLE_JWT_SECRET)"))
	}
	if c.TokenTTL.Duration <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.TypingTimeout.Duration <= 0 {
		errs = append(errs, errors.New("typing_timeout must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("history_limit must be positive"))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a TOML file over the defaults
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveConfig writes the configuration as TOML
func SaveConfig(path string, config *Config) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
