package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Terminal  TerminalConfig
	Backing   BackingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig holds allowed browser origins. "*" allows any origin.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// TerminalConfig controls the process manager.
type TerminalConfig struct {
	Program         string        `envconfig:"TERMINAL_PROGRAM" default:"shell"`
	OrphanTimeout   time.Duration `envconfig:"TERMINAL_ORPHAN_TIMEOUT" default:"5m"`
	MaxLifetime     time.Duration `envconfig:"TERMINAL_MAX_LIFETIME" default:"0s"`
	ScrollbackBytes int           `envconfig:"TERMINAL_SCROLLBACK_BYTES" default:"262144"`
	ProgramsFile    string        `envconfig:"TERMINAL_PROGRAMS_FILE"`
}

// BackingConfig controls the tmux persistence backing.
type BackingConfig struct {
	Enabled     bool   `envconfig:"TMUX_ENABLED" default:"true"`
	Binary      string `envconfig:"TMUX_BINARY" default:"tmux"`
	Socket      string `envconfig:"TMUX_SOCKET"`
	Prefix      string `envconfig:"TMUX_PREFIX" default:"termhost"`
	Identity    string `envconfig:"TMUX_IDENTITY"`
	SyncOnStart bool   `envconfig:"SYNC_ON_START" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Terminal: TerminalConfig{
			Program:         "shell",
			OrphanTimeout:   5 * time.Minute,
			ScrollbackBytes: 256 * 1024,
		},
		Backing: BackingConfig{
			Enabled: true,
			Binary:  "tmux",
			Prefix:  "termhost",
		},
	}
}

// Validate rejects settings the manager cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Terminal.OrphanTimeout < 0 {
		errs = append(errs, fmt.Errorf("TERMINAL_ORPHAN_TIMEOUT must not be negative"))
	}
	if c.Terminal.MaxLifetime < 0 {
		errs = append(errs, fmt.Errorf("TERMINAL_MAX_LIFETIME must not be negative"))
	}
	if c.Terminal.ScrollbackBytes < 0 {
		errs = append(errs, fmt.Errorf("TERMINAL_SCROLLBACK_BYTES must not be negative"))
	}
	if strings.TrimSpace(c.Terminal.Program) == "" {
		errs = append(errs, fmt.Errorf("TERMINAL_PROGRAM is required"))
	}
	if c.Backing.Enabled && strings.TrimSpace(c.Backing.Prefix) == "" {
		errs = append(errs, fmt.Errorf("TMUX_PREFIX is required when tmux is enabled"))
	}
	if strings.ContainsAny(c.Backing.Prefix, ".: ") {
		errs = append(errs, fmt.Errorf("TMUX_PREFIX must not contain '.', ':' or spaces"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
