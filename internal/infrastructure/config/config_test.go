package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Terminal config
	assert.Equal(t, "shell", cfg.Terminal.Program)
	assert.Equal(t, 5*time.Minute, cfg.Terminal.OrphanTimeout)
	assert.Zero(t, cfg.Terminal.MaxLifetime)
	assert.Equal(t, 256*1024, cfg.Terminal.ScrollbackBytes)

	// Backing config
	assert.True(t, cfg.Backing.Enabled)
	assert.Equal(t, "tmux", cfg.Backing.Binary)
	assert.Equal(t, "termhost", cfg.Backing.Prefix)
	assert.False(t, cfg.Backing.SyncOnStart)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                      "9000",
		"HOST":                      "127.0.0.1",
		"LOG_LEVEL":                 "debug",
		"LOG_DEV":                   "true",
		"RATE_LIMIT_RPS":            "500",
		"RATE_LIMIT_BURST":          "1000",
		"RATE_LIMIT_ENABLED":        "false",
		"CORS_ORIGINS":              "https://console.example.com,https://admin.example.com",
		"TERMINAL_PROGRAM":          "claude",
		"TERMINAL_ORPHAN_TIMEOUT":   "30s",
		"TERMINAL_MAX_LIFETIME":     "12h",
		"TERMINAL_SCROLLBACK_BYTES": "65536",
		"TERMINAL_PROGRAMS_FILE":    "/etc/termhost/programs.yaml",
		"TMUX_ENABLED":              "false",
		"TMUX_BINARY":               "/opt/bin/tmux",
		"TMUX_SOCKET":               "termhost-test",
		"TMUX_PREFIX":               "console",
		"TMUX_IDENTITY":             "user-42",
		"SYNC_ON_START":             "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://console.example.com", "https://admin.example.com"}, cfg.CORS.Origins)

	assert.Equal(t, "claude", cfg.Terminal.Program)
	assert.Equal(t, 30*time.Second, cfg.Terminal.OrphanTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Terminal.MaxLifetime)
	assert.Equal(t, 65536, cfg.Terminal.ScrollbackBytes)
	assert.Equal(t, "/etc/termhost/programs.yaml", cfg.Terminal.ProgramsFile)

	assert.False(t, cfg.Backing.Enabled)
	assert.Equal(t, "/opt/bin/tmux", cfg.Backing.Binary)
	assert.Equal(t, "termhost-test", cfg.Backing.Socket)
	assert.Equal(t, "console", cfg.Backing.Prefix)
	assert.Equal(t, "user-42", cfg.Backing.Identity)
	assert.True(t, cfg.Backing.SyncOnStart)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "TERMINAL_ORPHAN_TIMEOUT", "soon"},
		{"negative orphan timeout", "TERMINAL_ORPHAN_TIMEOUT", "-1s"},
		{"negative max lifetime", "TERMINAL_MAX_LIFETIME", "-1h"},
		{"empty prefix", "TMUX_PREFIX", " "},
		{"prefix with separator", "TMUX_PREFIX", "term:host"},
		{"zero rate", "RATE_LIMIT_RPS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back rather than failing.
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}

func TestValidateAllowsZeroOrphanTimeout(t *testing.T) {
	cfg := Default()
	cfg.Terminal.OrphanTimeout = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidatePrefixOnlyRequiredWithBacking(t *testing.T) {
	cfg := Default()
	cfg.Backing.Enabled = false
	cfg.Backing.Prefix = ""

	assert.NoError(t, cfg.Validate())
}
