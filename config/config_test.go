package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Port:            "8080",
		DBPath:          ":memory:",
		LogLevel:        "info",
		LogFormat:       "json",
		Currency:        "PHP",
		ShutdownTimeout: 30 * time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errorString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			wantErr:     true,
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Port = "70000" },
			wantErr:     true,
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "empty database path",
			mutate:      func(c *Config) { c.DBPath = "" },
			wantErr:     true,
			errorString: "database path cannot be empty",
		},
		{
			name:        "missing database directory",
			mutate:      func(c *Config) { c.DBPath = "/does/not/exist/split.db" },
			wantErr:     true,
			errorString: "database directory '/does/not/exist' does not exist",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.LogLevel = "loud" },
			wantErr:     true,
			errorString: "invalid log level 'loud'",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.LogFormat = "xml" },
			wantErr:     true,
			errorString: "invalid log format 'xml'",
		},
		{
			name:        "invalid currency",
			mutate:      func(c *Config) { c.Currency = "XXXX" },
			wantErr:     true,
			errorString: "invalid currency 'XXXX'",
		},
		{
			name:        "shutdown timeout too short",
			mutate:      func(c *Config) { c.ShutdownTimeout = 10 * time.Millisecond },
			wantErr:     true,
			errorString: "invalid shutdown timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestConfig_Validate_ReportsAllProblems(t *testing.T) {
	// GIVEN: A config with three independent problems
	cfg := validConfig()
	cfg.Port = "abc"
	cfg.LogFormat = "xml"
	cfg.Currency = "nope"

	// WHEN: Validating
	err := cfg.Validate()

	// THEN: Every problem is listed
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
	assert.Contains(t, err.Error(), "invalid log format")
	assert.Contains(t, err.Error(), "invalid currency")
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "CURRENCY", "ALLOWED_ORIGINS", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "split.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "PHP", cfg.Currency)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Len(t, cfg.AllowedOrigins, 2)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "human")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")

	cfg := Load()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, "human", cfg.LogFormat)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// GIVEN: A .env file in the working directory and no PORT in the environment
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9090\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	// WHEN: Loading
	cfg := Load()

	// THEN: The file value is used
	assert.Equal(t, "9090", cfg.Port)
}

func TestConfig_Level_FallsBackToInfo(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "bogus"
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}
