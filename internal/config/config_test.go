package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	assert.Equal(t, "value", envStr("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", envStr("TEST_STR_MISSING", "fallback"))
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, envInt("TEST_INT", 0))
	assert.Equal(t, 99, envInt("TEST_INT_MISSING", 99))

	t.Setenv("TEST_INT_BAD", "abc")
	assert.Equal(t, 7, envInt("TEST_INT_BAD", 7))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	assert.Equal(t, 5*time.Second, envDuration("TEST_DUR", 0))
	assert.Equal(t, time.Minute, envDuration("TEST_DUR_MISSING", time.Minute))

	t.Setenv("TEST_DUR_BAD", "five-seconds")
	assert.Equal(t, time.Second, envDuration("TEST_DUR_BAD", time.Second))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 24, cfg.DefaultWindowH)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
}

func TestLoadSQLiteDriver(t *testing.T) {
	t.Setenv("MIERU_DB_DRIVER", "sqlite")
	t.Setenv("MIERU_SQLITE_PATH", ":memory:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, ":memory:", cfg.SQLitePath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.DBDriver = "mysql" },
			wantErr: "MIERU_DB_DRIVER",
		},
		{
			name:    "postgres without DSN",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.DBDriver = "sqlite"
				c.SQLitePath = ""
			},
			wantErr: "MIERU_SQLITE_PATH",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.TaskWorkers = 0 },
			wantErr: "MIERU_TASK_WORKERS",
		},
		{
			name:    "zero queue",
			mutate:  func(c *Config) { c.TaskQueueSize = 0 },
			wantErr: "MIERU_TASK_QUEUE_SIZE",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.DefaultWindowH = 0 },
			wantErr: "MIERU_DEFAULT_WINDOW_HOURS",
		},
		{
			name:    "zero body limit",
			mutate:  func(c *Config) { c.MaxRequestBodyBytes = 0 },
			wantErr: "MIERU_MAX_REQUEST_BODY_BYTES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
