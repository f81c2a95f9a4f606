package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/querycache"
)

const northwind = `metadata=res://northwind;provider=sqlite;provider connection string="file:northwind.db"`

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "veloxdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, querycache.DefaultSize, cfg.QueryCache.Size)
	assert.True(t, cfg.QueryCache.Enabled)
	assert.Zero(t, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, sql.DefaultSlowThreshold, cfg.SlowThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Connections)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
connections:
  Northwind: '`+northwind+`'
query_cache:
  size: 50
  enabled: false
retry:
  max_attempts: 4
  base_delay: 20ms
  max_delay: 1s
logging:
  level: debug
slow_threshold: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.QueryCache.Size)
	assert.False(t, cfg.QueryCache.Enabled)
	assert.Equal(t, RetryConfig{MaxAttempts: 4, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}, cfg.Retry)
	assert.Equal(t, 250*time.Millisecond, cfg.SlowThreshold)

	cs, ok := cfg.ConnectionString("Northwind")
	require.True(t, ok)
	assert.Equal(t, northwind, cs)
	_, ok = cfg.ConnectionString("pubs")
	assert.False(t, ok)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "query_cache:\n  size: 50\n")
	t.Setenv("VELOXDB_QUERY_CACHE_SIZE", "75")
	t.Setenv("VELOXDB_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("VELOXDB_SLOW_THRESHOLD", "2s")
	t.Setenv("VELOXDB_CONNECTIONS_NORTHWIND", northwind)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.QueryCache.Size, "environment overrides the file")
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.SlowThreshold)
	cs, ok := cfg.ConnectionString("Northwind")
	require.True(t, ok)
	assert.Equal(t, northwind, cs)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"VELOXDB_QUERY_CACHE_SIZE", "query_cache.size"},
		{"VELOXDB_QUERY_CACHE_ENABLED", "query_cache.enabled"},
		{"VELOXDB_RETRY_BASE_DELAY", "retry.base_delay"},
		{"VELOXDB_LOGGING_LEVEL", "logging.level"},
		{"VELOXDB_CONNECTIONS_PUBS", "connections.pubs"},
		{"VELOXDB_SLOW_THRESHOLD", "slow_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"NegativeSize", "query_cache:\n  size: -1\n", "query_cache.size"},
		{"NegativeAttempts", "retry:\n  max_attempts: -2\n", "retry.max_attempts"},
		{"Delays", "retry:\n  base_delay: 2s\n  max_delay: 1s\n", "exceeds"},
		{"Level", "logging:\n  level: loud\n", "logging.level"},
		{"EmptyConnection", "connections:\n  pubs: ''\n", `connection "pubs" is empty`},
		{"Duration", "slow_threshold: soon\n", "decoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestMarshal(t *testing.T) {
	cfg, err := Load(writeFile(t, t.TempDir(), "connections:\n  pubs: '"+northwind+"'\nslow_threshold: 3s\n"))
	require.NoError(t, err)
	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "slow_threshold: 3s")

	// Marshaled output loads back to the same configuration.
	back, err := Load(writeFile(t, t.TempDir(), string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestOptions(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.ProviderOptions(nil), 1)
	assert.Len(t, cfg.ConnectionOptions(nil), 3)

	cfg.Retry.MaxAttempts = 2
	cfg.QueryCache.Enabled = false
	logger := slog.New(slog.DiscardHandler)
	assert.Len(t, cfg.ProviderOptions(logger), 4)
	assert.Len(t, cfg.ConnectionOptions(logger), 3)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	l := cfg.Logger(&buf)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "query_cache:\n  size: 10\n")
	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, nil)
	}()

	// Writes are repeated until the watcher, which starts asynchronously, sees one.
	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-reloaded:
			return true
		default:
			writeFile(t, dir, "query_cache:\n  size: 20\n")
			return false
		}
	}, 5*time.Second, 4*DebounceDelay)
	assert.Equal(t, 20, got.QueryCache.Size)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "query_cache:\n  size: 10\n")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reloaded := make(chan *Config, 16)
	go func() { _ = Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, logger) }()

	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-reloaded:
			return true
		default:
			writeFile(t, dir, "query_cache:\n  size: -5\n")
			writeFile(t, dir, "query_cache:\n  size: 30\n")
			return false
		}
	}, 5*time.Second, 4*DebounceDelay)
	assert.Equal(t, 30, got.QueryCache.Size, "only valid files are delivered")
}

func TestWatchMissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "veloxdb.yaml"), func(*Config) {}, nil)
	require.Error(t, err)
}
