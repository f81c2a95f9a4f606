// Package config loads veloxdb settings from defaults, a YAML file and VELOXDB_
// environment variables, and turns them into provider and connection options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/syssam/veloxdb/dialect/sql"
	"github.com/syssam/veloxdb/entityclient"
	"github.com/syssam/veloxdb/querycache"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "VELOXDB_"

// Config holds the veloxdb settings.
type Config struct {
	// Connections maps the targets of name= connection strings.
	Connections   map[string]string `koanf:"connections" yaml:"connections,omitempty"`
	QueryCache    QueryCacheConfig  `koanf:"query_cache" yaml:"query_cache"`
	Retry         RetryConfig       `koanf:"retry" yaml:"retry"`
	Logging       LoggingConfig     `koanf:"logging" yaml:"logging"`
	SlowThreshold time.Duration     `koanf:"slow_threshold" yaml:"slow_threshold"`
}

// QueryCacheConfig configures the compiled definition cache.
type QueryCacheConfig struct {
	Size    int  `koanf:"size" yaml:"size"`
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

// RetryConfig configures the retrying execution strategy. Zero attempts disables it.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay" yaml:"max_delay"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// sections are the top-level keys whose children may be set from the environment.
var sections = []string{"connections", "query_cache", "retry", "logging"}

func defaults() map[string]any {
	return map[string]any{
		"query_cache.size":    querycache.DefaultSize,
		"query_cache.enabled": true,
		"retry.max_attempts":  0,
		"retry.base_delay":    "100ms",
		"retry.max_delay":     "5s",
		"logging.level":       "info",
		"slow_threshold":      sql.DefaultSlowThreshold.String(),
	}
}

// Load reads the configuration. Priority: defaults < file < environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps VELOXDB_QUERY_CACHE_SIZE to query_cache.size and
// VELOXDB_CONNECTIONS_NORTHWIND to connections.northwind.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok && rest != "" {
			return sec + "." + rest
		}
	}
	return key
}

// Validate reports settings that cannot be applied.
func (c *Config) Validate() error {
	if c.QueryCache.Size < 0 {
		return fmt.Errorf("config: query_cache.size must not be negative, got %d", c.QueryCache.Size)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("config: retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("config: retry.base_delay %s exceeds retry.max_delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for name, cs := range c.Connections {
		if strings.TrimSpace(cs) == "" {
			return fmt.Errorf("config: connection %q is empty", name)
		}
	}
	return nil
}

// ConnectionString implements entityclient.NamedConnections.
func (c *Config) ConnectionString(name string) (string, bool) {
	cs, ok := c.Connections[name]
	if !ok {
		// Environment keys are lower-cased.
		cs, ok = c.Connections[strings.ToLower(name)]
	}
	return cs, ok
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return l, fmt.Errorf("config: logging.level: %w", err)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	l, err := c.Level()
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// ProviderOptions returns the dialect/sql provider options of c.
func (c *Config) ProviderOptions(logger *slog.Logger) []sql.Option {
	opts := []sql.Option{sql.WithSlowThreshold(c.SlowThreshold)}
	if logger != nil {
		opts = append(opts, sql.WithLogger(logger), sql.WithSlowQueryLog())
	}
	if c.Retry.MaxAttempts > 0 {
		opts = append(opts, sql.WithRetry(c.Retry.MaxAttempts, c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	return opts
}

// ConnectionOptions returns the entityclient options of c. The definition cache is
// created once, so the options can be shared by every connection.
func (c *Config) ConnectionOptions(logger *slog.Logger) []entityclient.Option {
	opts := []entityclient.Option{
		entityclient.WithNamedConnections(c),
		entityclient.WithPlanCaching(c.QueryCache.Enabled),
	}
	var copts []entityclient.CacheOption
	if logger != nil {
		opts = append(opts, entityclient.WithLogger(logger))
		copts = append(copts, entityclient.WithCacheLogger(logger))
	}
	if c.QueryCache.Enabled {
		opts = append(opts, entityclient.WithDefinitionCache(entityclient.NewDefinitionCache(c.QueryCache.Size, copts...)))
	}
	return opts
}

// Marshal returns c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yamlv3.Marshal(c)
}

var _ entityclient.NamedConnections = (*Config)(nil)
