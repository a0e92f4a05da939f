package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/ingestion"
	"LedgerStats/internal/persistence"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STATS_STORE_DSN.
const EnvPrefix = "STATS"

// Config is the complete service configuration.
type Config struct {
	Feed       FeedConfig       `mapstructure:"feed"`
	Store      StoreConfig      `mapstructure:"store"`
	Persist    PersistConfig    `mapstructure:"persist"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Server     ServerConfig     `mapstructure:"server"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// FeedConfig points at the JetStream event feed.
type FeedConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Stream        string        `mapstructure:"stream"`
	Durable       string        `mapstructure:"durable"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
	Publish       bool          `mapstructure:"publish"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type PersistConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// CheckpointConfig schedules full-state checkpoints.
type CheckpointConfig struct {
	Schedule   string `mapstructure:"schedule"`
	Keep       int    `mapstructure:"keep"`
	OnShutdown bool   `mapstructure:"on_shutdown"`
}

type ServerConfig struct {
	GRPCAddr      string        `mapstructure:"grpc_addr"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	InjectEnabled bool          `mapstructure:"inject_enabled"`
	InjectTimeout time.Duration `mapstructure:"inject_timeout"`
}

type EngineConfig struct {
	AllowGaps          bool `mapstructure:"allow_gaps"`
	LRUCapacity        int  `mapstructure:"lru_capacity"`
	WarmIDs            int  `mapstructure:"warm_ids"`
	ParallelThreshold  int  `mapstructure:"parallel_threshold"`
	Workers            int  `mapstructure:"workers"`
	PersistChanSize    int  `mapstructure:"persist_chan_size"`
	ProjectionChanSize int  `mapstructure:"projection_chan_size"`
	PublishChanSize    int  `mapstructure:"publish_chan_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional YAML file and STATS_*
// environment variables. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.url", "nats://localhost:4222")
	v.SetDefault("feed.stream", ingestion.StreamName)
	v.SetDefault("feed.durable", "ledger-stats")
	v.SetDefault("feed.ack_wait", "30s")
	v.SetDefault("feed.max_ack_pending", 256)
	v.SetDefault("feed.publish", true)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./data/ledger-stats.db")
	v.SetDefault("store.max_open_conns", 20)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "5m")

	v.SetDefault("persist.batch_size", 50)
	v.SetDefault("persist.flush_timeout", "10ms")

	v.SetDefault("checkpoint.schedule", "@every 5m")
	v.SetDefault("checkpoint.keep", 3)
	v.SetDefault("checkpoint.on_shutdown", true)

	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.inject_enabled", true)
	v.SetDefault("server.inject_timeout", "10s")

	v.SetDefault("engine.allow_gaps", false)
	v.SetDefault("engine.lru_capacity", 1_000_000)
	v.SetDefault("engine.warm_ids", 10_000)
	v.SetDefault("engine.parallel_threshold", 512)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.persist_chan_size", 1024)
	v.SetDefault("engine.projection_chan_size", 2048)
	v.SetDefault("engine.publish_chan_size", 4096)

	v.SetDefault("logging.level", "info")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if c.Feed.Enabled {
		check(c.Feed.URL != "", "feed.url is required when the feed is enabled")
		check(c.Feed.Stream != "", "feed.stream is required")
		check(c.Feed.Durable != "", "feed.durable is required")
		check(c.Feed.AckWait >= time.Second, "feed.ack_wait must be at least 1s")
		check(c.Feed.MaxAckPending > 0, "feed.max_ack_pending must be positive")
	}

	_, err := persistence.ParseDialect(c.Store.Driver)
	check(err == nil && c.Store.Driver != "", "store.driver must be one of: postgres, sqlite")
	check(c.Store.DSN != "", "store.dsn is required")
	check(c.Store.MaxOpenConns > 0, "store.max_open_conns must be positive")
	check(c.Store.MaxIdleConns >= 0, "store.max_idle_conns must not be negative")

	check(c.Persist.BatchSize > 0, "persist.batch_size must be positive")
	check(c.Persist.FlushTimeout > 0, "persist.flush_timeout must be positive")

	check(c.Checkpoint.Schedule != "", "checkpoint.schedule is required")
	check(c.Checkpoint.Keep >= 1, "checkpoint.keep must be at least 1")

	check(c.Server.HTTPAddr != "", "server.http_addr is required")
	check(c.Server.GRPCAddr != "", "server.grpc_addr is required")
	check(c.Server.InjectTimeout > 0, "server.inject_timeout must be positive")

	check(c.Engine.LRUCapacity > 0, "engine.lru_capacity must be positive")
	check(c.Engine.WarmIDs >= 0, "engine.warm_ids must not be negative")
	check(c.Engine.Workers > 0, "engine.workers must be positive")
	check(c.Engine.ParallelThreshold > 0, "engine.parallel_threshold must be positive")
	check(c.Engine.PersistChanSize > 0 && c.Engine.ProjectionChanSize > 0 && c.Engine.PublishChanSize > 0,
		"engine channel sizes must be positive")

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	check(validLevels[strings.ToLower(c.Logging.Level)], "logging.level must be one of: debug, info, warn, error")

	return errors.Join(errs...)
}

// CoreConfig maps the engine section onto the engine's own config.
func (c *Config) CoreConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.AllowGaps = c.Engine.AllowGaps
	cfg.LRUCapacity = c.Engine.LRUCapacity
	cfg.Aggregate.ParallelThreshold = c.Engine.ParallelThreshold
	cfg.Aggregate.Workers = c.Engine.Workers
	return cfg
}

func (c *Config) PoolConfig() persistence.PoolConfig {
	return persistence.PoolConfig{
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime,
	}
}

func (c *Config) SubscriberConfig() ingestion.SubscriberConfig {
	sc := ingestion.DefaultSubscriberConfig()
	sc.Stream = c.Feed.Stream
	sc.Durable = c.Feed.Durable
	sc.AckWait = c.Feed.AckWait
	sc.MaxAckPending = c.Feed.MaxAckPending
	return sc
}
