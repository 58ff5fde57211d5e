// Package config loads harvester configuration from defaults, an optional
// YAML file, and HARVESTER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the harvester service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Session    SessionConfig    `mapstructure:"session"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Events     EventsConfig     `mapstructure:"events"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig controls API-key authentication for mutating endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap profile.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HarvestConfig sizes the job engine. Concurrency is how many jobs run at
// once; CandidateWorkers is how many loops share one job's frontier.
type HarvestConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	CandidateWorkers   int     `mapstructure:"candidate_workers"`
	QueueDepth         int     `mapstructure:"queue_depth"`
	JobTimeoutMinutes  int     `mapstructure:"job_timeout_minutes"`
	MaxArticlesDefault int     `mapstructure:"max_articles_default"`
	MaxDepthDefault    int     `mapstructure:"max_depth_default"`
	StallExpansions    int     `mapstructure:"stall_expansions"`
	BreakerWindow      int     `mapstructure:"breaker_window"`
	BreakerMinSamples  int     `mapstructure:"breaker_min_samples"`
	BreakerFailureRate float64 `mapstructure:"breaker_failure_rate"`
}

// QueueConfig selects the job queue backing. The memory backend keeps
// accepted jobs in process; pubsub makes them survive restarts.
type QueueConfig struct {
	Backend      string `mapstructure:"backend"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// FetchConfig tunes the lightweight HTTP probe tier.
type FetchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// HeadlessConfig tunes the rendered-browser tier.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	ScrollRounds       int  `mapstructure:"scroll_rounds"`
	ScrollPauseMs      int  `mapstructure:"scroll_pause_ms"`
	PromotionMinBytes  int  `mapstructure:"promotion_min_bytes"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// SessionConfig bounds browser session reuse.
type SessionConfig struct {
	MaxSessions      int    `mapstructure:"max_sessions"`
	RequestBudget    int    `mapstructure:"request_budget"`
	FingerprintsFile string `mapstructure:"fingerprints_file"`
}

// ProxyConfig controls the proxy rotator.
type ProxyConfig struct {
	File                  string `mapstructure:"file"`
	MaxFailures           int    `mapstructure:"max_failures"`
	CooldownSeconds       int    `mapstructure:"cooldown_seconds"`
	ProbeURL              string `mapstructure:"probe_url"`
	ProbeTimeoutSeconds   int    `mapstructure:"probe_timeout_seconds"`
	ExhaustionWaitSeconds int    `mapstructure:"exhaustion_wait_seconds"`
}

// PolitenessConfig spaces requests per network identity.
type PolitenessConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MinDelayMs int  `mapstructure:"min_delay_ms"`
	Burst      int  `mapstructure:"burst"`
}

// RetryConfig shapes transient-failure retries.
type RetryConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// DatabaseConfig selects and configures the article and job stores.
// Backend is one of "postgres", "sqlite", or "memory".
type DatabaseConfig struct {
	Backend            string `mapstructure:"backend"`
	DSN                string `mapstructure:"dsn"`
	Path               string `mapstructure:"path"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// StorageConfig selects and configures the raw-page blob store.
// Backend is one of "gcs", "local", or "memory".
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	ContentType string `mapstructure:"content_type"`
}

// RedisConfig enables the shared seen-URL cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// EventsConfig selects the outbound article-event publisher.
// Backend is one of "pubsub", "kafka", or "memory".
type EventsConfig struct {
	Backend   string   `mapstructure:"backend"`
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Brokers   []string `mapstructure:"brokers"`
}

// ProgressConfig tunes the in-process progress hub.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	MaxBatch      int  `mapstructure:"max_batch"`
	MaxBatchMs    int  `mapstructure:"max_batch_ms"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
}

// Load builds the configuration from defaults, the optional file at path, and
// environment variables prefixed with HARVESTER_.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", false)

	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.candidate_workers", 2)
	v.SetDefault("harvest.queue_depth", 64)
	v.SetDefault("harvest.job_timeout_minutes", 120)
	v.SetDefault("harvest.max_articles_default", 0)
	v.SetDefault("harvest.max_depth_default", 5)
	v.SetDefault("harvest.stall_expansions", 3)
	v.SetDefault("harvest.breaker_window", 20)
	v.SetDefault("harvest.breaker_min_samples", 10)
	v.SetDefault("harvest.breaker_failure_rate", 0.8)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.topic", "harvester-jobs")
	v.SetDefault("queue.subscription", "harvester-jobs-sub")

	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.scroll_rounds", 3)
	v.SetDefault("headless.scroll_pause_ms", 800)
	v.SetDefault("headless.promotion_min_bytes", 2048)
	v.SetDefault("headless.promotion_threshold", 60)

	v.SetDefault("session.max_sessions", 2)
	v.SetDefault("session.request_budget", 25)

	v.SetDefault("proxy.max_failures", 5)
	v.SetDefault("proxy.cooldown_seconds", 300)
	v.SetDefault("proxy.probe_url", "https://mp.weixin.qq.com/")
	v.SetDefault("proxy.probe_timeout_seconds", 10)
	v.SetDefault("proxy.exhaustion_wait_seconds", 60)

	v.SetDefault("politeness.enabled", true)
	v.SetDefault("politeness.min_delay_ms", 5000)
	v.SetDefault("politeness.burst", 1)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_initial_ms", 1000)
	v.SetDefault("retry.backoff_max_ms", 30000)

	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.path", "harvester.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.base_dir", "harvester-pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl_hours", 24)

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.topic", "harvester-articles")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.max_batch", 16)
	v.SetDefault("progress.max_batch_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 2000)
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth.enabled is true")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be positive, got %d", c.Harvest.Concurrency)
	}
	if c.Harvest.CandidateWorkers <= 0 {
		return fmt.Errorf("harvest.candidate_workers must be positive, got %d", c.Harvest.CandidateWorkers)
	}
	if c.Harvest.QueueDepth <= 0 {
		return fmt.Errorf("harvest.queue_depth must be positive, got %d", c.Harvest.QueueDepth)
	}
	if c.Harvest.BreakerFailureRate <= 0 || c.Harvest.BreakerFailureRate > 1 {
		return fmt.Errorf("harvest.breaker_failure_rate must be in (0, 1], got %v", c.Harvest.BreakerFailureRate)
	}
	switch c.Queue.Backend {
	case "pubsub":
		if c.Queue.ProjectID == "" {
			return fmt.Errorf("queue.project_id is required for the pubsub backend")
		}
	case "memory":
	default:
		return fmt.Errorf("queue.backend must be pubsub or memory, got %q", c.Queue.Backend)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive, got %d", c.Fetch.TimeoutSeconds)
	}
	if c.Headless.Enabled {
		if c.Session.MaxSessions <= 0 {
			return fmt.Errorf("session.max_sessions must be positive when headless is enabled, got %d", c.Session.MaxSessions)
		}
		if c.Headless.NavTimeoutSeconds <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be positive, got %d", c.Headless.NavTimeoutSeconds)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	switch c.Database.Backend {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("database.backend must be postgres, sqlite, or memory, got %q", c.Database.Backend)
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "local", "memory":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or memory, got %q", c.Storage.Backend)
	}
	switch c.Events.Backend {
	case "pubsub":
		if c.Events.ProjectID == "" {
			return fmt.Errorf("events.project_id is required for the pubsub backend")
		}
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers is required for the kafka backend")
		}
	case "memory":
	default:
		return fmt.Errorf("events.backend must be pubsub, kafka, or memory, got %q", c.Events.Backend)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled is true")
	}
	return nil
}

// FetchTimeout returns the probe-tier request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the rendered-tier navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// JobTimeout returns the wall-clock budget for a single job, or zero when
// jobs run unbounded.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Harvest.JobTimeoutMinutes) * time.Minute
}

// MinDelay returns the politeness spacing between requests sharing a network
// identity.
func (c Config) MinDelay() time.Duration {
	return time.Duration(c.Politeness.MinDelayMs) * time.Millisecond
}
