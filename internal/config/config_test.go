package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
harvest:
  concurrency: 6
  queue_depth: 128
  stall_expansions: 5
  breaker_window: 30
headless:
  enabled: true
  nav_timeout_seconds: 30
  scroll_rounds: 4
session:
  max_sessions: 3
  request_budget: 40
proxy:
  file: proxies.yaml
  max_failures: 4
politeness:
  min_delay_ms: 2000
retry:
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
database:
  backend: sqlite
  path: /tmp/articles.db
storage:
  backend: local
  base_dir: /tmp/pages
events:
  backend: kafka
  brokers: ["localhost:9092"]
  topic: articles
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Harvest.Concurrency != 6 || cfg.Harvest.StallExpansions != 5 {
		t.Fatalf("expected harvest overrides to apply: %+v", cfg.Harvest)
	}
	if cfg.Database.Backend != "sqlite" || cfg.Database.Path != "/tmp/articles.db" {
		t.Fatalf("expected sqlite database config: %+v", cfg.Database)
	}
	if cfg.Events.Backend != "kafka" || len(cfg.Events.Brokers) != 1 {
		t.Fatalf("expected kafka events config: %+v", cfg.Events)
	}
	if cfg.Proxy.MaxFailures != 4 {
		t.Fatalf("expected proxy.max_failures 4, got %d", cfg.Proxy.MaxFailures)
	}
	if got := cfg.MinDelay(); got != 2*time.Second {
		t.Fatalf("expected min delay 2s, got %v", got)
	}
	if got := cfg.NavTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Progress.BufferSize != 256 || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected defaults to fill unlisted sections")
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Backend != "memory" || cfg.Storage.Backend != "memory" || cfg.Events.Backend != "memory" || cfg.Queue.Backend != "memory" {
		t.Fatalf("expected memory backends by default")
	}
	if cfg.Politeness.MinDelayMs != 5000 {
		t.Fatalf("expected default min delay 5000ms, got %d", cfg.Politeness.MinDelayMs)
	}
	if cfg.Harvest.BreakerFailureRate != 0.8 {
		t.Fatalf("expected default breaker failure rate 0.8, got %v", cfg.Harvest.BreakerFailureRate)
	}
	if cfg.Harvest.CandidateWorkers != 2 {
		t.Fatalf("expected default candidate workers 2, got %d", cfg.Harvest.CandidateWorkers)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Harvest: HarvestConfig{
			Concurrency:        1,
			CandidateWorkers:   1,
			QueueDepth:         8,
			BreakerFailureRate: 0.8,
		},
		Queue:    QueueConfig{Backend: "memory"},
		Fetch:    FetchConfig{TimeoutSeconds: 10},
		Database: DatabaseConfig{Backend: "memory"},
		Storage:  StorageConfig{Backend: "memory"},
		Events:   EventsConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Harvest.Concurrency = 0
				return c
			}(),
			want: "harvest.concurrency",
		},
		{
			name: "invalid candidate workers",
			cfg: func() Config {
				c := base
				c.Harvest.CandidateWorkers = 0
				return c
			}(),
			want: "harvest.candidate_workers",
		},
		{
			name: "invalid failure rate",
			cfg: func() Config {
				c := base
				c.Harvest.BreakerFailureRate = 1.5
				return c
			}(),
			want: "harvest.breaker_failure_rate",
		},
		{
			name: "headless missing sessions",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.NavTimeoutSeconds = 30
				c.Session.MaxSessions = 0
				return c
			}(),
			want: "session.max_sessions",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Database.Backend = "postgres"
				return c
			}(),
			want: "database.dsn",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "kafka without brokers",
			cfg: func() Config {
				c := base
				c.Events.Backend = "kafka"
				return c
			}(),
			want: "events.brokers",
		},
		{
			name: "pubsub queue without project",
			cfg: func() Config {
				c := base
				c.Queue.Backend = "pubsub"
				return c
			}(),
			want: "queue.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
