package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Publisher.Backend != "memory" {
		t.Fatalf("expected memory publisher, got %q", cfg.Publisher.Backend)
	}
	if cfg.Reaper.StaleAfter != 10*time.Minute {
		t.Fatalf("expected 10m stale-after, got %v", cfg.Reaper.StaleAfter)
	}
	if got := cfg.ScheduledSources()[monitor.SourceReddit]; got != "*/5 * * * *" {
		t.Fatalf("expected reddit schedule, got %q", got)
	}
	if got := cfg.TierTable()[monitor.TierFree][monitor.SourceReddit]; got != time.Hour {
		t.Fatalf("expected free/reddit interval 1h, got %v", got)
	}
}

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
publisher:
  backend: nats
nats:
  url: nats://nats:4222
  prefix: mentions
archive:
  backend: local
  dir: /tmp/runs
logging:
  development: false
  level: debug
scan:
  schedules:
    reddit: "*/2 * * * *"
    g2: ""
  windows:
    reddit: 20m
  jitter_percent: 5
steps:
  run_timeout: 45m
tiers:
  free:
    producthunt: 2h
sources:
  rate_limits:
    reddit:
      rps: 0.5
      burst: 2
  forums:
    forum:
      item: div.thread
      title: .title
      link: a.title
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
	if cfg.NATS.Prefix != "mentions" || cfg.Publisher.Backend != "nats" {
		t.Fatalf("expected nats overrides to apply: %+v", cfg.NATS)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Development {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}

	schedules := cfg.ScheduledSources()
	if schedules[monitor.SourceReddit] != "*/2 * * * *" {
		t.Fatalf("expected reddit schedule override, got %q", schedules[monitor.SourceReddit])
	}
	if _, ok := schedules[monitor.SourceG2]; ok {
		t.Fatalf("expected blank g2 schedule to be dropped")
	}
	if got := cfg.StaggerWindows().For(monitor.SourceReddit); got != 20*time.Minute {
		t.Fatalf("expected reddit window 20m, got %v", got)
	}
	if got := cfg.ExecutorConfig().RunTimeout; got != 45*time.Minute {
		t.Fatalf("expected run timeout 45m, got %v", got)
	}
	if got := cfg.TierTable()[monitor.TierFree][monitor.SourceProductHunt]; got != 2*time.Hour {
		t.Fatalf("expected tier override, got %v", got)
	}
	rule := cfg.RateLimits().PerSource[monitor.SourceReddit]
	if rule.RPS != 0.5 || rule.Burst != 2 {
		t.Fatalf("expected reddit rate rule, got %+v", rule)
	}
	if sel := cfg.Sources.Forums["forum"]; sel.Item != "div.thread" || sel.Link != "a.title" {
		t.Fatalf("expected forum selectors, got %+v", sel)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Publisher: PublisherConfig{Backend: "memory"},
		OnDemand:  OnDemandConfig{Workers: 1},
		Steps:     StepsConfig{StepAttempts: 1, RunAttempts: 1},
		Reaper:    ReaperConfig{StaleAfter: time.Minute},
		Sources:   SourcesConfig{RateLimit: RateRule{RPS: 1, Burst: 1}},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown publisher", func(c *Config) { c.Publisher.Backend = "kafka" }, "publisher.backend"},
		{"pubsub without project", func(c *Config) { c.Publisher.Backend = "pubsub" }, "pubsub.project_id"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "archive.bucket"},
		{"local without dir", func(c *Config) { c.Archive.Backend = "local" }, "archive.dir"},
		{"no workers", func(c *Config) { c.OnDemand.Workers = 0 }, "on_demand.workers"},
		{"no attempts", func(c *Config) { c.Steps.RunAttempts = 0 }, "steps.step_attempts"},
		{"no stale after", func(c *Config) { c.Reaper.StaleAfter = 0 }, "reaper.stale_after"},
		{"no rate", func(c *Config) { c.Sources.RateLimit.RPS = 0 }, "sources.rate_limit.rps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
