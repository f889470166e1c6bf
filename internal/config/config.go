// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/mention-scanner/internal/access"
	"github.com/JakeFAU/mention-scanner/internal/analysis"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/sources/forum"
	"github.com/JakeFAU/mention-scanner/internal/sources/ratelimit"
	"github.com/JakeFAU/mention-scanner/internal/stagger"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                        `mapstructure:"server"`
	Auth      AuthConfig                          `mapstructure:"auth"`
	DB        DBConfig                            `mapstructure:"db"`
	Publisher PublisherConfig                     `mapstructure:"publisher"`
	PubSub    PubSubConfig                        `mapstructure:"pubsub"`
	NATS      NATSConfig                          `mapstructure:"nats"`
	Archive   ArchiveConfig                       `mapstructure:"archive"`
	Logging   LoggingConfig                       `mapstructure:"logging"`
	Telemetry TelemetryConfig                     `mapstructure:"telemetry"`
	Scan      ScanConfig                          `mapstructure:"scan"`
	OnDemand  OnDemandConfig                      `mapstructure:"on_demand"`
	Analysis  AnalysisConfig                      `mapstructure:"analysis"`
	Reaper    ReaperConfig                        `mapstructure:"reaper"`
	Steps     StepsConfig                         `mapstructure:"steps"`
	Tiers     map[string]map[string]time.Duration `mapstructure:"tiers"`
	Sources   SourcesConfig                       `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PublisherConfig selects the announcement backend: memory, pubsub or nats.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	// TriggerSubscription delivers on-demand scan requests when set.
	TriggerSubscription string `mapstructure:"trigger_subscription"`
}

// NATSConfig holds JetStream settings.
type NATSConfig struct {
	URL    string        `mapstructure:"url"`
	Stream string        `mapstructure:"stream"`
	Prefix string        `mapstructure:"prefix"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// ArchiveConfig chooses where run summaries are written: none, gcs or local.
type ArchiveConfig struct {
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	Dir          string `mapstructure:"dir"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ScanConfig drives the scheduled per-source runs.
type ScanConfig struct {
	// Schedules maps a source to its cron expression. Sources without one never run on a schedule.
	Schedules     map[string]string        `mapstructure:"schedules"`
	DefaultWindow time.Duration            `mapstructure:"default_window"`
	Windows       map[string]time.Duration `mapstructure:"windows"`
	JitterPercent int                      `mapstructure:"jitter_percent"`
}

// OnDemandConfig sizes the on-demand worker pool.
type OnDemandConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueDepth int           `mapstructure:"queue_depth"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AnalysisConfig shapes announcement fan-out.
type AnalysisConfig struct {
	BatchThreshold int    `mapstructure:"batch_threshold"`
	OneTopic       string `mapstructure:"one_topic"`
	BatchTopic     string `mapstructure:"batch_topic"`
}

// ReaperConfig schedules the stuck-scan sweep.
type ReaperConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// StepsConfig bounds durable run retries and step retention.
type StepsConfig struct {
	StepAttempts   int           `mapstructure:"step_attempts"`
	RunAttempts    int           `mapstructure:"run_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	Retention      time.Duration `mapstructure:"retention"`
	PurgeSchedule  string        `mapstructure:"purge_schedule"`
}

// RateRule is a token bucket for one source.
type RateRule struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// SourcesConfig configures the source collaborators.
type SourcesConfig struct {
	UserAgent     string                     `mapstructure:"user_agent"`
	Timeout       time.Duration              `mapstructure:"timeout"`
	RespectRobots bool                       `mapstructure:"respect_robots"`
	FeedMaxAge    time.Duration              `mapstructure:"feed_max_age"`
	RateLimit     RateRule                   `mapstructure:"rate_limit"`
	RateLimits    map[string]RateRule        `mapstructure:"rate_limits"`
	HackerNews    SearchAPIConfig            `mapstructure:"hackernews"`
	Reddit        SearchAPIConfig            `mapstructure:"reddit"`
	Forums        map[string]forum.Selectors `mapstructure:"forums"`
}

// SearchAPIConfig describes a JSON search endpoint and its optional OAuth client.
type SearchAPIConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	QueryParam   string `mapstructure:"query_param"`
	LimitParam   string `mapstructure:"limit_param"`
	Limit        int    `mapstructure:"limit"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("scan.schedules", map[string]string{
		string(monitor.SourceReddit):      "*/5 * * * *",
		string(monitor.SourceHackerNews):  "*/5 * * * *",
		string(monitor.SourceProductHunt): "*/15 * * * *",
		string(monitor.SourceForum):       "*/15 * * * *",
		string(monitor.SourceG2):          "0 * * * *",
		string(monitor.SourceTrustpilot):  "30 * * * *",
	})
	v.SetDefault("scan.default_window", stagger.DefaultWindow)
	v.SetDefault("scan.jitter_percent", stagger.DefaultJitterPercent)
	v.SetDefault("on_demand.workers", 2)
	v.SetDefault("on_demand.queue_depth", 64)
	v.SetDefault("on_demand.timeout", 5*time.Minute)
	v.SetDefault("analysis.batch_threshold", analysis.DefaultBatchThreshold)
	v.SetDefault("analysis.one_topic", analysis.DefaultOneTopic)
	v.SetDefault("analysis.batch_topic", analysis.DefaultBatchTopic)
	v.SetDefault("reaper.schedule", "*/5 * * * *")
	v.SetDefault("reaper.stale_after", 10*time.Minute)
	v.SetDefault("steps.step_attempts", 3)
	v.SetDefault("steps.run_attempts", 3)
	v.SetDefault("steps.backoff_initial", 500*time.Millisecond)
	v.SetDefault("steps.backoff_max", 10*time.Second)
	v.SetDefault("steps.run_timeout", 30*time.Minute)
	v.SetDefault("steps.retention", 7*24*time.Hour)
	v.SetDefault("steps.purge_schedule", "17 3 * * *")
	v.SetDefault("sources.user_agent", "mention-scanner/0.1")
	v.SetDefault("sources.timeout", 15*time.Second)
	v.SetDefault("sources.respect_robots", true)
	v.SetDefault("sources.feed_max_age", 72*time.Hour)
	v.SetDefault("sources.rate_limit.rps", 1.0)
	v.SetDefault("sources.rate_limit.burst", 1)
	v.SetDefault("sources.hackernews.endpoint", "https://hn.algolia.com/api/v1/search_by_date")
	v.SetDefault("sources.hackernews.query_param", "query")
	v.SetDefault("sources.hackernews.limit_param", "hitsPerPage")
	v.SetDefault("sources.hackernews.limit", 50)
	v.SetDefault("sources.reddit.endpoint", "https://oauth.reddit.com/search")
	v.SetDefault("sources.reddit.query_param", "q")
	v.SetDefault("sources.reddit.limit_param", "limit")
	v.SetDefault("sources.reddit.limit", 50)
	v.SetDefault("sources.reddit.token_url", "https://www.reddit.com/api/v1/access_token")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Publisher.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub publisher")
		}
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url must be set for the nats publisher")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of memory, pubsub, nats", c.Publisher.Backend)
	}
	switch c.Archive.Backend {
	case "", "none":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, gcs, local", c.Archive.Backend)
	}
	if c.Scan.JitterPercent < 0 {
		return fmt.Errorf("scan.jitter_percent must be >= 0")
	}
	if c.OnDemand.Workers <= 0 {
		return fmt.Errorf("on_demand.workers must be > 0")
	}
	if c.Steps.StepAttempts <= 0 || c.Steps.RunAttempts <= 0 {
		return fmt.Errorf("steps.step_attempts and steps.run_attempts must be > 0")
	}
	if c.Reaper.StaleAfter <= 0 {
		return fmt.Errorf("reaper.stale_after must be > 0")
	}
	if c.Sources.RateLimit.RPS <= 0 {
		return fmt.Errorf("sources.rate_limit.rps must be > 0")
	}
	for source, sel := range c.Sources.Forums {
		if strings.TrimSpace(sel.Item) == "" {
			return fmt.Errorf("sources.forums.%s.item must be set", source)
		}
	}
	return nil
}

// TierTable returns the built-in access table with configured overrides applied.
func (c Config) TierTable() access.Table {
	overrides := make(access.Table, len(c.Tiers))
	for tier, sources := range c.Tiers {
		row := make(map[monitor.Source]time.Duration, len(sources))
		for source, interval := range sources {
			row[monitor.Source(source)] = interval
		}
		overrides[monitor.Tier(tier)] = row
	}
	return access.DefaultTable().Merge(overrides)
}

// StaggerWindows returns the built-in windows with configured overrides applied.
func (c Config) StaggerWindows() stagger.Windows {
	w := stagger.DefaultWindows()
	if c.Scan.DefaultWindow > 0 {
		w.Default = c.Scan.DefaultWindow
	}
	for source, d := range c.Scan.Windows {
		w.BySource[monitor.Source(source)] = d
	}
	return w
}

// ExecutorConfig converts the steps section.
func (c Config) ExecutorConfig() steps.Config {
	return steps.Config{
		StepAttempts:   c.Steps.StepAttempts,
		RunAttempts:    c.Steps.RunAttempts,
		BackoffInitial: c.Steps.BackoffInitial,
		BackoffMax:     c.Steps.BackoffMax,
		RunTimeout:     c.Steps.RunTimeout,
	}
}

// AnalysisDispatch converts the analysis section.
func (c Config) AnalysisDispatch() analysis.Config {
	return analysis.Config{
		BatchThreshold: c.Analysis.BatchThreshold,
		OneTopic:       c.Analysis.OneTopic,
		BatchTopic:     c.Analysis.BatchTopic,
	}
}

// RateLimits converts the rate limit section.
func (c Config) RateLimits() ratelimit.Config {
	out := ratelimit.Config{
		Default:   ratelimit.Rule{RPS: c.Sources.RateLimit.RPS, Burst: c.Sources.RateLimit.Burst},
		PerSource: make(map[monitor.Source]ratelimit.Rule, len(c.Sources.RateLimits)),
	}
	for source, rule := range c.Sources.RateLimits {
		out.PerSource[monitor.Source(source)] = ratelimit.Rule{RPS: rule.RPS, Burst: rule.Burst}
	}
	return out
}

// ScheduledSources returns the sources with a cron expression, keyed by source.
func (c Config) ScheduledSources() map[monitor.Source]string {
	out := make(map[monitor.Source]string, len(c.Scan.Schedules))
	for source, spec := range c.Scan.Schedules {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		out[monitor.Source(source)] = spec
	}
	return out
}
