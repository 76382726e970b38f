// Package config loads and validates comic tracker configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/comic-tracker/internal/comic"
	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/extract"
	"github.com/JakeFAU/comic-tracker/internal/reconcile"
)

// Catalog drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Mirror backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Alert transports.
const (
	TransportLog     = "log"
	TransportWebhook = "webhook"
	TransportPubSub  = "pubsub"
	TransportNATS    = "nats"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig               `mapstructure:"server"`
	Logging    LoggingConfig              `mapstructure:"logging"`
	HTTP       HTTPConfig                 `mapstructure:"http"`
	Headless   HeadlessConfig             `mapstructure:"headless"`
	Dispatcher DispatcherConfig           `mapstructure:"dispatcher"`
	Catalog    CatalogConfig              `mapstructure:"catalog"`
	Mirror     MirrorConfig               `mapstructure:"mirror"`
	Alert      AlertConfig                `mapstructure:"alert"`
	Reconcile  ReconcileConfig            `mapstructure:"reconcile"`
	Publishers map[string]PublisherConfig `mapstructure:"publishers"`
}

// ServerConfig controls the operational HTTP server. An empty APIKey leaves the /v1 routes open.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	APIKey                 string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	UserAgent      string        `mapstructure:"user_agent"`
	RPS            float64       `mapstructure:"rps"`
	Burst          int           `mapstructure:"burst"`
	HostLimits     []HostLimit   `mapstructure:"host_limits"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// HostLimit overrides the request rate for one host. Hosts are listed rather than keyed
// because Viper splits map keys on dots.
type HostLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// BreakerConfig configures the per-host circuit breaker. Zero failures disables it.
type BreakerConfig struct {
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`
	OpenTimeoutSeconds  int    `mapstructure:"open_timeout_seconds"`
	HalfOpenRequests    uint32 `mapstructure:"half_open_requests"`
}

// RetryConfig configures retries of transient fetch failures. One attempt disables retrying.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleMs      int    `mapstructure:"settle_ms"`

	// Promote refetches a plain page headless when it yields no records and looks client-rendered.
	Promote         bool `mapstructure:"promote"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// DispatcherConfig tunes scrape passes.
type DispatcherConfig struct {
	MaxConcurrency int  `mapstructure:"max_concurrency"`
	RepairMirror   bool `mapstructure:"repair_mirror"`
}

// CatalogConfig selects the relational backend.
type CatalogConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Migrate    bool   `mapstructure:"migrate"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// MirrorConfig selects where the snapshot lives.
type MirrorConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Bucket  string `mapstructure:"bucket"`
	Object  string `mapstructure:"object"`
}

// AlertConfig controls batching and delivery of chapter alerts.
type AlertConfig struct {
	Threshold       int           `mapstructure:"threshold"`
	Title           string        `mapstructure:"title"`
	ReadAheadWindow int           `mapstructure:"read_ahead_window"`
	Transports      []string      `mapstructure:"transports"`
	Webhook         WebhookConfig `mapstructure:"webhook"`
	PubSub          PubSubConfig  `mapstructure:"pubsub"`
	NATS            NATSConfig    `mapstructure:"nats"`
}

// WebhookConfig describes the webhook transport.
type WebhookConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds the Pub/Sub topic for alerts.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NATSConfig holds the NATS subject for alerts.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ReconcileConfig overrides the field and cover policies.
type ReconcileConfig struct {
	FieldPolicy             FieldPolicyConfig `mapstructure:"field_policy"`
	DegradedPublishers      []string          `mapstructure:"degraded_publishers"`
	AlwaysRefreshPublishers []string          `mapstructure:"always_refresh_publishers"`
}

// FieldPolicyConfig names a rule per field.
type FieldPolicyConfig struct {
	Author string `mapstructure:"author"`
	Type   string `mapstructure:"type"`
	Status string `mapstructure:"status"`
}

// PublisherConfig lists the pages of one publisher and optional selector overrides.
type PublisherConfig struct {
	URLs      []string          `mapstructure:"urls"`
	Headless  bool              `mapstructure:"headless"`
	Selectors extract.Selectors `mapstructure:"selectors"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMICS")
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
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) comic-tracker/0.1")
	v.SetDefault("http.rps", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.breaker.consecutive_failures", 3)
	v.SetDefault("http.breaker.open_timeout_seconds", 300)
	v.SetDefault("http.breaker.half_open_requests", 1)
	v.SetDefault("http.retry.max_attempts", 2)
	v.SetDefault("http.retry.base_delay_ms", 500)
	v.SetDefault("http.retry.max_delay_ms", 5000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.promote", true)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("dispatcher.max_concurrency", 0)
	v.SetDefault("dispatcher.repair_mirror", true)
	v.SetDefault("catalog.driver", DriverSQLite)
	v.SetDefault("catalog.sqlite_path", "comics.db")
	v.SetDefault("catalog.migrate", true)
	v.SetDefault("catalog.max_conns", 4)
	v.SetDefault("mirror.backend", BackendLocal)
	v.SetDefault("mirror.path", "data")
	v.SetDefault("mirror.object", "comics.json")
	v.SetDefault("alert.threshold", 4)
	v.SetDefault("alert.title", "Scrape alert")
	v.SetDefault("alert.read_ahead_window", reconcile.DefaultReadAheadWindow)
	v.SetDefault("alert.transports", []string{TransportLog})
	v.SetDefault("alert.webhook.timeout_seconds", 10)
	v.SetDefault("alert.nats.subject", "comics.alerts")
	v.SetDefault("reconcile.field_policy.author", string(reconcile.FillIfEmpty))
	v.SetDefault("reconcile.field_policy.type", string(reconcile.FillIfEmpty))
	v.SetDefault("reconcile.field_policy.status", string(reconcile.OverwriteIfKnown))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RPS < 0 {
		return fmt.Errorf("http.rps must be >= 0")
	}
	if c.HTTP.Retry.MaxAttempts < 0 {
		return fmt.Errorf("http.retry.max_attempts must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Dispatcher.MaxConcurrency < 0 {
		return fmt.Errorf("dispatcher.max_concurrency must be >= 0")
	}
	switch c.Catalog.Driver {
	case DriverPostgres:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn must be set for the postgres driver")
		}
	case DriverSQLite:
		if c.Catalog.SQLitePath == "" {
			return fmt.Errorf("catalog.sqlite_path must be set for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("catalog.driver %q is not supported", c.Catalog.Driver)
	}
	switch c.Mirror.Backend {
	case BackendLocal:
		if c.Mirror.Path == "" {
			return fmt.Errorf("mirror.path must be set for the local backend")
		}
	case BackendGCS:
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("mirror.backend %q is not supported", c.Mirror.Backend)
	}
	if c.Mirror.Object == "" {
		return fmt.Errorf("mirror.object must be set")
	}
	if c.Alert.Threshold <= 0 {
		return fmt.Errorf("alert.threshold must be > 0")
	}
	if c.Alert.ReadAheadWindow <= 0 {
		return fmt.Errorf("alert.read_ahead_window must be > 0")
	}
	for _, name := range c.Alert.Transports {
		switch name {
		case TransportLog:
		case TransportWebhook:
			if c.Alert.Webhook.URL == "" {
				return fmt.Errorf("alert.webhook.url must be set when the webhook transport is enabled")
			}
		case TransportPubSub:
			if c.Alert.PubSub.ProjectID == "" || c.Alert.PubSub.TopicName == "" {
				return fmt.Errorf("alert.pubsub.project_id and topic_name must be set when the pubsub transport is enabled")
			}
		case TransportNATS:
			if c.Alert.NATS.Subject == "" {
				return fmt.Errorf("alert.nats.subject must be set when the nats transport is enabled")
			}
		default:
			return fmt.Errorf("alert.transports: unknown transport %q", name)
		}
	}
	if _, err := c.ReconcilerConfig(); err != nil {
		return err
	}
	for name, pub := range c.Publishers {
		if _, err := comic.ParsePublisher(name); err != nil {
			return fmt.Errorf("publishers.%s: %w", name, err)
		}
		if len(pub.URLs) == 0 {
			return fmt.Errorf("publishers.%s.urls must not be empty", name)
		}
	}
	return nil
}

// HostRPS returns the per-host rate overrides keyed by lowercase host.
func (c Config) HostRPS() map[string]float64 {
	out := make(map[string]float64, len(c.HTTP.HostLimits))
	for _, l := range c.HTTP.HostLimits {
		out[strings.ToLower(l.Host)] = l.RPS
	}
	return out
}

// FetchTimeout returns the per-page HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long the server drains on shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Targets expands the publishers section into dispatcher targets, ordered by publisher.
func (c Config) Targets() ([]dispatcher.Target, error) {
	var targets []dispatcher.Target
	for name, pub := range c.Publishers {
		p, err := comic.ParsePublisher(name)
		if err != nil {
			return nil, fmt.Errorf("publishers.%s: %w", name, err)
		}
		for _, url := range pub.URLs {
			targets = append(targets, dispatcher.Target{Publisher: p, URL: url, Headless: pub.Headless})
		}
	}
	slices.SortStableFunc(targets, func(a, b dispatcher.Target) int {
		if a.Publisher != b.Publisher {
			return int(a.Publisher) - int(b.Publisher)
		}
		return strings.Compare(a.URL, b.URL)
	})
	return targets, nil
}

// SelectorOverrides returns the configured selector overrides keyed by publisher.
func (c Config) SelectorOverrides() (map[comic.Publisher]extract.Selectors, error) {
	out := make(map[comic.Publisher]extract.Selectors)
	for name, pub := range c.Publishers {
		if pub.Selectors.IsZero() {
			continue
		}
		p, err := comic.ParsePublisher(name)
		if err != nil {
			return nil, fmt.Errorf("publishers.%s: %w", name, err)
		}
		out[p] = pub.Selectors
	}
	return out, nil
}

// ReconcilerConfig converts the reconcile and alert sections into a reconcile.Config.
func (c Config) ReconcilerConfig() (reconcile.Config, error) {
	out := reconcile.DefaultConfig()
	out.ReadAheadWindow = c.Alert.ReadAheadWindow

	rules := []struct {
		key string
		raw string
		dst *reconcile.FieldRule
	}{
		{"reconcile.field_policy.author", c.Reconcile.FieldPolicy.Author, &out.Fields.Author},
		{"reconcile.field_policy.type", c.Reconcile.FieldPolicy.Type, &out.Fields.Type},
		{"reconcile.field_policy.status", c.Reconcile.FieldPolicy.Status, &out.Fields.Status},
	}
	for _, r := range rules {
		if r.raw == "" {
			continue
		}
		rule, err := reconcile.ParseFieldRule(r.raw)
		if err != nil {
			return reconcile.Config{}, fmt.Errorf("%s: %w", r.key, err)
		}
		*r.dst = rule
	}

	if len(c.Reconcile.DegradedPublishers) > 0 {
		pubs, err := parsePublishers(c.Reconcile.DegradedPublishers)
		if err != nil {
			return reconcile.Config{}, fmt.Errorf("reconcile.degraded_publishers: %w", err)
		}
		out.Covers.Degraded = pubs
	}
	if len(c.Reconcile.AlwaysRefreshPublishers) > 0 {
		pubs, err := parsePublishers(c.Reconcile.AlwaysRefreshPublishers)
		if err != nil {
			return reconcile.Config{}, fmt.Errorf("reconcile.always_refresh_publishers: %w", err)
		}
		out.Covers.AlwaysRefresh = pubs
	}
	return out, nil
}

func parsePublishers(names []string) ([]comic.Publisher, error) {
	out := make([]comic.Publisher, 0, len(names))
	for _, name := range names {
		p, err := comic.ParsePublisher(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
