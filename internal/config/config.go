// Package config loads and validates crawl worker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all worker configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Store    StoreConfig    `mapstructure:"store"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkerConfig governs the claim loop and the job lifecycle.
type WorkerConfig struct {
	ID                     string `mapstructure:"id"`
	Concurrency            int    `mapstructure:"concurrency"`
	LeaseSeconds           int    `mapstructure:"lease_seconds"`
	MaxAttempts            int    `mapstructure:"max_attempts"`
	IdlePollSeconds        int    `mapstructure:"idle_poll_seconds"`
	BusyWaitSeconds        int    `mapstructure:"busy_wait_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	StatsIntervalSeconds   int    `mapstructure:"stats_interval_seconds"`
	BackoffBaseSeconds     int    `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds      int    `mapstructure:"backoff_max_seconds"`
	EnforceBackoff         bool   `mapstructure:"enforce_backoff"`
	DedupWindowDays        int    `mapstructure:"dedup_window_days"`
}

// CrawlConfig bounds one company crawl.
type CrawlConfig struct {
	MaxPages             int      `mapstructure:"max_pages"`
	MaxLinksPerPage      int      `mapstructure:"max_links_per_page"`
	MaxDurationSeconds   int      `mapstructure:"max_duration_seconds"`
	MaxEmailsPerPage     int      `mapstructure:"max_emails_per_page"`
	PageTimeoutSeconds   int      `mapstructure:"page_timeout_seconds"`
	RobotsTimeoutSeconds int      `mapstructure:"robots_timeout_seconds"`
	RequestsPerSecond    float64  `mapstructure:"requests_per_second"`
	PerHostRPS           float64  `mapstructure:"per_host_rps"`
	UserAgent            string   `mapstructure:"user_agent"`
	AcceptLanguage       string   `mapstructure:"accept_language"`
	IgnoreRobots         bool     `mapstructure:"ignore_robots"`
	IgnoreSSLErrors      bool     `mapstructure:"ignore_ssl_errors"`
	MinConfidence        int      `mapstructure:"min_confidence"`
	FreemailDomains      []string `mapstructure:"freemail_domains"`
	PlaceholderDomains   []string `mapstructure:"placeholder_domains"`
}

// HeadlessConfig configures the Chrome launch.
type HeadlessConfig struct {
	ExecPath  string `mapstructure:"exec_path"`
	Headless  bool   `mapstructure:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
}

// StoreConfig selects the job store implementation.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for completion notifications. Empty disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Port         int  `mapstructure:"port"`
	// LookupRoutes mounts the read-only /v1 job and email routes.
	LookupRoutes bool `mapstructure:"lookup_routes"`
}

const (
	// DriverPostgres selects the pgx job store.
	DriverPostgres = "postgres"
	// DriverMemory selects the in-process job store.
	DriverMemory = "memory"
)

// LoadDotEnv loads path into the process environment when it exists.
// Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from defaults, an optional file and CRAWLER_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("worker.id", "")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.lease_seconds", 300)
	v.SetDefault("worker.max_attempts", 2)
	v.SetDefault("worker.idle_poll_seconds", 10)
	v.SetDefault("worker.busy_wait_seconds", 1)
	v.SetDefault("worker.shutdown_timeout_seconds", 30)
	v.SetDefault("worker.stats_interval_seconds", 60)
	v.SetDefault("worker.backoff_base_seconds", 30)
	v.SetDefault("worker.backoff_max_seconds", 900)
	v.SetDefault("worker.enforce_backoff", true)
	v.SetDefault("worker.dedup_window_days", 30)

	v.SetDefault("crawl.max_pages", 4)
	v.SetDefault("crawl.max_links_per_page", 10)
	v.SetDefault("crawl.max_duration_seconds", 90)
	v.SetDefault("crawl.max_emails_per_page", 10)
	v.SetDefault("crawl.page_timeout_seconds", 20)
	v.SetDefault("crawl.robots_timeout_seconds", 10)
	v.SetDefault("crawl.requests_per_second", 1.0)
	v.SetDefault("crawl.per_host_rps", 0.0)
	v.SetDefault("crawl.user_agent", "contact-crawler/1.0 (+https://github.com/JakeFAU/contact-crawler)")
	v.SetDefault("crawl.accept_language", "de-DE,de;q=0.9,en;q=0.8")
	v.SetDefault("crawl.ignore_robots", false)
	v.SetDefault("crawl.ignore_ssl_errors", false)
	v.SetDefault("crawl.min_confidence", 50)
	v.SetDefault("crawl.freemail_domains", []string{})
	v.SetDefault("crawl.placeholder_domains", []string{})

	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.no_sandbox", false)

	v.SetDefault("store.driver", DriverPostgres)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.lookup_routes", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.LeaseSeconds <= 0 {
		return fmt.Errorf("worker.lease_seconds must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Worker.BackoffMaxSeconds < c.Worker.BackoffBaseSeconds {
		return fmt.Errorf("worker.backoff_max_seconds must be >= worker.backoff_base_seconds")
	}
	if c.Worker.LeaseSeconds < c.Crawl.MaxDurationSeconds {
		return fmt.Errorf("worker.lease_seconds must cover crawl.max_duration_seconds")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.MaxDurationSeconds <= 0 {
		return fmt.Errorf("crawl.max_duration_seconds must be > 0")
	}
	if c.Crawl.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawl.requests_per_second must be > 0")
	}
	if c.Crawl.MinConfidence < 0 || c.Crawl.MinConfidence > 100 {
		return fmt.Errorf("crawl.min_confidence must be within [0,100]")
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Store.Driver)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// Lease is the claim lease duration.
func (w WorkerConfig) Lease() time.Duration { return seconds(w.LeaseSeconds) }

// IdlePoll is the wait after an empty claim.
func (w WorkerConfig) IdlePoll() time.Duration { return seconds(w.IdlePollSeconds) }

// BusyWait is the wait while the concurrency ceiling is reached.
func (w WorkerConfig) BusyWait() time.Duration { return seconds(w.BusyWaitSeconds) }

// ShutdownTimeout bounds the wait for in-flight jobs on shutdown.
func (w WorkerConfig) ShutdownTimeout() time.Duration { return seconds(w.ShutdownTimeoutSeconds) }

// StatsInterval is the period of the throughput log line.
func (w WorkerConfig) StatsInterval() time.Duration { return seconds(w.StatsIntervalSeconds) }

// DedupWindow is how long a done job blocks re-enqueueing its company.
func (w WorkerConfig) DedupWindow() time.Duration {
	return time.Duration(w.DedupWindowDays) * 24 * time.Hour
}

// MaxDuration is the wall-clock crawl budget.
func (c CrawlConfig) MaxDuration() time.Duration { return seconds(c.MaxDurationSeconds) }

// PageTimeout bounds a single navigation.
func (c CrawlConfig) PageTimeout() time.Duration { return seconds(c.PageTimeoutSeconds) }

// RobotsTimeout bounds the robots.txt fetch.
func (c CrawlConfig) RobotsTimeout() time.Duration { return seconds(c.RobotsTimeoutSeconds) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
