// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Lease   LeaseConfig   `mapstructure:"lease"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and per-domain crawl budgets.
type CrawlerConfig struct {
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	MaxDepth            int    `mapstructure:"max_depth"`
	MaxPagesPerDomain   int    `mapstructure:"max_pages_per_domain"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	DomainBudgetSeconds int    `mapstructure:"domain_budget_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
}

// LeaseConfig controls the heartbeat cadence and derived lease TTL.
type LeaseConfig struct {
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
	TTLMultiplier    int `mapstructure:"ttl_multiplier"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_minutes"`
}

// PubSubConfig holds metadata for completion event notifications. An empty
// project id disables Cloud Pub/Sub publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

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
	v.SetDefault("crawler.max_concurrent", 10)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages_per_domain", 20)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.domain_budget_seconds", 300)
	v.SetDefault("crawler.poll_interval_seconds", 5)
	v.SetDefault("crawler.user_agent", "mailsift-bot/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("lease.heartbeat_seconds", 15)
	v.SetDefault("lease.ttl_multiplier", 4)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("logging.development", true)
}

// bindLegacyEnv keeps the short environment names earlier deployments used
// working alongside the EXTRACTOR_ prefixed ones.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("crawler.max_concurrent", "EXTRACTOR_CRAWLER_MAX_CONCURRENT", "MAX_CONCURRENT")
	_ = v.BindEnv("crawler.max_depth", "EXTRACTOR_CRAWLER_MAX_DEPTH", "MAX_DEPTH")
	_ = v.BindEnv("crawler.timeout_seconds", "EXTRACTOR_CRAWLER_TIMEOUT_SECONDS", "TIMEOUT")
	_ = v.BindEnv("crawler.poll_interval_seconds", "EXTRACTOR_CRAWLER_POLL_INTERVAL_SECONDS", "POLL_INTERVAL")
	_ = v.BindEnv("db.dsn", "EXTRACTOR_DB_DSN", "DATABASE_URL")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxConcurrent <= 0 {
		return fmt.Errorf("crawler.max_concurrent must be > 0")
	}
	if c.Crawler.MaxPagesPerDomain <= 0 {
		return fmt.Errorf("crawler.max_pages_per_domain must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Lease.HeartbeatSeconds <= 0 {
		return fmt.Errorf("lease.heartbeat_seconds must be > 0")
	}
	if c.Lease.TTLMultiplier < 2 {
		return fmt.Errorf("lease.ttl_multiplier must be >= 2")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout is the per-page fetch bound.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// DomainBudget is the overall bound for one domain crawl run.
func (c Config) DomainBudget() time.Duration {
	return time.Duration(c.Crawler.DomainBudgetSeconds) * time.Second
}

// PollInterval is the idle wait between claim attempts.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalSeconds) * time.Second
}

// HeartbeatInterval is the lease refresh cadence.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Lease.HeartbeatSeconds) * time.Second
}
