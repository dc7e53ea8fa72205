package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Micro-stop counting policies.
const (
	MicroStopPolicyCountBoth = "count_both"
	MicroStopPolicySeparate  = "separate"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Report     ReportConfig     `yaml:"report"`
	Collector  CollectorConfig  `yaml:"collector"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Live       LiveConfig       `yaml:"live"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	Mode            string  `yaml:"mode"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
// DSNs starting with "sqlite:" or "file:" open the sqlite driver.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// LedgerConfig tunes event ledger validation.
type LedgerConfig struct {
	DriftToleranceSeconds float64 `yaml:"drift_tolerance_seconds"`
}

// MetricsConfig holds the thresholds used by aggregation and OEE math.
type MetricsConfig struct {
	MicroStopThresholdSeconds float64 `yaml:"micro_stop_threshold_seconds"`
	MicroStopPolicy           string  `yaml:"micro_stop_policy"`
	DefaultPerformancePct     float64 `yaml:"default_performance_pct"`
	DefaultQualityPct         float64 `yaml:"default_quality_pct"`
}

// ReportConfig controls shift report generation.
type ReportConfig struct {
	AutoArchiveOnClose bool `yaml:"auto_archive_on_close"`
}

// CollectorConfig configures the optional logger gateway poller.
type CollectorConfig struct {
	Enabled         bool              `yaml:"enabled"`
	IntervalSeconds int               `yaml:"interval_seconds"`
	Interval        time.Duration     `yaml:"-"`
	URL             string            `yaml:"url"`
	HTTPProxy       string            `yaml:"http_proxy"`
	Headers         map[string]string `yaml:"headers"`
	Payload         map[string]any    `yaml:"payload"`
	PageSize        int               `yaml:"page_size"`
	Timezone        string            `yaml:"timezone"`
	// Lookback bounds the first poll after startup.
	LookbackMinutes int `yaml:"lookback_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LiveConfig configures the live event feed.
type LiveConfig struct {
	BufferSize   int    `yaml:"buffer_size"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Ledger.DriftToleranceSeconds <= 0 {
		cfg.Ledger.DriftToleranceSeconds = 5
	}

	if cfg.Metrics.MicroStopThresholdSeconds <= 0 {
		cfg.Metrics.MicroStopThresholdSeconds = 300
	}
	if cfg.Metrics.MicroStopPolicy == "" {
		cfg.Metrics.MicroStopPolicy = MicroStopPolicyCountBoth
	}
	if cfg.Metrics.DefaultPerformancePct <= 0 {
		cfg.Metrics.DefaultPerformancePct = 100
	}
	if cfg.Metrics.DefaultQualityPct <= 0 {
		cfg.Metrics.DefaultQualityPct = 100
	}

	if cfg.Collector.IntervalSeconds <= 0 {
		cfg.Collector.IntervalSeconds = 30
	}
	cfg.Collector.Interval = time.Duration(cfg.Collector.IntervalSeconds) * time.Second
	if cfg.Collector.PageSize <= 0 {
		cfg.Collector.PageSize = 100
	}
	if cfg.Collector.Timezone == "" {
		cfg.Collector.Timezone = "UTC"
	}
	if cfg.Collector.LookbackMinutes <= 0 {
		cfg.Collector.LookbackMinutes = 60
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Live.BufferSize <= 0 {
		cfg.Live.BufferSize = 64
	}
	if cfg.Live.RedisChannel == "" {
		cfg.Live.RedisChannel = "asset-events"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Metrics.MicroStopPolicy {
	case MicroStopPolicyCountBoth, MicroStopPolicySeparate:
	default:
		return fmt.Errorf("metrics.micro_stop_policy must be %q or %q", MicroStopPolicyCountBoth, MicroStopPolicySeparate)
	}
	if c.Metrics.DefaultPerformancePct > 100 || c.Metrics.DefaultQualityPct > 100 {
		return fmt.Errorf("default performance/quality must be within (0, 100]")
	}
	if c.Collector.Enabled && c.Collector.URL == "" {
		return fmt.Errorf("collector.url is required when the collector is enabled")
	}
	return nil
}

// applyEnv lets deployment environments override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Live.RedisAddr = v
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
}
