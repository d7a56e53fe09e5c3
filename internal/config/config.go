// Package config loads and validates paperscraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Search    SearchConfig    `mapstructure:"search"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperConfig drives strategy registration and batch scraping.
type ScraperConfig struct {
	OutputDir              string  `mapstructure:"output_dir"`
	BatchSize              int     `mapstructure:"batch_size"`
	Limit                  int     `mapstructure:"limit"`
	RateLimitPerMinute     float64 `mapstructure:"rate_limit_per_minute"`
	StrategyTimeoutSeconds int     `mapstructure:"strategy_timeout_seconds"`
	HTTPTimeoutSeconds     int     `mapstructure:"http_timeout_seconds"`
	ArXivBaseURL           string  `mapstructure:"arxiv_base_url"`
	PMCBaseURL             string  `mapstructure:"pmc_base_url"`
	DOI2PDFBaseURL         string  `mapstructure:"doi2pdf_base_url"`
	UserAgent              string  `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless publisher strategy.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SearchConfig points at the Semantic Scholar graph API.
type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	PageSize int    `mapstructure:"page_size"`
}

// StorageConfig selects where fetched papers are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the archive notification topic. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the Postgres attempt store. An empty DSN keeps progress in memory.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	TablePrefix  string `mapstructure:"table_prefix"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional file and PAPERSCRAPER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERSCRAPER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.output_dir", "papers")
	v.SetDefault("scraper.batch_size", 10)
	v.SetDefault("scraper.limit", 0)
	v.SetDefault("scraper.rate_limit_per_minute", 15)
	v.SetDefault("scraper.strategy_timeout_seconds", 120)
	v.SetDefault("scraper.http_timeout_seconds", 60)
	v.SetDefault("scraper.arxiv_base_url", "https://arxiv.org")
	v.SetDefault("scraper.pmc_base_url", "https://www.ncbi.nlm.nih.gov")
	v.SetDefault("scraper.doi2pdf_base_url", "")
	v.SetDefault("scraper.user_agent", "")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("search.endpoint", "https://api.semanticscholar.org/graph/v1/paper/search")
	v.SetDefault("search.page_size", 100)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.prefix", "papers")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("telemetry.service_name", "paperscraper")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Scraper.OutputDir) == "" {
		return fmt.Errorf("scraper.output_dir must be set")
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("scraper.batch_size must be > 0")
	}
	if c.Scraper.Limit < 0 {
		return fmt.Errorf("scraper.limit must be >= 0")
	}
	if c.Scraper.RateLimitPerMinute <= 0 {
		return fmt.Errorf("scraper.rate_limit_per_minute must be > 0")
	}
	if c.Scraper.StrategyTimeoutSeconds < 0 {
		return fmt.Errorf("scraper.strategy_timeout_seconds must be >= 0")
	}
	if c.Scraper.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.http_timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Search.PageSize <= 0 || c.Search.PageSize > 100 {
		return fmt.Errorf("search.page_size must be between 1 and 100")
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of none, memory, local, gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// RatePerSecond converts the per-minute session rate.
func (c ScraperConfig) RatePerSecond() float64 {
	return c.RateLimitPerMinute / 60
}

// StrategyTimeout is the per-strategy deadline; zero disables it.
func (c ScraperConfig) StrategyTimeout() time.Duration {
	return time.Duration(c.StrategyTimeoutSeconds) * time.Second
}

// HTTPTimeout bounds a single HTTP exchange.
func (c ScraperConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// MaxBatchWait is the longest a partial progress batch is held.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout bounds one sink delivery.
func (c ProgressConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}
