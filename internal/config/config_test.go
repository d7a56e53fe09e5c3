package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "papers", cfg.Scraper.OutputDir)
	assert.Equal(t, 10, cfg.Scraper.BatchSize)
	assert.Zero(t, cfg.Scraper.Limit)
	assert.InDelta(t, 0.25, cfg.Scraper.RatePerSecond(), 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Scraper.StrategyTimeout())
	assert.Equal(t, BackendNone, cfg.Storage.Backend)
	assert.Equal(t, 100, cfg.Search.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Progress.MaxBatchWait())
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
logging:
  development: false
scraper:
  output_dir: /tmp/out
  batch_size: 4
  limit: 12
  rate_limit_per_minute: 30
  strategy_timeout_seconds: 0
  doi2pdf_base_url: https://mirror.example
headless:
  enabled: true
  max_parallel: 2
search:
  api_key: secret
  page_size: 50
storage:
  backend: local
  local_dir: /tmp/archive
pubsub:
  project_id: proj
  topic_name: papers
db:
  dsn: postgres://localhost/papers
  table_prefix: ps_
progress:
  sink_timeout_ms: 500
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "/tmp/out", cfg.Scraper.OutputDir)
	assert.Equal(t, 4, cfg.Scraper.BatchSize)
	assert.Equal(t, 12, cfg.Scraper.Limit)
	assert.InDelta(t, 0.5, cfg.Scraper.RatePerSecond(), 1e-9)
	assert.Zero(t, cfg.Scraper.StrategyTimeout())
	assert.Equal(t, "https://mirror.example", cfg.Scraper.DOI2PDFBaseURL)
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, "secret", cfg.Search.APIKey)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, "papers", cfg.PubSub.TopicName)
	assert.Equal(t, "ps_", cfg.DB.TablePrefix)
	assert.Equal(t, 500*time.Millisecond, cfg.Progress.SinkTimeout())
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PAPERSCRAPER_SCRAPER_BATCH_SIZE", "3")
	t.Setenv("PAPERSCRAPER_SEARCH_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scraper.BatchSize)
	assert.Equal(t, "from-env", cfg.Search.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty output dir", func(c *Config) { c.Scraper.OutputDir = " " }, "scraper.output_dir"},
		{"zero batch size", func(c *Config) { c.Scraper.BatchSize = 0 }, "scraper.batch_size"},
		{"negative limit", func(c *Config) { c.Scraper.Limit = -1 }, "scraper.limit"},
		{"zero rate", func(c *Config) { c.Scraper.RateLimitPerMinute = 0 }, "scraper.rate_limit_per_minute"},
		{"headless parallel", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }, "headless.max_parallel"},
		{"page size", func(c *Config) { c.Search.PageSize = 101 }, "search.page_size"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"local without dir", func(c *Config) { c.Storage.Backend = BackendLocal }, "storage.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
