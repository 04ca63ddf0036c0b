// Package config loads leapviz configuration from defaults, a YAML file,
// LEAPVIZ_ environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/leapviz/pkg/chart"
	"github.com/leapstack-labs/leapviz/pkg/orchestrator"
	"github.com/leapstack-labs/leapviz/pkg/retry"
)

// Config holds all configuration options.
type Config struct {
	Backend   BackendConfig  `koanf:"backend"`
	Database  string         `koanf:"database"`
	StatePath string         `koanf:"state_path" validate:"required"`
	Server    ServerConfig   `koanf:"server"`
	Log       LogConfig      `koanf:"log"`
	Cache     CacheConfig    `koanf:"cache"`
	Retry     RetryConfig    `koanf:"retry"`
	Timeouts  TimeoutsConfig `koanf:"timeouts"`
	Chart     ChartConfig    `koanf:"chart"`
	Engine    EngineConfig   `koanf:"engine"`
	LLM       LLMConfig      `koanf:"llm"`

	// File is the config file that was read, empty when none was found.
	File string `koanf:"-"`
}

// BackendConfig selects the backend the CLI talks to. An empty URL runs
// the reference backend in-process.
type BackendConfig struct {
	URL string `koanf:"url" validate:"omitempty,url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string `koanf:"addr" validate:"required"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes" validate:"gt=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// CacheClass sizes one class of cached responses.
type CacheClass struct {
	MaxEntries int           `koanf:"max_entries" validate:"gte=1"`
	TTL        time.Duration `koanf:"ttl" validate:"gt=0"`
}

// CacheConfig holds the per-class cache settings.
type CacheConfig struct {
	Query      CacheClass `koanf:"query"`
	Dashboards CacheClass `koanf:"dashboards"`
}

// RetryConfig configures the request executor.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts" validate:"gte=1"`
	UploadMaxAttempts int           `koanf:"upload_max_attempts" validate:"gte=1"`
	BaseDelay         time.Duration `koanf:"base_delay" validate:"gte=0"`
	Multiplier        float64       `koanf:"multiplier" validate:"gte=1"`
	Jitter            bool          `koanf:"jitter"`
}

// TimeoutsConfig bounds one attempt per operation class.
type TimeoutsConfig struct {
	Translate time.Duration `koanf:"translate" validate:"gte=0"`
	Execute   time.Duration `koanf:"execute" validate:"gte=0"`
	Upload    time.Duration `koanf:"upload" validate:"gte=0"`
	CRUD      time.Duration `koanf:"crud" validate:"gte=0"`
}

// ChartConfig tunes chart selection.
type ChartConfig struct {
	SampleSize        int `koanf:"sample_size" validate:"gte=1"`
	PieMaxCardinality int `koanf:"pie_max_cardinality" validate:"gte=1"`
	BarMaxCategories  int `koanf:"bar_max_categories" validate:"gte=1"`
	RowLimit          int `koanf:"row_limit" validate:"gte=1"`
}

// EngineConfig tunes the reference backend.
type EngineConfig struct {
	MaxRows     int               `koanf:"max_rows" validate:"gte=1"`
	PreviewRows int               `koanf:"preview_rows" validate:"gte=0"`
	Extensions  []string          `koanf:"extensions"`
	Settings    map[string]string `koanf:"settings"`
}

// LLMConfig configures the question translator. Without an API key only
// questions that are already SQL can be answered.
type LLMConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"omitempty,url"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float32       `koanf:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
}

// OrchestratorConfig converts the settings for the orchestrator.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		QueryTTL:            c.Cache.Query.TTL,
		QueryCacheSize:      c.Cache.Query.MaxEntries,
		DashboardsTTL:       c.Cache.Dashboards.TTL,
		DashboardsCacheSize: c.Cache.Dashboards.MaxEntries,
		Retry: retry.Policy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			Multiplier:  c.Retry.Multiplier,
			Jitter:      c.Retry.Jitter,
		},
		UploadMaxAttempts: c.Retry.UploadMaxAttempts,
		Timeouts: orchestrator.Timeouts{
			Translate: c.Timeouts.Translate,
			Execute:   c.Timeouts.Execute,
			Upload:    c.Timeouts.Upload,
			CRUD:      c.Timeouts.CRUD,
		},
		Chart: chart.Selector{
			SampleSize:        c.Chart.SampleSize,
			MaxPieCardinality: c.Chart.PieMaxCardinality,
			MaxBarCategories:  c.Chart.BarMaxCategories,
			RowLimit:          c.Chart.RowLimit,
		},
	}
}
