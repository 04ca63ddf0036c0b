package config

import (
	"time"

	"github.com/leapstack-labs/leapviz/pkg/chart"
	"github.com/leapstack-labs/leapviz/pkg/retry"
)

// Default configuration values.
const (
	DefaultStateFile      = ".leapviz/state.db"
	DefaultAddr           = "127.0.0.1:8787"
	DefaultMaxUploadBytes = 50 << 20
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMaxRows        = 10000
	DefaultPreviewRows    = 20
	DefaultLLMModel       = "gpt-4o-mini"
)

// defaults returns the lowest-precedence layer as a flat key map.
func defaults() map[string]any {
	return map[string]any{
		"backend.url":             "",
		"database":                "",
		"state_path":              DefaultStateFile,
		"server.addr":             DefaultAddr,
		"server.max_upload_bytes": DefaultMaxUploadBytes,
		"log.level":               DefaultLogLevel,
		"log.format":              DefaultLogFormat,

		"cache.query.max_entries":      100,
		"cache.query.ttl":              "5m",
		"cache.dashboards.max_entries": 10,
		"cache.dashboards.ttl":         "30m",

		"retry.max_attempts":        retry.DefaultMaxAttempts,
		"retry.upload_max_attempts": retry.DefaultUploadMaxAttempts,
		"retry.base_delay":          retry.DefaultBaseDelay.String(),
		"retry.multiplier":          retry.DefaultMultiplier,
		"retry.jitter":              true,

		"timeouts.translate": (60 * time.Second).String(),
		"timeouts.execute":   (60 * time.Second).String(),
		"timeouts.upload":    (120 * time.Second).String(),
		"timeouts.crud":      (10 * time.Second).String(),

		"chart.sample_size":         chart.DefaultSampleSize,
		"chart.pie_max_cardinality": chart.DefaultMaxPieCardinality,
		"chart.bar_max_categories":  chart.DefaultMaxBarCategories,
		"chart.row_limit":           chart.DefaultRowLimit,

		"engine.max_rows":     DefaultMaxRows,
		"engine.preview_rows": DefaultPreviewRows,

		"llm.base_url":    "",
		"llm.model":       DefaultLLMModel,
		"llm.api_key":     "${OPENAI_API_KEY}",
		"llm.temperature": 0.0,
		"llm.timeout":     "0s",
	}
}
