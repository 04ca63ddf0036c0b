// Package chart picks a chart configuration for an arbitrary tabular result.
//
// Selection is a pure function of the columns and rows: identical input
// always yields an identical ChartConfig, and ties are broken by column
// order.
package chart

import (
	"github.com/leapstack-labs/leapviz/pkg/core"
)

// Default selector settings.
const (
	DefaultSampleSize        = 50
	DefaultMaxPieCardinality = 8
	DefaultMaxBarCategories  = 50
	DefaultRowLimit          = 500
)

// Selector holds the thresholds used by Select. Zero fields use defaults.
type Selector struct {
	// SampleSize is how many non-null values are inspected per column.
	SampleSize int

	// MaxPieCardinality is the largest category count drawn as a pie.
	MaxPieCardinality int

	// MaxBarCategories is the largest category count drawn as a bar chart.
	MaxBarCategories int

	// RowLimit caps the rows a line or bar chart draws.
	RowLimit int
}

// Default returns a selector with the default thresholds.
func Default() Selector {
	return Selector{
		SampleSize:        DefaultSampleSize,
		MaxPieCardinality: DefaultMaxPieCardinality,
		MaxBarCategories:  DefaultMaxBarCategories,
		RowLimit:          DefaultRowLimit,
	}
}

func (s Selector) withDefaults() Selector {
	d := Default()
	if s.SampleSize <= 0 {
		s.SampleSize = d.SampleSize
	}
	if s.MaxPieCardinality <= 0 {
		s.MaxPieCardinality = d.MaxPieCardinality
	}
	if s.MaxBarCategories <= 0 {
		s.MaxBarCategories = d.MaxBarCategories
	}
	if s.RowLimit <= 0 {
		s.RowLimit = d.RowLimit
	}
	return s
}

// Select picks a chart using the default thresholds.
func Select(columns []string, rows [][]any) core.ChartConfig {
	return Default().Select(columns, rows)
}

// Select picks a chart for the result:
//
//   - one temporal and one numeric column: line (x temporal, y numeric)
//   - one categorical and one numeric column with few distinct values: pie
//   - one dimension and at least one numeric column: bar (y is the first numeric)
//   - anything else: table
func (s Selector) Select(columns []string, rows [][]any) core.ChartConfig {
	s = s.withDefaults()
	table := core.ChartConfig{Type: core.ChartTable}
	if len(columns) == 0 || len(rows) == 0 {
		return table
	}

	var temporal, numeric, categorical []int
	for i := range columns {
		switch ClassifyColumn(rows, i, s.SampleSize) {
		case KindTemporal:
			temporal = append(temporal, i)
		case KindNumeric:
			numeric = append(numeric, i)
		default:
			categorical = append(categorical, i)
		}
	}

	switch {
	case len(temporal) == 1 && len(numeric) == 1:
		cfg := core.ChartConfig{
			Type:   core.ChartLine,
			XField: columns[temporal[0]],
			YField: columns[numeric[0]],
		}
		if len(categorical) == 1 {
			cfg.GroupByField = columns[categorical[0]]
		}
		return s.limitRows(cfg, rows)

	case len(categorical) == 1 && len(numeric) == 1 && len(temporal) == 0 &&
		distinctCount(rows, categorical[0]) <= s.MaxPieCardinality:
		return core.ChartConfig{
			Type:   core.ChartPie,
			XField: columns[categorical[0]],
			YField: columns[numeric[0]],
		}

	case len(temporal)+len(categorical) == 1 && len(numeric) >= 1:
		dim := firstOf(temporal, categorical)
		if distinctCount(rows, dim) > s.MaxBarCategories {
			return table
		}
		cfg := core.ChartConfig{
			Type:   core.ChartBar,
			XField: columns[dim],
			YField: columns[numeric[0]],
		}
		return s.limitRows(cfg, rows)
	}

	return table
}

func (s Selector) limitRows(cfg core.ChartConfig, rows [][]any) core.ChartConfig {
	if len(rows) > s.RowLimit {
		cfg.RowLimit = s.RowLimit
	}
	return cfg
}

// firstOf returns the only index present in either slice.
func firstOf(a, b []int) int {
	if len(a) > 0 {
		return a[0]
	}
	return b[0]
}
