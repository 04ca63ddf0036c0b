package chart

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/leapviz/pkg/core"
)

func monthlyRevenue(n int) [][]any {
	rows := make([][]any, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i] = []any{start.AddDate(0, i, 0).Format(time.DateOnly), 1000 + i*10}
	}
	return rows
}

func regionSales(regions int) [][]any {
	rows := make([][]any, regions)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("region-%02d", i), float64(100 * (i + 1))}
	}
	return rows
}

func TestSelect_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		rows    [][]any
		want    core.ChartConfig
	}{
		{
			name:    "date and revenue is a line chart",
			columns: []string{"date", "revenue"},
			rows:    monthlyRevenue(12),
			want:    core.ChartConfig{Type: core.ChartLine, XField: "date", YField: "revenue"},
		},
		{
			name:    "four regions is a pie chart",
			columns: []string{"region", "sales"},
			rows:    regionSales(4),
			want:    core.ChartConfig{Type: core.ChartPie, XField: "region", YField: "sales"},
		},
		{
			name:    "twenty regions is a bar chart",
			columns: []string{"region", "sales"},
			rows:    regionSales(20),
			want:    core.ChartConfig{Type: core.ChartBar, XField: "region", YField: "sales"},
		},
		{
			name:    "empty rows is a table",
			columns: []string{"region", "sales"},
			rows:    nil,
			want:    core.ChartConfig{Type: core.ChartTable},
		},
		{
			name:    "no columns is a table",
			columns: nil,
			rows:    [][]any{{1}},
			want:    core.ChartConfig{Type: core.ChartTable},
		},
		{
			name:    "only numeric columns is a table",
			columns: []string{"a", "b"},
			rows:    [][]any{{1, 2}, {3, 4}},
			want:    core.ChartConfig{Type: core.ChartTable},
		},
		{
			name:    "two dimensions is a table",
			columns: []string{"region", "product", "sales"},
			rows:    [][]any{{"n", "x", 1}, {"s", "y", 2}},
			want:    core.ChartConfig{Type: core.ChartTable},
		},
		{
			name:    "category with several measures is a bar on the first measure",
			columns: []string{"region", "sales", "profit"},
			rows:    [][]any{{"n", 10, 1}, {"s", 20, 2}},
			want:    core.ChartConfig{Type: core.ChartBar, XField: "region", YField: "sales"},
		},
		{
			name:    "temporal with several measures is a bar",
			columns: []string{"day", "orders", "revenue"},
			rows:    [][]any{{"2024-01-01", 3, 30.5}, {"2024-01-02", 4, 41.0}},
			want:    core.ChartConfig{Type: core.ChartBar, XField: "day", YField: "orders"},
		},
		{
			name:    "line with one extra category groups by it",
			columns: []string{"month", "region", "sales"},
			rows: [][]any{
				{"2024-01", "north", 10},
				{"2024-01", "south", 12},
				{"2024-02", "north", 11},
			},
			want: core.ChartConfig{Type: core.ChartLine, XField: "month", YField: "sales", GroupByField: "region"},
		},
		{
			name:    "too many categories is a table",
			columns: []string{"customer", "spend"},
			rows:    regionSales(DefaultMaxBarCategories + 1),
			want:    core.ChartConfig{Type: core.ChartTable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.columns, tt.rows))
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	inputs := []struct {
		columns []string
		rows    [][]any
	}{
		{[]string{"date", "revenue"}, monthlyRevenue(30)},
		{[]string{"region", "sales"}, regionSales(6)},
		{[]string{"region", "sales"}, regionSales(25)},
		{[]string{"a", "b", "c"}, [][]any{{"x", 1, 2}, {"y", nil, 3}}},
	}
	for _, in := range inputs {
		first := Select(in.columns, in.rows)
		for range 20 {
			assert.Equal(t, first, Select(in.columns, in.rows))
		}
	}
}

func TestSelect_RowLimit(t *testing.T) {
	s := Selector{RowLimit: 10}

	cfg := s.Select([]string{"date", "revenue"}, monthlyRevenue(24))
	assert.Equal(t, core.ChartLine, cfg.Type)
	assert.Equal(t, 10, cfg.RowLimit)

	cfg = s.Select([]string{"date", "revenue"}, monthlyRevenue(6))
	assert.Zero(t, cfg.RowLimit)
}

func TestSelect_PieCardinalityThreshold(t *testing.T) {
	s := Selector{MaxPieCardinality: 3}
	assert.Equal(t, core.ChartPie, s.Select([]string{"r", "v"}, regionSales(3)).Type)
	assert.Equal(t, core.ChartBar, s.Select([]string{"r", "v"}, regionSales(4)).Type)
}

func TestSelect_CardinalityCountsAllRows(t *testing.T) {
	// The sample sees only one region; the whole result has nine.
	rows := make([][]any, 0, 60)
	for range 50 {
		rows = append(rows, []any{"north", 1})
	}
	for i := range 8 {
		rows = append(rows, []any{fmt.Sprintf("r%d", i), 1})
	}
	assert.Equal(t, core.ChartBar, Select([]string{"region", "sales"}, rows).Type)
}

func TestClassifyColumn(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		vals []any
		want ColumnKind
	}{
		{"time values", []any{ts, ts.Add(time.Hour)}, KindTemporal},
		{"date strings", []any{"2024-01-01", "2024-02-01"}, KindTemporal},
		{"rfc3339 strings", []any{"2024-01-01T10:00:00Z"}, KindTemporal},
		{"month strings", []any{"2024-01", "2024-02"}, KindTemporal},
		{"integers", []any{1, int64(2), uint8(3)}, KindNumeric},
		{"floats", []any{1.5, float32(2)}, KindNumeric},
		{"numeric strings", []any{"1.5", " 42 "}, KindNumeric},
		{"json numbers", []any{json.Number("3.14")}, KindNumeric},
		{"signed and exponent strings", []any{"-1.5", "+2e3"}, KindNumeric},
		{"nan and infinity words", []any{"NaN", "Inf", "infinity", "-inf"}, KindCategorical},
		{"hex strings", []any{"0x1p-2", "0x10"}, KindCategorical},
		{"nan json number", []any{json.Number("NaN")}, KindCategorical},
		{"overflowing string", []any{"1e400"}, KindCategorical},
		{"years are numbers", []any{2021, 2022}, KindNumeric},
		{"words", []any{"north", "south"}, KindCategorical},
		{"mixed", []any{"2024-01-01", "north"}, KindCategorical},
		{"number then word", []any{1, "x"}, KindCategorical},
		{"booleans", []any{true, false}, KindCategorical},
		{"all null", []any{nil, nil}, KindCategorical},
		{"nulls skipped", []any{nil, 1, nil, 2}, KindNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := make([][]any, len(tt.vals))
			for i, v := range tt.vals {
				rows[i] = []any{v}
			}
			assert.Equal(t, tt.want, ClassifyColumn(rows, 0, DefaultSampleSize))
		})
	}
}

func TestClassifyColumn_SampleSize(t *testing.T) {
	rows := [][]any{{1}, {2}, {"not a number"}}
	assert.Equal(t, KindNumeric, ClassifyColumn(rows, 0, 2))
	assert.Equal(t, KindCategorical, ClassifyColumn(rows, 0, 3))
}

func TestClassifyColumn_ShortRows(t *testing.T) {
	rows := [][]any{{"a"}, {"b", 1}}
	assert.Equal(t, KindNumeric, ClassifyColumn(rows, 1, DefaultSampleSize))
}
