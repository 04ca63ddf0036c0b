package core

// ChartType identifies the visual grammar of a chart.
type ChartType string

// Chart types understood by the charting layer.
const (
	ChartLine  ChartType = "line"
	ChartBar   ChartType = "bar"
	ChartPie   ChartType = "pie"
	ChartTable ChartType = "table"
)

// ChartConfig tells the charting layer how to draw a result.
type ChartConfig struct {
	Type         ChartType `json:"type" yaml:"type"`
	XField       string    `json:"x_field,omitempty" yaml:"x_field,omitempty"`
	YField       string    `json:"y_field,omitempty" yaml:"y_field,omitempty"`
	GroupByField string    `json:"group_by_field,omitempty" yaml:"group_by_field,omitempty"`
	RowLimit     int       `json:"row_limit,omitempty" yaml:"row_limit,omitempty"`
}
