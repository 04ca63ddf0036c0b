package core

// ColumnInfo describes one column of an uploaded dataset.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableInfo is the backend's description of an uploaded dataset.
type TableInfo struct {
	Table      string       `json:"table"`
	Columns    []ColumnInfo `json:"columns"`
	SampleRows [][]any      `json:"sample_rows,omitempty"`
	TotalRows  int64        `json:"total_rows,omitempty"`
}

// ColumnNames returns the dataset's column names in order.
func (t *TableInfo) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// QueryResult is the tabular outcome of executing SQL.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	RuntimeMS int64    `json:"runtime_ms"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Translation is the result of turning a question into SQL.
type Translation struct {
	SQL string `json:"sql"`
}
