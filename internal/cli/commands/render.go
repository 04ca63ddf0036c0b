package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/orchestrator"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatYAML     = "yaml"
)

func renderResult(w io.Writer, res *core.QueryResult, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, res)
	case FormatCSV:
		return renderCSV(w, res)
	case FormatMarkdown, "md":
		return renderMarkdown(w, res)
	default:
		return renderTable(w, res)
	}
}

func renderTable(w io.Writer, res *core.QueryResult) error {
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if width := terminalWidth(w); width > 0 {
		t.SetAllowedRowLength(width)
	}

	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range res.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	t.Render()
	suffix := ""
	if res.Truncated {
		suffix = ", truncated"
	}
	_, _ = fmt.Fprintf(w, "(%d rows%s)\n", len(res.Rows), suffix)
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func renderCSV(w io.Writer, res *core.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return err
	}
	record := make([]string, len(res.Columns))
	for _, r := range res.Rows {
		for i := range record {
			record[i] = ""
			if i < len(r) {
				record[i] = formatValue(r[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderMarkdown(w io.Writer, res *core.QueryResult) error {
	if len(res.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	header := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, r := range res.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}
	t.RenderMarkdown()
	return nil
}

// renderAnswer writes the result in format, preceded by the chart choice
// and SQL for human-readable formats.
func renderAnswer(w io.Writer, ans *orchestrator.Answer, format string) error {
	if format == FormatJSON {
		return renderJSON(w, ans)
	}
	if format == FormatTable {
		_, _ = fmt.Fprintf(w, "SQL: %s\n", oneLine(ans.SQL))
		_, _ = fmt.Fprintf(w, "Chart: %s\n\n", describeChart(ans.Chart))
	}
	return renderResult(w, ans.Result, format)
}

func describeChart(c core.ChartConfig) string {
	var parts []string
	if c.XField != "" {
		parts = append(parts, "x="+c.XField)
	}
	if c.YField != "" {
		parts = append(parts, "y="+c.YField)
	}
	if c.GroupByField != "" {
		parts = append(parts, "group="+c.GroupByField)
	}
	if c.RowLimit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", c.RowLimit))
	}
	if len(parts) == 0 {
		return string(c.Type)
	}
	return fmt.Sprintf("%s (%s)", c.Type, strings.Join(parts, ", "))
}

func renderTableInfo(w io.Writer, info *core.TableInfo, format string) error {
	if format == FormatJSON {
		return renderJSON(w, info)
	}

	_, _ = fmt.Fprintf(w, "Loaded %s (%d rows)\n\n", info.Table, info.TotalRows)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Type"})
	for _, c := range info.Columns {
		t.AppendRow(table.Row{c.Name, c.Type})
	}
	t.Render()

	if len(info.SampleRows) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(w, "\nSample:")
	cols := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		cols[i] = c.Name
	}
	return renderTable(w, &core.QueryResult{Columns: cols, Rows: info.SampleRows})
}

// terminalWidth returns the column count of w when it is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case *big.Int:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
