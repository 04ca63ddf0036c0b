// Package viewstate holds the two independently evolving view states of a
// session: the data view describing the uploaded dataset and the dashboard
// view describing query-derived charts.
package viewstate

import (
	"slices"

	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

// View identifies which sub-state the user is looking at.
type View string

// Views.
const (
	ViewData      View = "data"
	ViewDashboard View = "dashboard"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	return v == ViewData || v == ViewDashboard
}

// Chart is one visualization on the dashboard.
type Chart struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Question string            `json:"question,omitempty"`
	SQL      string            `json:"sql"`
	Config   core.ChartConfig  `json:"config"`
	Result   *core.QueryResult `json:"result,omitempty"`
}

// DataView describes the uploaded dataset only.
type DataView struct {
	TableInfo   *core.TableInfo `json:"table_info,omitempty"`
	PreviewRows [][]any         `json:"preview_rows,omitempty"`
	IsLoading   bool            `json:"is_loading"`
	Error       *apierr.Error   `json:"error,omitempty"`
}

func (d DataView) clone() DataView {
	d.PreviewRows = slices.Clone(d.PreviewRows)
	return d
}

// DashboardView describes query-derived visualizations only.
type DashboardView struct {
	QueryResults *core.QueryResult `json:"query_results,omitempty"`
	Charts       []Chart           `json:"charts,omitempty"`
	CurrentChart *Chart            `json:"current_chart,omitempty"`
	CurrentQuery string            `json:"current_query,omitempty"`
	CurrentSQL   string            `json:"current_sql,omitempty"`
	Stage        string            `json:"stage,omitempty"`
	IsLoading    bool              `json:"is_loading"`
	Error        *apierr.Error     `json:"error,omitempty"`
}

func (d DashboardView) clone() DashboardView {
	d.Charts = slices.Clone(d.Charts)
	if d.CurrentChart != nil {
		c := *d.CurrentChart
		d.CurrentChart = &c
	}
	return d
}

// AddChart replaces the chart with the same non-empty ID, or appends it.
// The chart also becomes the current chart.
func (d *DashboardView) AddChart(c Chart) {
	replaced := false
	if c.ID != "" {
		for i := range d.Charts {
			if d.Charts[i].ID == c.ID {
				d.Charts[i] = c
				replaced = true
				break
			}
		}
	}
	if !replaced {
		d.Charts = append(d.Charts, c)
	}
	cur := c
	d.CurrentChart = &cur
}

// RemoveChart drops the chart with the given ID. It reports whether a chart
// was removed.
func (d *DashboardView) RemoveChart(id string) bool {
	i := slices.IndexFunc(d.Charts, func(c Chart) bool { return c.ID == id })
	if i < 0 {
		return false
	}
	d.Charts = slices.Delete(d.Charts, i, i+1)
	if d.CurrentChart != nil && d.CurrentChart.ID == id {
		d.CurrentChart = nil
	}
	return true
}

// introducesChart reports whether after contains a chart that before did
// not: an ID before lacked, or more charts than before. Which chart is
// current does not matter.
func introducesChart(before, after DashboardView) bool {
	if len(after.Charts) > len(before.Charts) {
		return true
	}
	known := make(map[string]struct{}, len(before.Charts))
	for _, c := range before.Charts {
		if c.ID != "" {
			known[c.ID] = struct{}{}
		}
	}
	for _, c := range after.Charts {
		if c.ID == "" {
			continue
		}
		if _, ok := known[c.ID]; !ok {
			return true
		}
	}
	return false
}

// State is an immutable snapshot of both views. Slices and pointers inside
// are shared between snapshots and must be treated as read-only.
type State struct {
	CurrentView   View          `json:"current_view"`
	DataView      DataView      `json:"data_view"`
	DashboardView DashboardView `json:"dashboard_view"`

	// Version increases by one with every published snapshot.
	Version uint64 `json:"version"`
}
