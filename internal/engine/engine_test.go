package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapviz/internal/testutil"
	"github.com/leapstack-labs/leapviz/internal/translate"
	"github.com/leapstack-labs/leapviz/pkg/apierr"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

func openTestEngine(t *testing.T, tr translate.Translator) *Engine {
	t.Helper()
	e, err := Open(context.Background(), Config{
		StatePath:   ":memory:",
		MaxRows:     100,
		PreviewRows: 5,
	}, tr, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"sales.csv":           "sales",
		"Q3 Revenue (v2).CSV": "q3_revenue_v2",
		"2024-orders.csv":     "t_2024_orders",
		"/tmp/x/Data.txt":     "data",
		"---.csv":             "dataset",
		"":                    "dataset",
	}
	for in, want := range tests {
		assert.Equal(t, want, TableName(in), in)
	}
}

func TestEngine_UploadDemo(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()

	info, err := e.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)
	assert.Equal(t, "demo_sales", info.Table)
	assert.Equal(t, int64(144), info.TotalRows)
	assert.Len(t, info.SampleRows, 5)

	names := make([]string, 0, len(info.Columns))
	for _, c := range info.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"date", "region", "product", "units", "revenue"}, names)

	table, cols := e.Dataset()
	assert.Equal(t, "demo_sales", table)
	assert.Len(t, cols, 5)
}

func TestEngine_UploadFile(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()

	info, err := e.Upload(ctx, core.UploadRequest{
		FileName: "My Orders.csv",
		Content:  strings.NewReader("id,amount\n1,10.5\n2,20\n3,7.25\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "my_orders", info.Table)
	assert.Equal(t, int64(3), info.TotalRows)
	assert.Len(t, info.SampleRows, 3)

	res, err := e.Execute(ctx, "SELECT SUM(amount) AS total FROM my_orders", "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 37.75, res.Rows[0][0], 0.0001)
}

func TestEngine_UploadErrors(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  core.UploadRequest
		want error
	}{
		{"no content", core.UploadRequest{FileName: "a.csv"}, ErrInvalidInput},
		{"not csv", core.UploadRequest{FileName: "a.xlsx", Content: strings.NewReader("x")}, ErrUnsupportedMedia},
		{"empty", core.UploadRequest{FileName: "a.csv", Content: strings.NewReader("")}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Upload(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	table, _ := e.Dataset()
	assert.Empty(t, table)
}

func TestEngine_TranslateWithoutModel(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Translate(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Translate(ctx, "sales by region")
	assert.ErrorIs(t, err, ErrNoDataset)

	tr, err := e.Translate(ctx, "SELECT 1;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", tr.SQL)

	_, err = e.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)
	_, err = e.Translate(ctx, "sales by region")
	assert.ErrorIs(t, err, ErrUnsupportedQuestion)
}

func TestEngine_TranslateWithModel(t *testing.T) {
	var got translate.Request
	llm := translate.Func(func(_ context.Context, req translate.Request) (string, error) {
		got = req
		if strings.Contains(req.Question, "fail") {
			return "", errors.New("upstream down")
		}
		return "SELECT region, SUM(revenue) FROM demo_sales GROUP BY 1", nil
	})
	e := openTestEngine(t, llm)
	ctx := context.Background()

	_, err := e.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)

	tr, err := e.Translate(ctx, "revenue by region")
	require.NoError(t, err)
	assert.Equal(t, "SELECT region, SUM(revenue) FROM demo_sales GROUP BY 1", tr.SQL)
	assert.Equal(t, "demo_sales", got.Table)
	assert.Equal(t, "duckdb", got.Dialect)
	assert.Len(t, got.Columns, 5)

	_, err = e.Translate(ctx, "please fail")
	assert.ErrorIs(t, err, ErrTranslation)
	assert.ErrorContains(t, err, "upstream down")
}

func TestEngine_Execute(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)

	res, err := e.Execute(ctx, "SELECT region, SUM(units) AS units FROM demo_sales GROUP BY 1 ORDER BY 1;", "units by region")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "units"}, res.Columns)
	assert.Equal(t, 4, res.RowCount)
	assert.Equal(t, "East", res.Rows[0][0])

	res, err = e.Execute(ctx, "FROM demo_sales", "")
	require.NoError(t, err)
	assert.Equal(t, 100, res.RowCount)
	assert.True(t, res.Truncated)

	tests := []string{"", "DROP TABLE demo_sales", "SELECT missing FROM demo_sales"}
	for _, sql := range tests {
		_, err := e.Execute(ctx, sql, "")
		assert.ErrorIs(t, err, ErrInvalidInput, sql)
	}
}

func TestEngine_ExecuteRejectsStackedStatements(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)

	for _, sql := range []string{
		"SELECT 1; DROP TABLE demo_sales; SELECT 1",
		"SELECT 1 -- harmless\n; DELETE FROM demo_sales",
		"WITH t AS (SELECT 1) DELETE FROM demo_sales",
	} {
		_, err := e.Execute(ctx, sql, "")
		assert.ErrorIs(t, err, ErrInvalidInput, sql)
	}

	res, err := e.Execute(ctx, "SELECT count(*) AS n FROM demo_sales", "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 144, res.Rows[0][0])
}

func TestEngine_Dashboards(t *testing.T) {
	e := openTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.SaveDashboard(ctx, core.DashboardInput{SQL: "SELECT 1"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorContains(t, err, "name (required)")

	d, err := e.SaveDashboard(ctx, core.DashboardInput{
		Name:        "Revenue",
		Question:    "revenue by region",
		SQL:         "SELECT 1",
		ChartConfig: core.ChartConfig{Type: core.ChartBar, XField: "region", YField: "revenue"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)

	updated, err := e.UpdateDashboard(ctx, d.ID, core.DashboardInput{Name: "Revenue v2", SQL: "SELECT 2"})
	require.NoError(t, err)
	assert.Equal(t, "Revenue v2", updated.Name)

	list, err := e.ListDashboards(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := e.GetDashboard(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", got.SQL)

	require.NoError(t, e.DeleteDashboard(ctx, d.ID))
	_, err = e.GetDashboard(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.DeleteDashboard(ctx, d.ID), ErrNotFound)
	_, err = e.UpdateDashboard(ctx, d.ID, core.DashboardInput{Name: "x", SQL: "SELECT 1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_CloseRemovesUploads(t *testing.T) {
	e, err := Open(context.Background(), Config{StatePath: filepath.Join(t.TempDir(), "state", "leapviz.db")}, nil, nil)
	require.NoError(t, err)
	_, err = e.Upload(context.Background(), core.UploadRequest{UseDemo: true})
	require.NoError(t, err)

	dir := e.tmpDir
	require.DirExists(t, dir)
	require.NoError(t, e.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFound, 404},
		{fmt.Errorf("%w: bad", ErrInvalidInput), 400},
		{ErrUnsupportedMedia, 415},
		{ErrNoDataset, 422},
		{ErrUnsupportedQuestion, 422},
		{fmt.Errorf("%w: boom", ErrTranslation), 502},
		{context.DeadlineExceeded, 504},
		{errors.New("disk on fire"), 500},
	}
	for _, tt := range tests {
		status, msg := Status(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}

func TestEngine_Local(t *testing.T) {
	e := openTestEngine(t, nil)
	b := e.Local()
	ctx := context.Background()

	_, err := b.Translate(ctx, "sales by region")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.KindValidation, ae.Kind)
	assert.Equal(t, 422, ae.Status)
	assert.False(t, ae.Retryable)
	assert.ErrorIs(t, err, ErrNoDataset)

	err = b.DeleteDashboard(ctx, "missing")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.KindNotFound, ae.Kind)

	info, err := b.Upload(ctx, core.UploadRequest{UseDemo: true})
	require.NoError(t, err)
	assert.Equal(t, "demo_sales", info.Table)
}
