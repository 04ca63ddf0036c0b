package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapviz/internal/testutil"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

func connectMemory(t *testing.T) *DuckDB {
	t.Helper()
	a := NewDuckDB(testutil.NewTestLogger(t))
	require.NoError(t, a.Connect(context.Background(), core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDuckDB_ConnectFileBased(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.duckdb")
	a := NewDuckDB(nil)
	require.NoError(t, a.Connect(context.Background(), core.AdapterConfig{Path: dbPath}))
	defer a.Close()

	require.NoError(t, a.Exec(context.Background(), "CREATE TABLE t (id INTEGER)"))
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, "duckdb", a.DialectName())
}

func TestDuckDB_LoadCSVAndQuery(t *testing.T) {
	ctx := context.Background()
	a := connectMemory(t)
	path := writeCSV(t, "region,sales\neast,10\nwest,20\nnorth,30\n")

	require.NoError(t, a.LoadCSV(ctx, "sales data", path))

	res, err := a.Query(ctx, `SELECT region, sales FROM "sales data" ORDER BY sales`, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "sales"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "east", res.Rows[0][0])
	assert.EqualValues(t, 10, res.Rows[0][1])
	assert.True(t, res.Truncated)

	meta, err := a.GetTableMetadata(ctx, "sales data")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.RowCount)
	require.Len(t, meta.Columns, 2)
	assert.Equal(t, "region", meta.Columns[0].Name)
	assert.Equal(t, "VARCHAR", meta.Columns[0].Type)
}

func TestDuckDB_LoadCSVReplacesTable(t *testing.T) {
	ctx := context.Background()
	a := connectMemory(t)

	require.NoError(t, a.LoadCSV(ctx, "data", writeCSV(t, "a\n1\n2\n")))
	require.NoError(t, a.LoadCSV(ctx, "data", writeCSV(t, "b,c\nx,1\n")))

	meta, err := a.GetTableMetadata(ctx, "data")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.RowCount)
	assert.Len(t, meta.Columns, 2)
}

func TestDuckDB_QueryError(t *testing.T) {
	a := connectMemory(t)
	_, err := a.Query(context.Background(), "SELECT * FROM missing_table", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute query")
}

func TestDuckDB_Params(t *testing.T) {
	ctx := context.Background()

	t.Run("settings applied", func(t *testing.T) {
		a := NewDuckDB(nil)
		err := a.Connect(ctx, core.AdapterConfig{Params: map[string]any{
			"settings": map[string]string{"threads": "2"},
		}})
		require.NoError(t, err)
		defer a.Close()

		res, err := a.Query(ctx, "SELECT current_setting('threads')", 0)
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "2", fmt.Sprint(res.Rows[0][0]))
	})

	t.Run("invalid setting name", func(t *testing.T) {
		a := NewDuckDB(nil)
		err := a.Connect(ctx, core.AdapterConfig{Params: map[string]any{
			"settings": map[string]string{"threads; DROP": "2"},
		}})
		require.Error(t, err)
		assert.False(t, a.IsConnected())
	})

	t.Run("params of wrong shape", func(t *testing.T) {
		a := NewDuckDB(nil)
		err := a.Connect(ctx, core.AdapterConfig{Params: map[string]any{"extensions": 42}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duckdb params")
	})
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, ListAdapters(), DialectDuckDB)

	a, err := NewAdapter(core.AdapterConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DialectDuckDB, a.DialectName())

	_, err = NewAdapter(core.AdapterConfig{Type: "oracle"}, nil)
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
}
