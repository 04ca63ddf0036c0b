package state

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapviz/pkg/core"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore()
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.now
	n := 0
	store.newID = func() string {
		n++
		return fmt.Sprintf("d%d", n)
	}
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleInput(name string) core.DashboardInput {
	return core.DashboardInput{
		Name:        name,
		Question:    "sales by region",
		SQL:         "SELECT region, SUM(sales) FROM sales GROUP BY 1",
		ChartConfig: core.ChartConfig{Type: core.ChartBar, XField: "region", YField: "sales", RowLimit: 500},
	}
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestSQLiteStore_NotOpen(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore()

	assert.ErrorIs(t, store.Migrate(), ErrNotOpen)
	_, err := store.ListDashboards(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = store.CreateDashboard(ctx, sampleInput("x"))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, store.DeleteDashboard(ctx, "x"), ErrNotOpen)
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := setupTestStore(t)

	v, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Running again is a no-op.
	require.NoError(t, store.Migrate())
}

func TestSQLiteStore_DashboardLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	created, err := store.CreateDashboard(ctx, sampleInput("Sales"))
	require.NoError(t, err)
	assert.Equal(t, "d1", created.ID)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := store.GetDashboard(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sales", got.Name)
	assert.Equal(t, "sales by region", got.Question)
	assert.Equal(t, core.ChartConfig{Type: core.ChartBar, XField: "region", YField: "sales", RowLimit: 500}, got.ChartConfig)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	in := sampleInput("Sales v2")
	in.ChartConfig = core.ChartConfig{Type: core.ChartPie, XField: "region", YField: "sales"}
	updated, err := store.UpdateDashboard(ctx, created.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Sales v2", updated.Name)
	assert.Equal(t, core.ChartPie, updated.ChartConfig.Type)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	require.NoError(t, store.DeleteDashboard(ctx, created.ID))
	_, err = store.GetDashboard(ctx, created.ID)
	assert.ErrorIs(t, err, ErrDashboardNotFound)
}

func TestSQLiteStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	list, err := store.ListDashboards(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	for _, name := range []string{"first", "second", "third"} {
		_, err := store.CreateDashboard(ctx, sampleInput(name))
		require.NoError(t, err)
	}
	// Touch the first one so it becomes the most recent.
	_, err = store.UpdateDashboard(ctx, "d1", sampleInput("first again"))
	require.NoError(t, err)

	list, err = store.ListDashboards(ctx)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"first again", "third", "second"}, names)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	tests := []struct {
		name string
		op   func() error
	}{
		{"get", func() error { _, err := store.GetDashboard(ctx, "missing"); return err }},
		{"update", func() error { _, err := store.UpdateDashboard(ctx, "missing", sampleInput("x")); return err }},
		{"delete", func() error { return store.DeleteDashboard(ctx, "missing") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.ErrorIs(t, err, ErrDashboardNotFound)
			assert.Contains(t, err.Error(), "missing")
		})
	}
}

func TestSQLiteStore_FilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store := NewSQLiteStore()
	require.NoError(t, store.Open(path))
	require.NoError(t, store.Migrate())
	d, err := store.CreateDashboard(ctx, sampleInput("Persisted"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore()
	require.NoError(t, reopened.Open(path))
	defer reopened.Close()
	require.NoError(t, reopened.Migrate())

	got, err := reopened.GetDashboard(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persisted", got.Name)
}
