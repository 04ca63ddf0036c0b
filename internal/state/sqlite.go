// Package state persists saved dashboards in SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/leapstack-labs/leapviz/pkg/core"
)

var (
	// ErrNotOpen is returned when the store is used before Open.
	ErrNotOpen = errors.New("database not opened")

	// ErrDashboardNotFound is returned for unknown dashboard IDs.
	ErrDashboardNotFound = errors.New("dashboard not found")
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements core.DashboardStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	now   func() time.Time
	newID func() string
}

var _ core.DashboardStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite dashboard store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	var dsn string
	if path == ":memory:" || path == "" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// CreateDashboard inserts a new dashboard with a generated ID.
func (s *SQLiteStore) CreateDashboard(ctx context.Context, in core.DashboardInput) (*core.Dashboard, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	chartJSON, err := json.Marshal(in.ChartConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart config: %w", err)
	}
	now := s.now()
	d := &core.Dashboard{
		ID:          s.newID(),
		Name:        in.Name,
		Question:    in.Question,
		SQL:         in.SQL,
		ChartConfig: in.ChartConfig,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dashboards (id, name, question, sql_text, chart_config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Question, d.SQL, string(chartJSON), now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashboard: %w", err)
	}
	return d, nil
}

// UpdateDashboard replaces the writable fields of a dashboard.
func (s *SQLiteStore) UpdateDashboard(ctx context.Context, id string, in core.DashboardInput) (*core.Dashboard, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	chartJSON, err := json.Marshal(in.ChartConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chart config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dashboards SET name = ?, question = ?, sql_text = ?, chart_config = ?, updated_at = ? WHERE id = ?`,
		in.Name, in.Question, in.SQL, string(chartJSON), s.now().Format(timeLayout), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update dashboard: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, id)
	}
	return s.GetDashboard(ctx, id)
}

// GetDashboard retrieves a dashboard by ID.
func (s *SQLiteStore) GetDashboard(ctx context.Context, id string) (*core.Dashboard, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, question, sql_text, chart_config, created_at, updated_at FROM dashboards WHERE id = ?`, id)
	d, err := scanDashboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDashboardNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}
	return d, nil
}

// ListDashboards returns all dashboards, most recently updated first.
func (s *SQLiteStore) ListDashboards(ctx context.Context) ([]core.Dashboard, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, question, sql_text, chart_config, created_at, updated_at
		 FROM dashboards ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []core.Dashboard{}
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dashboard: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dashboards: %w", err)
	}
	return out, nil
}

// DeleteDashboard removes a dashboard.
func (s *SQLiteStore) DeleteDashboard(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDashboardNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDashboard(r rowScanner) (*core.Dashboard, error) {
	var (
		d                core.Dashboard
		chartJSON        string
		created, updated string
	)
	if err := r.Scan(&d.ID, &d.Name, &d.Question, &d.SQL, &chartJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chartJSON), &d.ChartConfig); err != nil {
		return nil, fmt.Errorf("invalid chart config for dashboard %s: %w", d.ID, err)
	}

	var err error
	if d.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("invalid created_at for dashboard %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("invalid updated_at for dashboard %s: %w", d.ID, err)
	}
	return &d, nil
}
