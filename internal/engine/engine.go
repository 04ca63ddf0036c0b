// Package engine is the in-process reference backend. It loads uploaded
// CSV files into DuckDB, translates questions, executes SQL and persists
// dashboards in SQLite.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapviz/internal/adapter"
	"github.com/leapstack-labs/leapviz/internal/state"
	"github.com/leapstack-labs/leapviz/internal/translate"
	"github.com/leapstack-labs/leapviz/pkg/core"
	"github.com/leapstack-labs/leapviz/pkg/sqlscan"
)

// Sentinel errors mapped to HTTP statuses by the server.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedMedia    = errors.New("unsupported media type")
	ErrNoDataset           = errors.New("no dataset loaded")
	ErrUnsupportedQuestion = errors.New("question cannot be translated")
	ErrTranslation         = errors.New("translation failed")
)

// Default limits.
const (
	DefaultMaxRows     = 10000
	DefaultPreviewRows = 20
)

// Config holds engine configuration.
type Config struct {
	// DatabasePath is the DuckDB database file (empty for in-memory).
	DatabasePath string
	// StatePath is the SQLite dashboard database file.
	StatePath string
	// MaxRows bounds rows returned by Execute.
	MaxRows int
	// PreviewRows is the number of sample rows returned on upload.
	PreviewRows int
	// DuckDB holds adapter params (extensions, settings).
	DuckDB map[string]any
}

// Engine implements core.Backend in-process. It is safe for concurrent use.
type Engine struct {
	db         core.Adapter
	store      core.DashboardStore
	translator translate.Translator
	logger     *slog.Logger
	maxRows    int
	preview    int
	tmpDir     string

	mu      sync.RWMutex
	table   string
	columns []core.ColumnInfo
}

var _ core.Backend = (*Engine)(nil)

// Open connects DuckDB and the dashboard store described by cfg and returns
// a ready engine. tr may be nil, in which case only SQL questions work.
func Open(ctx context.Context, cfg Config, tr translate.Translator, logger *slog.Logger) (*Engine, error) {
	db, err := adapter.NewAdapter(core.AdapterConfig{Type: adapter.DialectDuckDB, Path: cfg.DatabasePath, Params: cfg.DuckDB}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx, core.AdapterConfig{Type: adapter.DialectDuckDB, Path: cfg.DatabasePath, Params: cfg.DuckDB}); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store := state.NewSQLiteStore()
	if cfg.StatePath != "" && cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o750); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := store.Open(cfg.StatePath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = db.Close()
		_ = store.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}

	e, err := New(db, store, tr, cfg, logger)
	if err != nil {
		_ = db.Close()
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

// New creates an engine over a connected adapter and an opened, migrated
// store. The engine owns both and closes them in Close.
func New(db core.Adapter, store core.DashboardStore, tr translate.Translator, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dir, err := os.MkdirTemp("", "leapviz-uploads-")
	if err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	chain := translate.Chain{translate.Passthrough{}}
	if tr != nil {
		chain = append(chain, tr)
	}

	e := &Engine{
		db:         db,
		store:      store,
		translator: chain,
		logger:     logger,
		maxRows:    cfg.MaxRows,
		preview:    cfg.PreviewRows,
		tmpDir:     dir,
	}
	if e.maxRows <= 0 {
		e.maxRows = DefaultMaxRows
	}
	if e.preview < 0 {
		e.preview = 0
	}
	return e, nil
}

// Close releases the database, the store and uploaded files.
func (e *Engine) Close() error {
	return errors.Join(e.db.Close(), e.store.Close(), os.RemoveAll(e.tmpDir))
}

// Dataset returns the currently loaded table and its columns.
func (e *Engine) Dataset() (string, []core.ColumnInfo) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table, e.columns
}

// Upload loads a CSV file (or the demo dataset) as the current table.
func (e *Engine) Upload(ctx context.Context, req core.UploadRequest) (*core.TableInfo, error) {
	var (
		table string
		src   io.Reader
	)
	switch {
	case req.UseDemo:
		table = demoTable
		src = strings.NewReader(demoCSV)
	case req.Content == nil:
		return nil, fmt.Errorf("%w: no file provided", ErrInvalidInput)
	default:
		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext != ".csv" && ext != ".txt" {
			return nil, fmt.Errorf("%w: %q is not a CSV file", ErrUnsupportedMedia, req.FileName)
		}
		table = TableName(req.FileName)
		src = req.Content
	}

	path := filepath.Join(e.tmpDir, table+".csv")
	n, err := writeFile(path, src)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: the file is empty", ErrInvalidInput)
	}

	start := time.Now()
	if err := e.db.LoadCSV(ctx, table, path); err != nil {
		return nil, fmt.Errorf("%w: could not read CSV: %v", ErrInvalidInput, err)
	}
	info, err := e.describe(ctx, table)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.table = table
	e.columns = info.Columns
	e.mu.Unlock()

	e.logger.Info("dataset loaded", "table", table, "rows", info.TotalRows, "columns", len(info.Columns), "duration", time.Since(start))
	return info, nil
}

func writeFile(path string, src io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (e *Engine) describe(ctx context.Context, table string) (*core.TableInfo, error) {
	meta, err := e.db.GetTableMetadata(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}

	info := &core.TableInfo{Table: table, TotalRows: meta.RowCount}
	for _, c := range meta.Columns {
		info.Columns = append(info.Columns, core.ColumnInfo{Name: c.Name, Type: c.Type})
	}
	if e.preview > 0 {
		res, err := e.db.Query(ctx, fmt.Sprintf("SELECT * FROM %s", adapter.QuoteIdent(table)), e.preview)
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", table, err)
		}
		info.SampleRows = res.Rows
	}
	return info, nil
}

// Translate turns a question into SQL for the current table.
func (e *Engine) Translate(ctx context.Context, question string) (*core.Translation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}

	table, columns := e.Dataset()
	sql, err := e.translator.Translate(ctx, translate.Request{
		Question: question,
		Table:    table,
		Columns:  columns,
		Dialect:  e.db.DialectName(),
	})
	switch {
	case err == nil:
		return &core.Translation{SQL: sql}, nil
	case errors.Is(err, translate.ErrUnsupported) && table == "":
		return nil, ErrNoDataset
	case errors.Is(err, translate.ErrUnsupported):
		return nil, fmt.Errorf("%w: no language model is configured, ask in SQL", ErrUnsupportedQuestion)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		e.logger.Warn("translation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrTranslation, err)
	}
}

// Execute runs a read-only query against the loaded data.
func (e *Engine) Execute(ctx context.Context, sql, question string) (*core.QueryResult, error) {
	sql = translate.CleanSQL(sql)
	if sql == "" {
		return nil, fmt.Errorf("%w: sql is empty", ErrInvalidInput)
	}
	if err := sqlscan.CheckQuery(sql); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	res, err := e.db.Query(ctx, sql, e.maxRows)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	e.logger.Debug("query executed", "question", question, "rows", res.RowCount, "truncated", res.Truncated, "runtime_ms", res.RuntimeMS)
	return res, nil
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName derives a table name from an uploaded file name.
func TableName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	name := strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if name == "" || name == "." {
		return "dataset"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}
