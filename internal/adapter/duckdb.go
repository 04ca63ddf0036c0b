package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/leapviz/pkg/core"
)

// DialectDuckDB names the DuckDB adapter.
const DialectDuckDB = "duckdb"

func init() {
	Register(DialectDuckDB, func(logger *slog.Logger) core.Adapter { return NewDuckDB(logger) })
}

// namePattern matches extension and setting names.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DuckDBParams holds DuckDB-specific configuration.
// Decoded from core.AdapterConfig.Params using mapstructure.
type DuckDBParams struct {
	// Extensions to install and load (e.g., "httpfs", "json").
	Extensions []string `mapstructure:"extensions"`

	// Settings applied globally after connecting (e.g., threads, memory_limit).
	Settings map[string]string `mapstructure:"settings"`
}

// DuckDB implements core.Adapter for DuckDB.
type DuckDB struct {
	BaseSQLAdapter
}

var _ core.Adapter = (*DuckDB)(nil)

// NewDuckDB creates a new DuckDB adapter instance.
func NewDuckDB(logger *slog.Logger) *DuckDB {
	return &DuckDB{BaseSQLAdapter{Logger: logger, DefaultSchema: "main"}}
}

// DialectName returns the SQL dialect for this adapter.
func (a *DuckDB) DialectName() string {
	return DialectDuckDB
}

// Connect establishes a connection to DuckDB.
// An empty path or ":memory:" opens an in-memory database.
func (a *DuckDB) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	var params DuckDBParams
	if len(cfg.Params) > 0 {
		if err := mapstructure.Decode(cfg.Params, &params); err != nil {
			return fmt.Errorf("invalid duckdb params: %w", err)
		}
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.setup(ctx, params); err != nil {
		_ = a.Close()
		return err
	}
	a.logger().Debug("duckdb connected", "path", cfg.Path, "extensions", params.Extensions)
	return nil
}

func (a *DuckDB) setup(ctx context.Context, p DuckDBParams) error {
	for _, ext := range p.Extensions {
		if !namePattern.MatchString(ext) {
			return fmt.Errorf("invalid extension name %q", ext)
		}
		if err := a.Exec(ctx, "INSTALL "+ext); err != nil {
			return fmt.Errorf("install extension %s: %w", ext, err)
		}
		if err := a.Exec(ctx, "LOAD "+ext); err != nil {
			return fmt.Errorf("load extension %s: %w", ext, err)
		}
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !namePattern.MatchString(k) {
			return fmt.Errorf("invalid setting name %q", k)
		}
		stmt := fmt.Sprintf("SET GLOBAL %s = %s", k, QuoteLiteral(p.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply setting %s: %w", k, err)
		}
	}
	return nil
}

// LoadCSV loads data from a CSV file into a table, replacing any previous
// table of the same name. DuckDB infers the schema.
func (a *DuckDB) LoadCSV(ctx context.Context, tableName, filePath string) error {
	if a.DB == nil {
		return ErrNotConnected
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)",
		QuoteIdent(tableName),
		QuoteLiteral(absPath),
	)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}
	return nil
}
