package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leapask/internal/frame"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDB(logger) })
}

// DuckDBParams holds DuckDB specific options, decoded from Config.Params.
type DuckDBParams struct {
	// Settings are applied with SET after connecting (e.g., threads, memory_limit).
	Settings map[string]string `mapstructure:"settings"`

	// SampleSize is the number of rows read_csv_auto inspects to infer types.
	// -1 scans the whole file.
	SampleSize int `mapstructure:"sample_size"`
}

// DuckDBAdapter loads CSV files through DuckDB's automatic CSV reader.
type DuckDBAdapter struct {
	BaseSQLAdapter
	params DuckDBParams
}

// NewDuckDB creates a DuckDB adapter. A nil logger discards logs.
func NewDuckDB(logger *slog.Logger) *DuckDBAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBAdapter{
		BaseSQLAdapter: BaseSQLAdapter{Logger: logger},
		params:         DuckDBParams{SampleSize: -1},
	}
}

// DialectName returns the engine name.
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	if cfg.Params != nil {
		if err := mapstructure.WeakDecode(cfg.Params, &a.params); err != nil {
			return fmt.Errorf("invalid duckdb params: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
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

	keys := make([]string, 0, len(a.params.Settings))
	for k := range a.params.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = %s", k, QuoteLiteral(a.params.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	a.Logger.Debug("connected to duckdb", slog.String("path", cfg.Path), slog.Int("settings", len(keys)))
	return nil
}

// GetTableMetadata retrieves metadata for a table in the main schema.
func (a *DuckDBAdapter) GetTableMetadata(ctx context.Context, table string) (*Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, "main")
}

// LoadCSV loads a CSV file with a header row into table, inferring column
// types from the values.
func (a *DuckDBAdapter) LoadCSV(ctx context.Context, table, path string) error {
	if a.DB == nil {
		return ErrNotConnected
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true, sample_size=%d)",
		QuoteIdent(table),
		QuoteLiteral(absPath),
		a.params.SampleSize,
	)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV: %w", err)
	}

	a.Logger.Debug("loaded csv", slog.String("table", table), slog.String("path", absPath))
	return nil
}

// ReadTable materializes table as a frame. Column kinds follow the declared
// SQL types; types without a native cell representation are read as text.
func (a *DuckDBAdapter) ReadTable(ctx context.Context, table string) (*frame.Frame, error) {
	meta, err := a.GetTableMetadata(ctx, table)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(meta.Columns))
	kinds := make([]frame.Kind, len(meta.Columns))
	for i, col := range meta.Columns {
		kinds[i] = KindForType(col.Type)
		exprs[i] = selectExpr(col, kinds[i])
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s", //nolint:gosec // identifiers are quoted
		strings.Join(exprs, ", "), QuoteIdent(meta.Schema), QuoteIdent(meta.Name))
	rows, err := a.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([][]any, len(meta.Columns))
	for i := range values {
		values[i] = make([]any, 0, meta.RowCount)
	}
	dest := make([]any, len(meta.Columns))
	ptrs := make([]any, len(meta.Columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		for i, v := range dest {
			values[i] = append(values[i], cell(v, kinds[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", table, err)
	}

	cols := make([]*frame.Column, len(meta.Columns))
	for i, col := range meta.Columns {
		if kinds[i] == frame.KindAny {
			cols[i] = frame.NewColumn(col.Name, values[i])
			continue
		}
		cols[i] = frame.NewTypedColumn(col.Name, kinds[i], values[i])
	}
	return frame.New(cols...)
}

// KindForType maps a DuckDB type name to a cell kind. Unknown types map to
// KindAny.
func KindForType(sqlType string) frame.Kind {
	t := strings.ToUpper(sqlType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "BOOLEAN":
		return frame.KindBool
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "UTINYINT", "USMALLINT", "UINTEGER":
		return frame.KindInt
	case "FLOAT", "DOUBLE", "DECIMAL", "REAL", "HUGEINT", "UBIGINT":
		return frame.KindFloat
	case "VARCHAR", "TEXT", "UUID", "INTERVAL", "TIME":
		return frame.KindString
	case "DATE", "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return frame.KindTime
	}
	return frame.KindAny
}

// selectExpr casts columns whose driver values are not plain cells.
func selectExpr(col Column, kind frame.Kind) string {
	name := QuoteIdent(col.Name)
	t := strings.ToUpper(col.Type)
	switch {
	case kind == frame.KindFloat && !strings.HasPrefix(t, "DOUBLE") && !strings.HasPrefix(t, "FLOAT"):
		return fmt.Sprintf("CAST(%s AS DOUBLE) AS %s", name, name)
	case kind == frame.KindString && t != "VARCHAR" && t != "TEXT":
		return fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", name, name)
	case kind == frame.KindAny:
		return fmt.Sprintf("CAST(%s AS VARCHAR) AS %s", name, name)
	}
	return name
}

func cell(v any, kind frame.Kind) any {
	v = frame.Normalize(v)
	switch kind {
	case frame.KindFloat:
		if f, ok := frame.ToFloat(v); ok {
			return f
		}
	case frame.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}
