package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, params map[string]any) *DuckDBAdapter {
	t.Helper()
	adp := NewDuckDB(nil)
	require.NoError(t, adp.Connect(context.Background(), Config{Type: "duckdb", Params: params}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDuckDB_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		params    map[string]any
		wantErr   bool
		verify    func(t *testing.T, path string)
	}{
		{
			name:      "in-memory",
			setupPath: func(_ *testing.T) string { return ":memory:" },
		},
		{
			name:      "empty path",
			setupPath: func(_ *testing.T) string { return "" },
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
		{
			name:      "settings applied",
			setupPath: func(_ *testing.T) string { return "" },
			params:    map[string]any{"settings": map[string]any{"threads": "2"}},
		},
		{
			name:      "bad setting",
			setupPath: func(_ *testing.T) string { return "" },
			params:    map[string]any{"settings": map[string]any{"no_such_setting": "1"}},
			wantErr:   true,
		},
		{
			name:      "bad params",
			setupPath: func(_ *testing.T) string { return "" },
			params:    map[string]any{"sample_size": "lots"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := NewDuckDB(nil)
			path := tt.setupPath(t)
			err := adp.Connect(context.Background(), Config{Path: path, Params: tt.params})
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, adp.IsConnected())
				return
			}
			require.NoError(t, err)
			defer func() { _ = adp.Close() }()
			assert.True(t, adp.IsConnected())
			if tt.verify != nil {
				tt.verify(t, path)
			}
		})
	}
}

func TestDuckDB_NotConnected(t *testing.T) {
	tests := []struct {
		name      string
		operation func(ctx context.Context, adp *DuckDBAdapter) error
	}{
		{"exec", func(ctx context.Context, adp *DuckDBAdapter) error {
			return adp.Exec(ctx, "SELECT 1")
		}},
		{"query", func(ctx context.Context, adp *DuckDBAdapter) error {
			_, err := adp.Query(ctx, "SELECT 1")
			return err
		}},
		{"load csv", func(ctx context.Context, adp *DuckDBAdapter) error {
			return adp.LoadCSV(ctx, "t", "t.csv")
		}},
		{"metadata", func(ctx context.Context, adp *DuckDBAdapter) error {
			_, err := adp.GetTableMetadata(ctx, "t")
			return err
		}},
		{"read table", func(ctx context.Context, adp *DuckDBAdapter) error {
			_, err := adp.ReadTable(ctx, "t")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.operation(context.Background(), NewDuckDB(nil))
			assert.ErrorIs(t, err, ErrNotConnected)
		})
	}
}

func TestDuckDB_Close(t *testing.T) {
	adp := NewDuckDB(nil)
	assert.NoError(t, adp.Close(), "close without connect")

	require.NoError(t, adp.Connect(context.Background(), Config{}))
	assert.NoError(t, adp.Close())
	assert.False(t, adp.IsConnected())
}

func TestDuckDB_LoadCSV(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, nil)

	path := writeCSV(t, "orders.csv", "order_id,customer_id,amount,status,order_date\n"+
		"1,10,19.5,paid,2024-01-03\n"+
		"2,11,5,refunded,2024-02-10\n"+
		"3,10,,paid,2024-03-01\n")
	require.NoError(t, adp.LoadCSV(ctx, "orders", path))

	meta, err := adp.GetTableMetadata(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, "orders", meta.Name)
	assert.Equal(t, int64(3), meta.RowCount)

	types := make(map[string]string, len(meta.Columns))
	names := make([]string, len(meta.Columns))
	for i, c := range meta.Columns {
		types[c.Name] = c.Type
		names[i] = c.Name
	}
	assert.Equal(t, []string{"order_id", "customer_id", "amount", "status", "order_date"}, names)
	assert.Equal(t, "BIGINT", types["order_id"])
	assert.Equal(t, "DOUBLE", types["amount"])
	assert.Equal(t, "VARCHAR", types["status"])
	assert.Equal(t, "DATE", types["order_date"])

	// Loading again replaces the table.
	require.NoError(t, adp.LoadCSV(ctx, "orders", writeCSV(t, "small.csv", "order_id\n7\n")))
	meta, err = adp.GetTableMetadata(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.RowCount)
	assert.Len(t, meta.Columns, 1)
}

func TestDuckDB_LoadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "nope.csv")
		}},
		{"quote in path", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "it's.csv")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := connect(t, nil)
			assert.Error(t, adp.LoadCSV(context.Background(), "t", tt.path(t)))
		})
	}
}

func TestDuckDB_ReadTable(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, nil)

	require.NoError(t, adp.Exec(ctx, `
		CREATE TABLE items (
			id INTEGER,
			price DECIMAL(10,2),
			name VARCHAR,
			active BOOLEAN,
			sold_at TIMESTAMP,
			tags VARCHAR[]
		)
	`))
	require.NoError(t, adp.Exec(ctx, `
		INSERT INTO items VALUES
			(1, 9.99, 'kayak', true, '2024-05-01 10:00:00', ['a']),
			(2, NULL, NULL, false, NULL, NULL)
	`))

	f, err := adp.ReadTable(ctx, "items")
	require.NoError(t, err)
	require.Equal(t, 2, f.NumRows())
	assert.Equal(t, []string{"id", "price", "name", "active", "sold_at", "tags"}, f.Names())

	tests := []struct {
		column string
		kind   frame.Kind
		values []any
	}{
		{"id", frame.KindInt, []any{int64(1), int64(2)}},
		{"price", frame.KindFloat, []any{9.99, nil}},
		{"name", frame.KindString, []any{"kayak", nil}},
		{"active", frame.KindBool, []any{true, false}},
		{"sold_at", frame.KindTime, []any{time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), nil}},
		{"tags", frame.KindString, []any{"[a]", nil}},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			col, ok := f.Column(tt.column)
			require.True(t, ok)
			assert.Equal(t, tt.kind, col.Kind)
			if tt.kind == frame.KindFloat {
				require.Len(t, col.Values, len(tt.values))
				assert.InDelta(t, tt.values[0], col.Values[0], 1e-9)
				assert.Nil(t, col.Values[1])
				return
			}
			assert.Equal(t, tt.values, col.Values)
		})
	}
}

func TestDuckDB_ReadTableMissing(t *testing.T) {
	adp := connect(t, nil)
	_, err := adp.ReadTable(context.Background(), "ghost")
	var notFound *TableNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.Table)
}

func TestKindForType(t *testing.T) {
	tests := []struct {
		sqlType string
		want    frame.Kind
	}{
		{"BIGINT", frame.KindInt},
		{"integer", frame.KindInt},
		{"DOUBLE", frame.KindFloat},
		{"DECIMAL(18,3)", frame.KindFloat},
		{"VARCHAR", frame.KindString},
		{"DATE", frame.KindTime},
		{"TIMESTAMP", frame.KindTime},
		{"BOOLEAN", frame.KindBool},
		{"STRUCT(a INTEGER)", frame.KindAny},
	}
	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.want, KindForType(tt.sqlType))
		})
	}
}
