package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenMigrates(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(ctx, filepath.Join(t.TempDir(), "history.db")))
	defer func() { _ = store.Close() }()

	version, err := store.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// Migrating again is a no-op.
	assert.NoError(t, store.Migrate(ctx))
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &Entry{
		Question:    "What is the total revenue?",
		Status:      StatusAnswered,
		PayloadKind: "scalar",
		Model:       "gpt-4",
		Generation:  1500 * time.Millisecond,
		Execution:   20 * time.Millisecond,
		Total:       1520 * time.Millisecond,
		CreatedAt:   created,
	}
	require.NoError(t, store.Record(ctx, e))
	assert.NotEqual(t, uuid.Nil, e.ID, "an id is assigned")

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)
	id := uuid.New()

	_, err := store.Get(context.Background(), id)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, id, nf.ID)
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, store.Record(ctx, &Entry{
			Question:  q,
			Status:    StatusExecutionFailed,
			ErrorKind: "runtime",
			Error:     "boom",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "newest first", limit: 10, want: []string{"third", "second", "first"}},
		{name: "limited", limit: 2, want: []string{"third", "second"}},
		{name: "default limit", limit: 0, want: []string{"third", "second", "first"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.List(ctx, tt.limit)
			require.NoError(t, err)
			got := make([]string, len(entries))
			for i, e := range entries {
				got[i] = e.Question
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)

	assert.ErrorIs(t, store.Record(ctx, &Entry{}), errNotOpened)
	_, err := store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, errNotOpened)
	_, err = store.List(ctx, 1)
	assert.ErrorIs(t, err, errNotOpened)
	assert.ErrorIs(t, store.Migrate(ctx), errNotOpened)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_DatabaseFailures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		mock    func(mock sqlmock.Sqlmock)
		run     func(s *SQLiteStore) error
		wantErr string
	}{
		{
			name: "record",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO asks").WillReturnError(assert.AnError)
			},
			run:     func(s *SQLiteStore) error { return s.Record(ctx, &Entry{Question: "q", Status: StatusAnswered}) },
			wantErr: "failed to record ask",
		},
		{
			name: "list",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM asks").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.List(ctx, 5)
				return err
			},
			wantErr: "failed to list asks",
		},
		{
			name: "bad row",
			mock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "question", "status", "payload_kind", "error_kind", "error", "model",
					"generation_ms", "execution_ms", "total_ms", "created_at"}).
					AddRow("not-a-uuid", "q", "answered", "", "", "", "", 0, 0, 0, 0)
				mock.ExpectQuery("SELECT (.+) FROM asks").WillReturnRows(rows)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.List(ctx, 5)
				return err
			},
			wantErr: "bad ask id",
		},
		{
			name: "get",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM asks WHERE id").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.Get(ctx, uuid.New())
				return err
			},
			wantErr: "failed to get ask",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tt.mock(mock)

			err = tt.run(NewSQLiteStoreWithDB(db, nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var s Store = Nop{}
	assert.NoError(t, s.Record(ctx, &Entry{}))
	entries, err := s.List(ctx, 5)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	_, err = s.Get(ctx, uuid.New())
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
