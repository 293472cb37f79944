package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	// sqlite driver for the history database.
	_ "modernc.org/sqlite"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 20

var errNotOpened = errors.New("database not opened")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store instance. Call Open before use.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewSQLiteStoreWithDB wraps an already open, already migrated connection.
func NewSQLiteStoreWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens the database at path and applies pending migrations. Use
// ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: an in-memory database exists per connection and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := MigrateWithDB(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("history store opened", slog.String("path", path))
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

// Record inserts e. A zero ID or CreatedAt is filled in.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	if s.db == nil {
		return errNotOpened
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asks (id, question, status, payload_kind, error_kind, error, model,
			generation_ms, execution_ms, total_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Question, string(e.Status), e.PayloadKind, e.ErrorKind, e.Error, e.Model,
		e.Generation.Milliseconds(), e.Execution.Milliseconds(), e.Total.Milliseconds(), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ask: %w", err)
	}
	s.logger.Debug("ask recorded", slog.String("id", e.ID.String()), slog.String("status", string(e.Status)))
	return nil
}

const selectAsks = `
	SELECT id, question, status, payload_kind, error_kind, error, model,
		generation_ms, execution_ms, total_ms, created_at
	FROM asks`

// Get retrieves an ask by ID.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectAsks+` WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ask: %w", err)
	}
	return e, nil
}

// List returns the most recent asks, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectAsks+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list asks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ask: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list asks: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                      Entry
		id, status             string
		genMS, execMS, totalMS int64
		createdMS              int64
	)
	err := row.Scan(&id, &e.Question, &status, &e.PayloadKind, &e.ErrorKind, &e.Error, &e.Model,
		&genMS, &execMS, &totalMS, &createdMS)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad ask id %q: %w", id, err)
	}
	e.ID = parsed
	e.Status = Status(status)
	e.Generation = time.Duration(genMS) * time.Millisecond
	e.Execution = time.Duration(execMS) * time.Millisecond
	e.Total = time.Duration(totalMS) * time.Millisecond
	e.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &e, nil
}
