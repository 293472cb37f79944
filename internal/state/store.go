// Package state records the history of asked questions in SQLite. The
// generated program is never stored, only the question and its outcome.
package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one ask.
type Status string

// Ask outcomes.
const (
	// StatusAnswered means the program ran and produced a payload.
	StatusAnswered Status = "answered"
	// StatusExecutionFailed means the program was generated but failed or
	// produced nothing displayable.
	StatusExecutionFailed Status = "execution_failed"
	// StatusGenerationFailed means the model call failed.
	StatusGenerationFailed Status = "generation_failed"
)

// Entry is one recorded ask.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Question    string    `json:"question"`
	Status      Status    `json:"status"`
	PayloadKind string    `json:"payload_kind,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Model       string    `json:"model,omitempty"`

	Generation time.Duration `json:"generation"`
	Execution  time.Duration `json:"execution"`
	Total      time.Duration `json:"total"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store persists ask history.
type Store interface {
	Record(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	List(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// Nop is a Store that keeps nothing.
type Nop struct{}

// Record implements Store.
func (Nop) Record(context.Context, *Entry) error { return nil }

// Get implements Store.
func (Nop) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	return nil, &NotFoundError{ID: id}
}

// List implements Store.
func (Nop) List(context.Context, int) ([]*Entry, error) { return nil, nil }

// Close implements Store.
func (Nop) Close() error { return nil }

// NotFoundError is returned by Get for an unknown id.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return "ask not found: " + e.ID.String()
}
