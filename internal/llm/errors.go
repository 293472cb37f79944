package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a generation failure.
type Kind string

// Generation failure kinds.
const (
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindAuth        Kind = "auth"
	KindQuota       Kind = "quota"
	KindRateLimit   Kind = "rate_limit"
	KindBadResponse Kind = "bad_response"
	KindEmpty       Kind = "empty"
)

// ErrMissingCredential is returned by New when no API key is configured.
var ErrMissingCredential = errors.New("model API key is not configured (set OPENAI_API_KEY or model.api_key)")

// GenerationError reports a failed model call. No program exists when it is
// returned.
type GenerationError struct {
	Kind Kind
	// StatusCode is the HTTP status of the final attempt, if one was received.
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("code generation failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("code generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is a transient transport problem.
func (e *GenerationError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return e.StatusCode == 0 || e.StatusCode >= 500
	}
	return false
}

// IsGenerationError reports whether err is a *GenerationError.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}
