package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/recurrence"
)

var (
	// ErrDefinitionPanic marks a definition whose generation panicked.
	ErrDefinitionPanic = errors.New("generation: panic while generating definition")
	// ErrNotConfigured is returned when a required collaborator is missing.
	ErrNotConfigured = errors.New("generation: dependency not configured")
)

// Stage names the step of per-definition generation that failed.
type Stage string

const (
	StageParse      Stage = "parse"
	StageExceptions Stage = "exceptions"
	StageRoster     Stage = "roster"
	StageExisting   Stage = "existing"
	StageCommit     Stage = "commit"
	StageState      Stage = "state"
)

// DefinitionError reports a failure isolated to one definition.
type DefinitionError struct {
	DefinitionID string
	Stage        Stage
	Err          error
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("generation: definition %s: %s: %v", e.DefinitionID, e.Stage, e.Err)
}

// Unwrap exposes the underlying error.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func definitionError(id string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &DefinitionError{DefinitionID: id, Stage: stage, Err: err}
}

// ValidationError captures field level problems of a definition.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("validation failed (%d fields)", len(v.FieldErrors))
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrDefinitionPanic):
		return "panic"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, persistence.ErrBatchTooLarge):
		return "batch_too_large"
	case errors.Is(err, persistence.ErrBatchCommitted):
		return "batch_committed"
	case errors.Is(err, recurrence.ErrInvalidRule):
		return "invalid_rule"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var dErr *DefinitionError
	if errors.As(err, &dErr) {
		return string(dErr.Stage)
	}
	return "unexpected"
}
