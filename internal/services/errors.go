package services

import (
	"errors"
	"fmt"

	"labcrm/internal/models"
)

var (
	// ErrNotFound is returned when a rule, execution, entity or template does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed rule definitions and forbidden operations.
	ErrValidation = errors.New("validation failed")
)

// ActionExecutionError is returned by the execution pipeline after a failed run has been persisted.
type ActionExecutionError struct {
	ExecutionID uint
	ActionID    uint
	ActionType  models.ActionType
	Err         error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.ActionID, e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
