package filer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFilingNotFound is wrapped by ProcessingError when the message names an unknown filing.
	ErrFilingNotFound = errors.New("filing not found")
	// ErrInvalidMessage is wrapped by ProcessingError when the message cannot be decoded.
	ErrInvalidMessage = errors.New("invalid filing message")
	// ErrBusinessRequired is returned by transitions that need an existing business.
	ErrBusinessRequired = errors.New("business required")
)

// ProcessingError reports a message that does not resolve to a filing. The
// worker redelivers it and eventually dead-letters it.
type ProcessingError struct {
	FilingID int64
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.FilingID == 0 {
		return "processing: " + e.Err.Error()
	}
	return fmt.Sprintf("processing filing %d: %v", e.FilingID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// StoreError wraps an entity store failure during the unit of work. It is
// retryable: nothing was committed.
type StoreError struct {
	FilingID int64
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure for filing %d: %v", e.FilingID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TransitionError identifies the filing type whose transition failed.
type TransitionError struct {
	FilingType FilingType
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %v", e.FilingType, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// ValidationError is one field-level problem reported by a Validator.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"error"`
}

// ValidationFailedError aborts a run whose envelope failed validation.
type ValidationFailedError struct {
	Errors []ValidationError
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		if v.Path == "" {
			parts = append(parts, v.Message)
			continue
		}
		parts = append(parts, v.Path+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
