package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrExternalToolUnavailable = errors.New("pdf converter is not available")
	ErrConversionTimeout       = errors.New("pdf conversion timed out")
	ErrSequenceExhausted       = errors.New("letter sequence exhausted for this month")
)

// ValidationError reports input the caller can correct.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError means a letter number is already carried by another letter.
type ConflictError struct {
	Number string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("letter number %s is already in use", e.Number)
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}
