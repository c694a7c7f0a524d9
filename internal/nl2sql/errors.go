package nl2sql

import (
	"errors"
	"fmt"

	"github.com/schemaforge/schemaforge/internal/llm"
)

var ErrNoSQLExtracted = errors.New("nl2sql: no SQL found in response")

// NoSQLExtractedError carries the raw provider text that held no statement.
type NoSQLExtractedError struct {
	Raw string
}

func (e *NoSQLExtractedError) Error() string {
	return ErrNoSQLExtracted.Error()
}

func (e *NoSQLExtractedError) Is(target error) bool {
	return target == ErrNoSQLExtracted
}

type TranslationError struct {
	Provider llm.ID
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate with %s: %v", e.Provider, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
