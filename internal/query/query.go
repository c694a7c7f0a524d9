// Package query executes SQL statements against a connected database.
package query

import (
	"context"
	"fmt"
	"time"
)

type Request struct {
	SQL string
	// RowLimit caps the rows read from a result set. Zero reads everything.
	RowLimit int
}

type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	// Truncated is set when the result set had more rows than RowLimit.
	Truncated bool
	Duration  time.Duration
}

// HasRows reports whether the statement produced a result set.
func (r Result) HasRows() bool {
	return len(r.Columns) > 0
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type ExecError struct {
	SQL string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
