package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/observability"
	"github.com/schemaforge/schemaforge/internal/query"
)

var rowReturningKeywords = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "SHOW": {}, "PRAGMA": {}, "EXPLAIN": {},
	"DESCRIBE": {}, "DESC": {}, "VALUES": {}, "TABLE": {}, "FROM": {},
}

// Engine runs statements on an open database handle.
type Engine struct {
	DB      *sql.DB
	Timeout time.Duration
}

func NewEngine(db *sql.DB, timeout time.Duration) *Engine {
	return &Engine{DB: db, Timeout: timeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.DB == nil {
		return query.Result{}, fmt.Errorf("database handle is required")
	}
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		result query.Result
		err    error
	)
	if returnsRows(sqlText) {
		result, err = e.queryRows(ctx, sqlText, request.RowLimit)
	} else {
		result, err = e.exec(ctx, sqlText)
	}
	elapsed := time.Since(start)
	observability.ObserveQuery(elapsed)
	if err != nil {
		return query.Result{}, &query.ExecError{SQL: sqlText, Err: err}
	}
	result.Duration = elapsed
	return result, nil
}

func (e *Engine) queryRows(ctx context.Context, sqlText string, rowLimit int) (query.Result, error) {
	rows, err := e.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if rowLimit > 0 && len(result.Rows) >= rowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func (e *Engine) exec(ctx context.Context, sqlText string) (query.Result, error) {
	res, err := e.DB.ExecContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		affected = 0
	}
	return query.Result{RowsAffected: affected}, nil
}

func returnsRows(sqlText string) bool {
	fields := strings.Fields(strings.TrimLeft(sqlText, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	_, ok := rowReturningKeywords[strings.ToUpper(fields[0])]
	return ok
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
