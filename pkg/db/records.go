package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const recordsLogPrefix = "db:records"

// Records gives scripts untyped access to the database. Rows come back as
// column-name maps, which JavaScript scripts see as plain objects.
type Records struct {
	db  Querier
	ctx context.Context
}

// NewRecords creates Records over db.
func NewRecords(db Querier) *Records {
	return &Records{db: db, ctx: context.Background()}
}

// WithContext returns a copy whose queries run under ctx. Hosts bind a copy per
// request so that queries stop with the request.
func (r *Records) WithContext(ctx context.Context) *Records {
	return &Records{db: r.db, ctx: ctx}
}

// Query runs sql and returns every row.
func (r *Records) Query(sql string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.Query(r.ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - query: %w", recordsLogPrefix, err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("%s - collect: %w", recordsLogPrefix, err)
	}
	return result, nil
}

// Find returns the row of table whose id column equals id, or nil.
func (r *Records) Find(table string, id any) (map[string]any, error) {
	sql := fmt.Sprintf("SELECT * FROM %s WHERE id = $1 LIMIT 1",
		pgx.Identifier(strings.Split(table, ".")).Sanitize())
	rows, err := r.db.Query(r.ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("%s - find in %s: %w", recordsLogPrefix, table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - find in %s: %w", recordsLogPrefix, table, err)
	}
	return row, nil
}

// Exec runs a statement and returns the number of rows it affected.
func (r *Records) Exec(sql string, args ...any) (int64, error) {
	rows, err := r.db.Query(r.ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s - exec: %w", recordsLogPrefix, err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%s - exec: %w", recordsLogPrefix, err)
	}
	return rows.CommandTag().RowsAffected(), nil
}
