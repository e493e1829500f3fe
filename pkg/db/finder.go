package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/morezero/apprunner/pkg/apprunner"
)

const finderLogPrefix = "db:finder"

// Querier is the part of a pool or transaction a TableFinder needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// IDParser converts a path argument into the value compared with the key column.
// Returning an error means no row can match.
type IDParser func(raw string) (any, error)

// IntID parses decimal identifiers for integer key columns.
func IntID(raw string) (any, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// TableFinder loads rows of one table into *T, matching columns to struct
// fields by name (or `db` tag). Columns without a field are ignored.
type TableFinder[T any] struct {
	db      Querier
	table   string
	query   string
	parseID IDParser
}

// FinderOption configures a TableFinder.
type FinderOption func(*finderOptions)

type finderOptions struct {
	column  string
	parseID IDParser
}

// WithKeyColumn sets the column compared with the identifier; default "id".
func WithKeyColumn(column string) FinderOption {
	return func(o *finderOptions) { o.column = column }
}

// WithIDParser sets how identifiers are converted; default passes the string.
func WithIDParser(p IDParser) FinderOption {
	return func(o *finderOptions) { o.parseID = p }
}

// NewTableFinder creates a finder for table, which may be schema qualified.
func NewTableFinder[T any](db Querier, table string, opts ...FinderOption) *TableFinder[T] {
	o := finderOptions{column: "id"}
	for _, opt := range opts {
		opt(&o)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1",
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		pgx.Identifier{o.column}.Sanitize())

	return &TableFinder[T]{db: db, table: table, query: query, parseID: o.parseID}
}

// Find returns the row whose key equals id, or apprunner.ErrNotFound.
func (f *TableFinder[T]) Find(ctx context.Context, id string) (*T, error) {
	var key any = id
	if f.parseID != nil {
		parsed, err := f.parseID(id)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - %s: unusable id %q: %v", finderLogPrefix, f.table, id, err))
			return nil, apprunner.ErrNotFound
		}
		key = parsed
	}

	rows, err := f.db.Query(ctx, f.query, key)
	if err != nil {
		return nil, fmt.Errorf("%s - query %s: %w", finderLogPrefix, f.table, err)
	}
	entity, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apprunner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan %s: %w", finderLogPrefix, f.table, err)
	}
	return entity, nil
}

// RegisterTable makes handler parameters of type *T load rows from table.
func RegisterTable[T any](finders *apprunner.Finders, db Querier, table string, opts ...FinderOption) *TableFinder[T] {
	f := NewTableFinder[T](db, table, opts...)
	apprunner.RegisterFinder(finders, f.Find)
	return f
}
