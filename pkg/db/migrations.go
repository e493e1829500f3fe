package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// MigrationsTable records the application migrations already applied.
const MigrationsTable = "apprunner_migrations"

// Migration is one .sql file of a migrations directory.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrations reads all .sql files from dir, sorted by name.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, e.Name(), err)
		}
		migrations = append(migrations, Migration{Name: e.Name(), SQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return migrations, nil
}

// Migrate applies the migrations of dir that are not yet recorded, each in its
// own transaction, and returns the names it applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dir string) ([]string, error) {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return nil, err
	}

	table := pgx.Identifier{MigrationsTable}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`, table)); err != nil {
		return nil, fmt.Errorf("%s - failed to create %s: %w", migrationsLogPrefix, MigrationsTable, err)
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT name FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read applied migrations: %w", migrationsLogPrefix, err)
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}

	var applied []string
	for _, m := range pending(migrations, done) {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)`, table), m.Name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
		applied = append(applied, m.Name)
	}

	slog.Info(fmt.Sprintf("%s - %d of %d migrations applied from %s", migrationsLogPrefix, len(applied), len(migrations), dir))
	return applied, nil
}

func pending(migrations []Migration, done map[string]bool) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !done[m.Name] {
			out = append(out, m)
		}
	}
	return out
}
