package db

import (
	"os"
	"path/filepath"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func TestLoadMigrations_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"0002_add_column.sql":   "ALTER TABLE posts ADD COLUMN title TEXT;",
		"0001_create_table.sql": "CREATE TABLE posts (id SERIAL PRIMARY KEY);",
		"0003_INDEX.SQL":        "CREATE INDEX posts_title ON posts(title);",
		"README.md":             "# Migrations",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "9999_dir.sql"), 0o755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}

	got, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	want := []string{"0001_create_table.sql", "0002_add_column.sql", "0003_INDEX.SQL"}
	if len(got) != len(want) {
		t.Fatalf("%s - expected %d migrations, got %d", migrationsTestPrefix, len(want), len(got))
	}
	for i, m := range got {
		if m.Name != want[i] {
			t.Errorf("%s - migration %d = %s, want %s", migrationsTestPrefix, i, m.Name, want[i])
		}
	}
	if got[0].SQL != files["0001_create_table.sql"] {
		t.Errorf("%s - content mismatch for %s", migrationsTestPrefix, got[0].Name)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := LoadMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("%s - expected error for missing dir", migrationsTestPrefix)
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Name: "a.sql"}, {Name: "b.sql"}, {Name: "c.sql"}}
	got := pending(all, map[string]bool{"b.sql": true})
	if len(got) != 2 || got[0].Name != "a.sql" || got[1].Name != "c.sql" {
		t.Errorf("%s - unexpected pending %+v", migrationsTestPrefix, got)
	}
}
