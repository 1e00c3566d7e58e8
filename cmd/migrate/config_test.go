package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"bookcatalog/db"
)

func TestMigrationSource_EnvOverride(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "sqlite"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "sqlite", "00001_x.sql"), []byte("-- +goose Up\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MIGRATIONS_DIR", tmp)

	fsys, dir := migrationSource("sqlite")
	if dir != "sqlite" {
		t.Fatalf("expected dir relative to MIGRATIONS_DIR, got %q", dir)
	}
	if _, err := fs.Stat(fsys, "sqlite/00001_x.sql"); err != nil {
		t.Fatalf("expected override filesystem, got %v", err)
	}
}

func TestMigrationSource_Default(t *testing.T) {
	t.Setenv("MIGRATIONS_DIR", "")

	fsys, dir := migrationSource("postgres")
	if dir != "migrations/postgres" {
		t.Fatalf("expected embedded postgres dir, got %q", dir)
	}
	if fsys != fs.FS(db.Migrations) {
		t.Fatal("expected embedded migrations")
	}
}

func TestGooseDialect(t *testing.T) {
	if got := gooseDialect("sqlite"); got != "sqlite3" {
		t.Fatalf("sqlite dialect: got %q", got)
	}
	if got := gooseDialect("postgres"); got != "postgres" {
		t.Fatalf("postgres dialect: got %q", got)
	}
}

func TestLoadEnvFiles_DoesNotOverrideExistingEnv(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, ".env")

	if err := os.WriteFile(p, []byte("DB_DSN=from_file\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("DB_DSN", "from_env")

	cwd, _ := os.Getwd()
	_ = os.Chdir(tmp)
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	loadEnvFiles()

	if got := os.Getenv("DB_DSN"); got != "from_env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	if _, err := openStore(t.Context(), "oracle"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
