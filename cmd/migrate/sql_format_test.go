package main

import (
	"io/fs"
	"strings"
	"testing"

	"bookcatalog/db"
)

func TestSQLMigrations_HaveGooseDirectives(t *testing.T) {
	var seen int
	err := fs.WalkDir(db.Migrations, "migrations", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}
		seen++

		b, err := fs.ReadFile(db.Migrations, p)
		if err != nil {
			return err
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") {
			t.Errorf("%s missing '-- +goose Up'", p)
		}
		if !strings.Contains(s, "-- +goose Down") {
			t.Errorf("%s missing '-- +goose Down'", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk migrations: %v", err)
	}
	if seen == 0 {
		t.Fatal("no migrations embedded")
	}
}

func TestSQLMigrations_BackendsShareVersions(t *testing.T) {
	names := func(dir string) []string {
		entries, err := fs.ReadDir(db.Migrations, dir)
		if err != nil {
			t.Fatalf("ReadDir(%s): %v", dir, err)
		}
		var out []string
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	}

	sqlite, postgres := names("migrations/sqlite"), names("migrations/postgres")
	if strings.Join(sqlite, ",") != strings.Join(postgres, ",") {
		t.Fatalf("migration files differ: sqlite=%v postgres=%v", sqlite, postgres)
	}
}
