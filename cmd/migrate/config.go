package main

import (
	"io/fs"
	"os"
	"path"

	"github.com/joho/godotenv"

	"bookcatalog/db"
)

func loadEnvFiles() {
	// Do not override environment provided by the runtime (e.g. Docker).
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// migrationSource returns the filesystem and directory goose reads for backend.
// MIGRATIONS_DIR points at an on-disk tree laid out like db/migrations.
func migrationSource(backend string) (fs.FS, string) {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return os.DirFS(v), backend
	}
	return db.Migrations, path.Join("migrations", backend)
}

func gooseDialect(backend string) string {
	if backend == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}
