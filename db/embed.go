// Package db holds the SQL migrations of the relational backends.
package db

import "embed"

// Migrations contains migrations/sqlite and migrations/postgres.
//
//go:embed migrations
var Migrations embed.FS
