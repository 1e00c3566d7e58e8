package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	// Path of the database file. It is created if missing.
	Path string

	// Timeout bounds every single operation. Zero disables it.
	Timeout time.Duration

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration
}

// OpenSQLite opens a file-backed SQLite database in WAL mode.
//
// In-memory databases are not supported: each pooled connection would see its own
// empty database.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*Store, error) {
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return nil, errors.New("sqlstore: sqlite path must name a file")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	dsn := "file:" + cfg.Path + "?" + q.Encode()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	s := New(db, SQLite, cfg.Timeout)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.Path, err)
	}
	return s, nil
}
