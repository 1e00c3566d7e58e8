package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	zapadapter "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostgresConfig configures OpenPostgres.
type PostgresConfig struct {
	DSN     string
	Timeout time.Duration

	// Logger receives pgx query traces at debug level. Nil disables tracing.
	Logger *zap.Logger
}

// OpenPostgres opens a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn %s: %w", RedactDSN(cfg.DSN), err)
	}
	if cfg.Logger != nil {
		poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zapadapter.NewLogger(cfg.Logger.Named("pgx")),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database (%s): %w", RedactDSN(cfg.DSN), err)
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	s := New(db, Postgres, cfg.Timeout)
	s.closers = append(s.closers, pool.Close)
	return s, nil
}

// RedactDSN hides the credentials of a URL-style DSN.
func RedactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
