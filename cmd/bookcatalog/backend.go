package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store"
	"bookcatalog/internal/store/memstore"
	"bookcatalog/internal/store/mongostore"
	"bookcatalog/internal/store/sqlstore"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// datastore is an instrumented backend plus its readiness probe.
type datastore struct {
	catalog.Datastore
	ping func(ctx context.Context) error
}

func openDatastore(ctx context.Context, g *Globals, a *app) (*datastore, error) {
	var (
		raw catalog.Datastore
		err error
	)

	switch g.Backend {
	case "memory":
		raw = memstore.New()
	case "sqlite":
		raw, err = sqlstore.OpenSQLite(ctx, sqlstore.SQLiteConfig{Path: g.SQLitePath, Timeout: g.DBTimeout})
	case "postgres":
		raw, err = sqlstore.OpenPostgres(ctx, sqlstore.PostgresConfig{DSN: g.DBDSN, Timeout: g.DBTimeout, Logger: a.logger})
	case "mongo":
		raw, err = mongostore.Open(ctx, mongostore.Config{
			URI:      g.MongoURI,
			Database: g.MongoDatabase,
			Username: g.MongoUsername,
			Password: g.MongoPassword,
			Timeout:  g.DBTimeout,
		})
	default:
		err = fmt.Errorf("unknown backend %q", g.Backend)
	}
	if err != nil {
		return nil, err
	}

	a.logger.Info("datastore opened", zap.String("backend", g.Backend), zap.String("target", g.target()))

	ds := &datastore{
		Datastore: store.Instrument(raw, g.Backend, a.metrics, a.logger),
		ping:      func(context.Context) error { return nil },
	}
	if p, ok := raw.(pinger); ok {
		ds.ping = p.Ping
	}
	return ds, nil
}

// target describes where the backend lives, without credentials.
func (g *Globals) target() string {
	switch g.Backend {
	case "sqlite":
		return g.SQLitePath
	case "postgres":
		return sqlstore.RedactDSN(g.DBDSN)
	case "mongo":
		return sqlstore.RedactDSN(g.MongoURI) + "/" + g.MongoDatabase
	default:
		return "memory"
	}
}

// openService opens the backend, provisions the schema and returns the catalog on top of it.
func openService(g *Globals, a *app) (*catalog.Service, *datastore, error) {
	ds, err := openDatastore(a.ctx, g, a)
	if err != nil {
		return nil, nil, err
	}

	svc := catalog.NewService(ds, a.logger)
	if err := svc.ProvisionSchema(a.ctx); err != nil {
		_ = ds.Close(context.Background())
		return nil, nil, err
	}
	return svc, ds, nil
}
