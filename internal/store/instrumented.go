// Package store holds the datastore backends of the catalog and the helpers shared by them.
package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/telemetry"
)

// Instrument wraps ds so that every operation is counted, timed and debug-logged.
func Instrument(ds catalog.Datastore, backend string, m *telemetry.StoreMetrics, logger *zap.Logger) catalog.Datastore {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &observer{backend: backend, metrics: m, logger: logger.Named("store").With(zap.String("backend", backend))}
	return &instrumented{ops: instrumentedOps{inner: ds, o: o}, ds: ds}
}

type observer struct {
	backend string
	metrics *telemetry.StoreMetrics
	logger  *zap.Logger
}

func (o *observer) observe(collection, op string, start time.Time, err error) {
	d := time.Since(start)
	if o.metrics != nil {
		o.metrics.Observe(o.backend, collection, op, d, err)
	}
	if err != nil {
		o.logger.Warn("operation failed", zap.String("collection", collection), zap.String("op", op), zap.Duration("duration", d), zap.Error(err))
		return
	}
	o.logger.Debug("operation", zap.String("collection", collection), zap.String("op", op), zap.Duration("duration", d))
}

func (o *observer) tx(outcome string) {
	if o.metrics != nil {
		o.metrics.TxFinished(o.backend, outcome)
	}
	o.logger.Debug("transaction finished", zap.String("outcome", outcome))
}

type instrumentedOps struct {
	inner catalog.Operations
	o     *observer
}

func (i instrumentedOps) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	start := time.Now()
	id, err := i.inner.Insert(ctx, collection, doc)
	i.o.observe(collection, "insert", start, err)
	return id, err
}

func (i instrumentedOps) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	start := time.Now()
	ids, err := i.inner.InsertMany(ctx, collection, docs)
	i.o.observe(collection, "insert_many", start, err)
	return ids, err
}

func (i instrumentedOps) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	start := time.Now()
	cur, err := i.inner.Find(ctx, collection, filter)
	i.o.observe(collection, "find", start, err)
	return cur, err
}

func (i instrumentedOps) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	start := time.Now()
	res, err := i.inner.Update(ctx, collection, filter, patch)
	i.o.observe(collection, "update", start, err)
	return res, err
}

func (i instrumentedOps) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	start := time.Now()
	n, err := i.inner.Delete(ctx, collection, filter)
	i.o.observe(collection, "delete", start, err)
	return n, err
}

type instrumented struct {
	ops instrumentedOps
	ds  catalog.Datastore
}

func (d *instrumented) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	return d.ops.Insert(ctx, collection, doc)
}

func (d *instrumented) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	return d.ops.InsertMany(ctx, collection, docs)
}

func (d *instrumented) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	return d.ops.Find(ctx, collection, filter)
}

func (d *instrumented) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	return d.ops.Update(ctx, collection, filter, patch)
}

func (d *instrumented) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	return d.ops.Delete(ctx, collection, filter)
}

func (d *instrumented) CreateCollection(ctx context.Context, c catalog.Collection) error {
	start := time.Now()
	err := d.ds.CreateCollection(ctx, c)
	d.ops.o.observe(c.Name, "create_collection", start, err)
	return err
}

func (d *instrumented) Begin(ctx context.Context) (catalog.Tx, error) {
	tx, err := d.ds.Begin(ctx)
	if err != nil {
		d.ops.o.tx("error")
		return nil, err
	}
	return &instrumentedTx{instrumentedOps: instrumentedOps{inner: tx, o: d.ops.o}, tx: tx}, nil
}

func (d *instrumented) Close(ctx context.Context) error {
	return d.ds.Close(ctx)
}

// instrumentedTx records one outcome per transaction. Calls after Commit or Rollback
// reach the inner Tx but are not counted again.
type instrumentedTx struct {
	instrumentedOps
	tx   catalog.Tx
	done bool
}

func (t *instrumentedTx) Commit(ctx context.Context) error {
	if t.done {
		return t.tx.Commit(ctx)
	}
	t.done = true

	err := t.tx.Commit(ctx)
	if err != nil {
		t.o.tx("error")
		return err
	}
	t.o.tx("commit")
	return nil
}

func (t *instrumentedTx) Rollback(ctx context.Context) error {
	if t.done {
		return t.tx.Rollback(ctx)
	}
	t.done = true

	err := t.tx.Rollback(ctx)
	if err != nil {
		t.o.tx("error")
		return err
	}
	t.o.tx("rollback")
	return nil
}
