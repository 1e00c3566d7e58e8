// Package sqlstore implements catalog.Datastore on SQL databases (SQLite and PostgreSQL).
//
// Statements are built with goqu as prepared statements, so every value travels as a
// bound parameter. Collection and field names are checked against a strict identifier
// pattern before they reach SQL text.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jmoiron/sqlx"

	"bookcatalog/internal/catalog"
)

var (
	// ErrInvalidIdentifier is returned for collection or field names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("sqlstore: invalid identifier")

	// ErrInvalidID is returned when an id value cannot be converted to a row id.
	ErrInvalidID = errors.New("sqlstore: invalid id")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name      string // goqu dialect name
	returning bool
	idColumn  string
	intType   string
	textType  string
}

var (
	SQLite = Dialect{
		Name:     "sqlite3",
		idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT",
		intType:  "INTEGER",
		textType: "TEXT",
	}
	Postgres = Dialect{
		Name:      "postgres",
		returning: true,
		idColumn:  "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		intType:   "BIGINT",
		textType:  "TEXT",
	}
)

// Store is a SQL-backed datastore.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	builder goqu.DialectWrapper
	timeout time.Duration
	closers []func()
}

var _ catalog.Datastore = (*Store)(nil)

// New wraps an open database. A zero timeout disables per-operation deadlines.
func New(db *sqlx.DB, dialect Dialect, timeout time.Duration) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		builder: goqu.Dialect(dialect.Name),
		timeout: timeout,
	}
}

// DB exposes the underlying handle, e.g. for migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ops() executor {
	return executor{ex: s.db, s: s}
}

func (s *Store) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	return s.ops().Insert(ctx, collection, doc)
}

// InsertMany inserts docs in order inside its own transaction.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []catalog.Document) (ids []catalog.ID, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids, err = executor{ex: tx, s: s}.InsertMany(ctx, collection, docs)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (s *Store) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	return s.ops().Find(ctx, collection, filter)
}

func (s *Store) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	return s.ops().Update(ctx, collection, filter, patch)
}

func (s *Store) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	return s.ops().Delete(ctx, collection, filter)
}

// Begin starts a transaction. Its lifetime is bound to ctx, not to the operation timeout.
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{executor: executor{ex: tx, s: s}, tx: tx}, nil
}

func (s *Store) Close(context.Context) error {
	err := s.db.Close()
	for _, c := range s.closers {
		c()
	}
	return err
}

// Tx is a SQL transaction.
type Tx struct {
	executor
	tx *sqlx.Tx
}

func (t *Tx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *Tx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

// executor runs the operations on a database or a transaction.
type executor struct {
	ex sqlx.ExtContext
	s  *Store
}

func (e executor) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	if err := checkIdent(collection); err != nil {
		return "", err
	}
	rec, ok, err := record(doc)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("insert %s: %w", collection, ErrInvalidID)
	}
	delete(rec, catalog.FieldID)

	ctx, cancel := e.s.withTimeout(ctx)
	defer cancel()

	ds := e.s.builder.Insert(collection).Rows(rec).Prepared(true)

	var id int64
	if e.s.dialect.returning {
		query, args, err := ds.Returning(goqu.C(catalog.FieldID)).ToSQL()
		if err != nil {
			return "", fmt.Errorf("build insert %s: %w", collection, err)
		}
		if err := e.ex.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return "", fmt.Errorf("insert %s: %w", collection, err)
		}
		return formatID(id), nil
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", fmt.Errorf("build insert %s: %w", collection, err)
	}
	res, err := e.ex.ExecContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return "", fmt.Errorf("insert %s: last insert id: %w", collection, err)
	}
	return formatID(id), nil
}

func (e executor) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	ids := make([]catalog.ID, 0, len(docs))
	for _, doc := range docs {
		id, err := e.Insert(ctx, collection, doc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e executor) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	where, ok, err := record(filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return emptyCursor{}, nil
	}

	sel := e.s.builder.From(collection).Order(goqu.C(catalog.FieldID).Asc()).Prepared(true)
	if len(where) > 0 {
		sel = sel.Where(goqu.Ex(where))
	}
	query, args, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find %s: %w", collection, err)
	}

	ctx, cancel := e.s.withTimeout(ctx)
	rows, err := e.ex.QueryxContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	return &cursor{rows: rows, cancel: cancel}, nil
}

func (e executor) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	if err := checkIdent(collection); err != nil {
		return catalog.UpdateResult{}, err
	}
	where, ok, err := record(filter)
	if err != nil {
		return catalog.UpdateResult{}, err
	}
	if !ok {
		return catalog.UpdateResult{}, nil
	}
	set, ok, err := record(patch)
	if err != nil {
		return catalog.UpdateResult{}, err
	}
	if !ok {
		return catalog.UpdateResult{}, fmt.Errorf("update %s: %w", collection, ErrInvalidID)
	}
	delete(set, catalog.FieldID)

	ctx, cancel := e.s.withTimeout(ctx)
	defer cancel()

	if len(set) == 0 {
		n, err := e.count(ctx, collection, where)
		return catalog.UpdateResult{Matched: n}, err
	}

	upd := e.s.builder.Update(collection).Set(set).Prepared(true)
	if len(where) > 0 {
		upd = upd.Where(goqu.Ex(where))
	}
	query, args, err := upd.ToSQL()
	if err != nil {
		return catalog.UpdateResult{}, fmt.Errorf("build update %s: %w", collection, err)
	}
	res, err := e.ex.ExecContext(ctx, query, args...)
	if err != nil {
		return catalog.UpdateResult{}, fmt.Errorf("update %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return catalog.UpdateResult{}, fmt.Errorf("update %s: rows affected: %w", collection, err)
	}
	// both engines report matched rows, whether or not values changed
	return catalog.UpdateResult{Matched: n, Modified: n}, nil
}

func (e executor) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	if err := checkIdent(collection); err != nil {
		return 0, err
	}
	where, ok, err := record(filter)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	del := e.s.builder.Delete(collection).Prepared(true)
	if len(where) > 0 {
		del = del.Where(goqu.Ex(where))
	}
	query, args, err := del.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete %s: %w", collection, err)
	}

	ctx, cancel := e.s.withTimeout(ctx)
	defer cancel()

	res, err := e.ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: rows affected: %w", collection, err)
	}
	return n, nil
}

func (e executor) count(ctx context.Context, collection string, where goqu.Record) (int64, error) {
	sel := e.s.builder.From(collection).Select(goqu.COUNT(goqu.Star())).Prepared(true)
	if len(where) > 0 {
		sel = sel.Where(goqu.Ex(where))
	}
	query, args, err := sel.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", collection, err)
	}
	var n int64
	if err := e.ex.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// record converts a document, filter or patch into column values.
// ok is false when an id value cannot name any row.
func record(m map[string]any) (rec goqu.Record, ok bool, err error) {
	rec = make(goqu.Record, len(m))
	for k, v := range m {
		if err := checkIdent(k); err != nil {
			return nil, false, err
		}
		switch x := v.(type) {
		case catalog.ID:
			n, perr := strconv.ParseInt(string(x), 10, 64)
			if perr != nil {
				return nil, false, nil
			}
			rec[k] = n
		case string:
			if k == catalog.FieldID {
				n, perr := strconv.ParseInt(x, 10, 64)
				if perr != nil {
					return nil, false, nil
				}
				rec[k] = n
				continue
			}
			rec[k] = x
		default:
			rec[k] = v
		}
	}
	return rec, true, nil
}

func formatID(id int64) catalog.ID {
	return catalog.ID(strconv.FormatInt(id, 10))
}

type cursor struct {
	rows   *sqlx.Rows
	cancel context.CancelFunc
	doc    catalog.Document
	err    error
}

func (c *cursor) Next(context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	row := make(map[string]any)
	if err := c.rows.MapScan(row); err != nil {
		c.err = err
		return false
	}
	doc := make(catalog.Document, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if k == catalog.FieldID {
			if n, ok := v.(int64); ok {
				v = formatID(n)
			}
		}
		doc[k] = v
	}
	c.doc = doc
	return true
}

func (c *cursor) Document() catalog.Document {
	return c.doc
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close(context.Context) error {
	err := c.rows.Close()
	c.cancel()
	return err
}

type emptyCursor struct{}

func (emptyCursor) Next(context.Context) bool { return false }

func (emptyCursor) Document() catalog.Document { return nil }

func (emptyCursor) Err() error { return nil }

func (emptyCursor) Close(context.Context) error { return nil }
