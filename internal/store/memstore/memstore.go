// Package memstore implements catalog.Datastore in process memory.
//
// Transactions work on a private copy of the whole store and replace it on commit.
// A commit fails with ErrConflict when the store changed after the transaction began.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"bookcatalog/internal/catalog"
)

var (
	// ErrUnknownCollection is returned for operations on a collection that was never created.
	ErrUnknownCollection = errors.New("memstore: unknown collection")

	// ErrMissingField is returned when a required field is absent or null.
	ErrMissingField = errors.New("memstore: missing required field")

	// ErrConflict is returned by Commit when another writer changed the store first.
	ErrConflict = errors.New("memstore: concurrent modification")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("memstore: transaction already finished")
)

type table struct {
	required []string
	nextID   int64
	rows     []catalog.Document
}

type state struct {
	tables map[string]*table
}

func (s *state) clone() *state {
	out := &state{tables: make(map[string]*table, len(s.tables))}
	for name, t := range s.tables {
		rows := make([]catalog.Document, len(t.rows))
		for i, r := range t.rows {
			rows[i] = copyDoc(r)
		}
		out.tables[name] = &table{
			required: append([]string(nil), t.required...),
			nextID:   t.nextID,
			rows:     rows,
		}
	}
	return out
}

// Store is an in-memory datastore. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	state   *state
	version uint64
}

var _ catalog.Datastore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{tables: map[string]*table{}}}
}

func (s *Store) CreateCollection(ctx context.Context, c catalog.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.tables[c.Name]; ok {
		return nil
	}
	s.state.tables[c.Name] = &table{required: c.RequiredFields(), nextID: 1}
	s.version++
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	ids, err := s.InsertMany(ctx, collection, []catalog.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := insert(s.state, collection, docs)
	if err != nil {
		return nil, err
	}
	s.version++
	return ids, nil
}

func (s *Store) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return find(s.state, collection, filter)
}

func (s *Store) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return catalog.UpdateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := update(s.state, collection, filter, patch)
	if err != nil {
		return res, err
	}
	if res.Modified > 0 {
		s.version++
	}
	return res, nil
}

func (s *Store) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := remove(s.state, collection, filter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.version++
	}
	return n, nil
}

// Begin starts a transaction on a snapshot of the store.
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Tx{store: s, state: s.state.clone(), base: s.version}, nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

// Tx is a memstore transaction. It must be used from one goroutine.
type Tx struct {
	store *Store
	state *state
	base  uint64
	dirty bool
	done  bool
}

var _ catalog.Tx = (*Tx)(nil)

func (tx *Tx) check(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	return ctx.Err()
}

func (tx *Tx) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	ids, err := tx.InsertMany(ctx, collection, []catalog.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (tx *Tx) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	ids, err := insert(tx.state, collection, docs)
	if err == nil {
		tx.dirty = true
	}
	return ids, err
}

func (tx *Tx) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	return find(tx.state, collection, filter)
}

func (tx *Tx) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	if err := tx.check(ctx); err != nil {
		return catalog.UpdateResult{}, err
	}
	res, err := update(tx.state, collection, filter, patch)
	if err == nil && res.Modified > 0 {
		tx.dirty = true
	}
	return res, err
}

func (tx *Tx) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	if err := tx.check(ctx); err != nil {
		return 0, err
	}
	n, err := remove(tx.state, collection, filter)
	if err == nil && n > 0 {
		tx.dirty = true
	}
	return n, err
}

// Commit publishes the transaction's state.
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.done = true
	if !tx.dirty {
		return nil
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	if tx.store.version != tx.base {
		return ErrConflict
	}
	tx.store.state = tx.state
	tx.store.version++
	return nil
}

// Rollback discards the transaction's state.
func (tx *Tx) Rollback(context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.state = nil
	return nil
}

func lookup(st *state, collection string) (*table, error) {
	t, ok := st.tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return t, nil
}

func insert(st *state, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	t, err := lookup(st, collection)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		for _, f := range t.required {
			if doc[f] == nil {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, collection, f)
			}
		}
	}

	ids := make([]catalog.ID, 0, len(docs))
	for _, doc := range docs {
		id := catalog.ID(strconv.FormatInt(t.nextID, 10))
		t.nextID++
		row := copyDoc(doc)
		row[catalog.FieldID] = id
		t.rows = append(t.rows, row)
		ids = append(ids, id)
	}
	return ids, nil
}

func find(st *state, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	t, err := lookup(st, collection)
	if err != nil {
		return nil, err
	}
	var docs []catalog.Document
	for _, row := range t.rows {
		if matches(row, filter) {
			docs = append(docs, copyDoc(row))
		}
	}
	return &cursor{docs: docs, pos: -1}, nil
}

func update(st *state, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	var res catalog.UpdateResult
	t, err := lookup(st, collection)
	if err != nil {
		return res, err
	}
	for _, row := range t.rows {
		if !matches(row, filter) {
			continue
		}
		res.Matched++
		changed := false
		for k, v := range patch {
			if k == catalog.FieldID {
				continue
			}
			if !equal(row[k], v) {
				row[k] = v
				changed = true
			}
		}
		if changed {
			res.Modified++
		}
	}
	return res, nil
}

func remove(st *state, collection string, filter catalog.Filter) (int64, error) {
	t, err := lookup(st, collection)
	if err != nil {
		return 0, err
	}
	kept := t.rows[:0]
	var n int64
	for _, row := range t.rows {
		if matches(row, filter) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return n, nil
}

func matches(doc catalog.Document, filter catalog.Filter) bool {
	for k, v := range filter {
		if !equal(doc[k], v) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize folds ids and integers so that ID("1") equals "1" and int 7 equals int64 7.
func normalize(v any) any {
	switch x := v.(type) {
	case catalog.ID:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return v
	}
}

func copyDoc(doc catalog.Document) catalog.Document {
	out := make(catalog.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

type cursor struct {
	docs []catalog.Document
	pos  int
	done bool
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	return c.pos < len(c.docs)
}

func (c *cursor) Document() catalog.Document {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(context.Context) error {
	c.done = true
	return nil
}
