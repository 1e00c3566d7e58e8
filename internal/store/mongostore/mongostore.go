// Package mongostore implements catalog.Datastore on MongoDB.
//
// The catalog's "id" field maps to "_id". ObjectIDs are exposed as their hex form and
// catalog.ID values are stored as ObjectIDs whenever they are valid hex ids.
// Transactions require a replica set or a sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookcatalog/internal/catalog"
)

// ErrInvalidID is returned when an inserted document carries an id that is not an ObjectID.
var ErrInvalidID = errors.New("mongostore: invalid object id")

// Config configures Open.
type Config struct {
	URI      string
	Database string
	Username string
	Password string

	// Timeout bounds every single operation. Zero disables it.
	Timeout time.Duration
}

// Store is a MongoDB-backed datastore.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

var _ catalog.Datastore = (*Store)(nil)

// Open connects to MongoDB and checks the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(cfg.Database), timeout: cfg.Timeout}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return s, nil
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CreateCollection creates the collection with a $jsonSchema validator for the
// required fields, then ensures the indexes. Existing collections are left as they are.
func (s *Store) CreateCollection(ctx context.Context, c catalog.Collection) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: c.Name}})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	if len(names) == 0 {
		opts := options.CreateCollection()
		if required := c.RequiredFields(); len(required) > 0 {
			opts.SetValidator(bson.M{"$jsonSchema": bson.M{
				"bsonType": "object",
				"required": required,
			}})
		}
		if err := s.db.CreateCollection(ctx, c.Name, opts); err != nil {
			var cmdErr mongo.CommandError
			// NamespaceExists: created concurrently
			if !errors.As(err, &cmdErr) || cmdErr.Code != 48 {
				return fmt.Errorf("create collection %s: %w", c.Name, err)
			}
		}
	}

	for _, field := range c.Indexes {
		model := mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}
		if _, err := s.db.Collection(c.Name).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index %s.%s: %w", c.Name, field, err)
		}
	}
	return nil
}

func (s *Store) ops() ops {
	return ops{s: s}
}

func (s *Store) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	return s.ops().Insert(ctx, collection, doc)
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	return s.ops().InsertMany(ctx, collection, docs)
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

// Begin starts a session with an open transaction.
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &Tx{ops: ops{s: s, sess: sess}, sess: sess}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Tx is a MongoDB multi-document transaction.
type Tx struct {
	ops
	sess mongo.Session
}

func (t *Tx) Commit(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.CommitTransaction(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}

// ops runs the operations, inside a session when sess is set.
type ops struct {
	s    *Store
	sess mongo.Session
}

func (o ops) context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := o.s.withTimeout(ctx)
	if o.sess != nil {
		return mongo.NewSessionContext(ctx, o.sess), cancel
	}
	return ctx, cancel
}

func (o ops) Insert(ctx context.Context, collection string, doc catalog.Document) (catalog.ID, error) {
	ids, err := o.InsertMany(ctx, collection, []catalog.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (o ops) InsertMany(ctx context.Context, collection string, docs []catalog.Document) ([]catalog.ID, error) {
	values := make([]any, 0, len(docs))
	for _, doc := range docs {
		m, ok := toBSON(doc)
		if !ok {
			return nil, fmt.Errorf("insert %s: %w", collection, ErrInvalidID)
		}
		values = append(values, m)
	}

	ctx, cancel := o.context(ctx)
	defer cancel()

	res, err := o.s.db.Collection(collection).InsertMany(ctx, values, options.InsertMany().SetOrdered(true))
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}

	ids := make([]catalog.ID, 0, len(res.InsertedIDs))
	for _, v := range res.InsertedIDs {
		ids = append(ids, idString(v))
	}
	return ids, nil
}

func (o ops) Find(ctx context.Context, collection string, filter catalog.Filter) (catalog.Cursor, error) {
	f, ok := toBSON(filter)
	if !ok {
		return emptyCursor{}, nil
	}

	ctx, cancel := o.context(ctx)
	cur, err := o.s.db.Collection(collection).Find(ctx, f)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	return &cursor{cur: cur, cancel: cancel}, nil
}

func (o ops) Update(ctx context.Context, collection string, filter catalog.Filter, patch catalog.Patch) (catalog.UpdateResult, error) {
	f, ok := toBSON(filter)
	if !ok {
		return catalog.UpdateResult{}, nil
	}
	set, ok := toBSON(patch)
	if !ok {
		return catalog.UpdateResult{}, fmt.Errorf("update %s: %w", collection, ErrInvalidID)
	}
	delete(set, "_id")

	ctx, cancel := o.context(ctx)
	defer cancel()

	if len(set) == 0 {
		n, err := o.s.db.Collection(collection).CountDocuments(ctx, f)
		if err != nil {
			return catalog.UpdateResult{}, fmt.Errorf("count %s: %w", collection, err)
		}
		return catalog.UpdateResult{Matched: n}, nil
	}

	res, err := o.s.db.Collection(collection).UpdateMany(ctx, f, bson.M{"$set": set})
	if err != nil {
		return catalog.UpdateResult{}, fmt.Errorf("update %s: %w", collection, err)
	}
	return catalog.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (o ops) Delete(ctx context.Context, collection string, filter catalog.Filter) (int64, error) {
	f, ok := toBSON(filter)
	if !ok {
		return 0, nil
	}

	ctx, cancel := o.context(ctx)
	defer cancel()

	res, err := o.s.db.Collection(collection).DeleteMany(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

type cursor struct {
	cur    *mongo.Cursor
	cancel context.CancelFunc
	doc    catalog.Document
	err    error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var m bson.M
	if err := c.cur.Decode(&m); err != nil {
		c.err = err
		return false
	}
	c.doc = fromBSON(m)
	return true
}

func (c *cursor) Document() catalog.Document {
	return c.doc
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	defer c.cancel()
	return c.cur.Close(ctx)
}

type emptyCursor struct{}

func (emptyCursor) Next(context.Context) bool { return false }

func (emptyCursor) Document() catalog.Document { return nil }

func (emptyCursor) Err() error { return nil }

func (emptyCursor) Close(context.Context) error { return nil }
