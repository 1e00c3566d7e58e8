package catalog

//go:generate mockgen -source=datastore.go -destination=mock_datastore.go -package=catalog

import (
	"context"
)

// Document is a single row or document. The "id" key carries the ID.
type Document map[string]any

// Filter selects documents whose fields equal every given value.
// A nil value matches a missing or null field.
type Filter map[string]any

// Patch lists field values to set.
type Patch map[string]any

// FieldKind is the storage type of a field.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInt
	KindRef
)

// Field describes one field of a collection.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Collection describes a collection to provision.
type Collection struct {
	Name    string
	Fields  []Field
	Indexes []string
}

// RequiredFields returns the names of the required fields.
func (c Collection) RequiredFields() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// UpdateResult reports how many documents an update matched and changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Cursor iterates lazily over the documents of a Find.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() Document
	Err() error
	Close(ctx context.Context) error
}

// Operations are the document primitives available both on a Datastore and inside a Tx.
type Operations interface {
	Insert(ctx context.Context, collection string, doc Document) (ID, error)
	InsertMany(ctx context.Context, collection string, docs []Document) ([]ID, error)
	Find(ctx context.Context, collection string, filter Filter) (Cursor, error)
	Update(ctx context.Context, collection string, filter Filter, patch Patch) (UpdateResult, error)
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
}

// Tx is an open transaction. Effects are invisible to other readers until Commit.
type Tx interface {
	Operations
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Datastore is the persistence collaborator of the catalog.
type Datastore interface {
	Operations
	CreateCollection(ctx context.Context, c Collection) error
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}
