package catalog

import (
	"context"
	"strconv"
)

func insertAuthors(ctx context.Context, ops Operations, names []string) ([]ID, error) {
	docs := make([]Document, 0, len(names))
	for _, name := range names {
		if err := validateName(name); err != nil {
			return nil, err
		}
		docs = append(docs, Document{FieldName: name})
	}
	if len(docs) == 0 {
		return []ID{}, nil
	}

	ids, err := ops.InsertMany(ctx, AuthorsCollection, docs)
	if err != nil {
		return nil, datastoreErr("insert authors", err)
	}
	return ids, nil
}

func insertBooks(ctx context.Context, ops Operations, entries []BookEntry) ([]ID, error) {
	docs := make([]Document, 0, len(entries))
	checked := make(map[ID]bool)
	for _, e := range entries {
		if err := validateTitle(e.Title); err != nil {
			return nil, err
		}
		if e.AuthorID != nil && !checked[*e.AuthorID] {
			if err := requireAuthor(ctx, ops, *e.AuthorID); err != nil {
				return nil, err
			}
			checked[*e.AuthorID] = true
		}
		docs = append(docs, bookDocument(e))
	}
	if len(docs) == 0 {
		return []ID{}, nil
	}

	ids, err := ops.InsertMany(ctx, BooksCollection, docs)
	if err != nil {
		return nil, datastoreErr("insert books", err)
	}
	return ids, nil
}

func bookDocument(e BookEntry) Document {
	doc := Document{
		FieldTitle:    e.Title,
		FieldYear:     nil,
		FieldAuthorID: nil,
	}
	if e.Year != nil {
		doc[FieldYear] = *e.Year
	}
	if e.AuthorID != nil {
		doc[FieldAuthorID] = *e.AuthorID
	}
	return doc
}

func requireAuthor(ctx context.Context, ops Operations, id ID) error {
	name, err := authorName(ctx, ops, id)
	if err != nil {
		return err
	}
	if name == nil {
		return &NotFoundError{Entity: "author", ID: id}
	}
	return nil
}

// authorName returns nil when no author has the given id.
func authorName(ctx context.Context, ops Operations, id ID) (*string, error) {
	cur, err := ops.Find(ctx, AuthorsCollection, Filter{FieldID: id})
	if err != nil {
		return nil, datastoreErr("find author", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	if cur.Next(ctx) {
		name := stringField(cur.Document(), FieldName)
		return &name, nil
	}
	if err := cur.Err(); err != nil {
		return nil, datastoreErr("find author", err)
	}
	return nil, nil
}

func findAuthorIDs(ctx context.Context, ops Operations, name string) ([]ID, error) {
	cur, err := ops.Find(ctx, AuthorsCollection, Filter{FieldName: name})
	if err != nil {
		return nil, datastoreErr("find authors", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var ids []ID
	for cur.Next(ctx) {
		if id := docID(cur.Document()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, datastoreErr("find authors", err)
	}
	return ids, nil
}

func updateBook(ctx context.Context, ops Operations, id ID, patch BookPatch) error {
	set := Patch{}
	if patch.Title != nil {
		if err := validateTitle(*patch.Title); err != nil {
			return err
		}
		set[FieldTitle] = *patch.Title
	}
	if patch.Year != nil {
		set[FieldYear] = *patch.Year
	}

	res, err := ops.Update(ctx, BooksCollection, Filter{FieldID: id}, set)
	if err != nil {
		return datastoreErr("update book", err)
	}
	if res.Matched == 0 {
		return &NotFoundError{Entity: "book", ID: id}
	}
	return nil
}

func docID(doc Document) ID {
	id, _ := asID(doc[FieldID])
	return id
}

// asID accepts the id representations the stores hand back.
func asID(v any) (ID, bool) {
	switch x := v.(type) {
	case ID:
		return x, x != ""
	case string:
		return ID(x), x != ""
	case int64:
		return ID(strconv.FormatInt(x, 10)), true
	case int32:
		return ID(strconv.FormatInt(int64(x), 10)), true
	case int:
		return ID(strconv.Itoa(x)), true
	default:
		return "", false
	}
}

func stringField(doc Document, key string) string {
	switch x := doc[key].(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func intField(doc Document, key string) *int {
	var n int
	switch x := doc[key].(type) {
	case int:
		n = x
	case int32:
		n = int(x)
	case int64:
		n = int(x)
	case float64:
		n = int(x)
	default:
		return nil
	}
	return &n
}
