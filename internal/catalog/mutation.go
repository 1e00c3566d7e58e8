package catalog

import "context"

// Mutation is one step of a batch. It runs against the operations of an open transaction.
type Mutation func(ctx context.Context, ops Operations) error

// InsertAuthor adds an author.
func InsertAuthor(name string) Mutation {
	return func(ctx context.Context, ops Operations) error {
		_, err := insertAuthors(ctx, ops, []string{name})
		return err
	}
}

// InsertBook adds a book. The author may be one inserted earlier in the same batch.
func InsertBook(entry BookEntry) Mutation {
	return func(ctx context.Context, ops Operations) error {
		_, err := insertBooks(ctx, ops, []BookEntry{entry})
		return err
	}
}

// PatchBook updates a book and fails when it does not exist.
func PatchBook(id ID, patch BookPatch) Mutation {
	return func(ctx context.Context, ops Operations) error {
		if patch.IsEmpty() {
			return nil
		}
		return updateBook(ctx, ops, id, patch)
	}
}

// RemoveBook deletes a book if present.
func RemoveBook(id ID) Mutation {
	return func(ctx context.Context, ops Operations) error {
		_, err := ops.Delete(ctx, BooksCollection, Filter{FieldID: id})
		return datastoreErr("delete book", err)
	}
}

// RemoveAllBooks deletes every book.
func RemoveAllBooks() Mutation {
	return func(ctx context.Context, ops Operations) error {
		_, err := ops.Delete(ctx, BooksCollection, Filter{})
		return datastoreErr("delete books", err)
	}
}

// InsertAuthorAs adds an author and stores its id in *id so later steps of the batch can refer to it.
func InsertAuthorAs(name string, id *ID) Mutation {
	return func(ctx context.Context, ops Operations) error {
		ids, err := insertAuthors(ctx, ops, []string{name})
		if err != nil {
			return err
		}
		*id = ids[0]
		return nil
	}
}

// InsertBookBy adds a book by the author whose id *author holds when the step runs.
func InsertBookBy(entry BookEntry, author *ID) Mutation {
	return func(ctx context.Context, ops Operations) error {
		if *author == "" {
			return &ValidationError{Field: FieldAuthorID, Message: "referenced author was not inserted"}
		}
		id := *author
		entry.AuthorID = &id
		_, err := insertBooks(ctx, ops, []BookEntry{entry})
		return err
	}
}
