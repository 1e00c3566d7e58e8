// Package storetest holds the behaviour every catalog.Datastore backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/export"
)

// Options tunes Run for backend limitations.
type Options struct {
	// SkipTransactions skips the transaction checks, e.g. on a standalone MongoDB server.
	SkipTransactions bool
}

// Run checks the datastore returned by open against the catalog contract.
// open must return an empty datastore and arrange its cleanup.
func Run(t *testing.T, open func(t *testing.T) catalog.Datastore, opts Options) {
	t.Run("CreateCollectionIdempotent", func(t *testing.T) {
		ds := open(t)
		ctx := context.Background()
		for range 2 {
			for _, c := range catalog.Schema() {
				require.NoError(t, ds.CreateCollection(ctx, c))
			}
		}
	})

	t.Run("InsertFindUpdateDelete", func(t *testing.T) {
		ds := provisioned(t, open)
		ctx := context.Background()

		ids, err := ds.InsertMany(ctx, catalog.AuthorsCollection, []catalog.Document{
			{catalog.FieldName: "Gabriel García Márquez"},
			{catalog.FieldName: "Isabel Allende"},
		})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])

		bookID, err := ds.Insert(ctx, catalog.BooksCollection, catalog.Document{
			catalog.FieldTitle:    "La casa de los espíritus",
			catalog.FieldYear:     1982,
			catalog.FieldAuthorID: ids[1],
		})
		require.NoError(t, err)

		docs := findAll(t, ds, catalog.BooksCollection, catalog.Filter{catalog.FieldAuthorID: ids[1]})
		require.Len(t, docs, 1)
		assert.Equal(t, "La casa de los espíritus", docs[0][catalog.FieldTitle])
		assert.EqualValues(t, 1982, docs[0][catalog.FieldYear])
		assert.Equal(t, bookID, docs[0][catalog.FieldID])

		res, err := ds.Update(ctx, catalog.BooksCollection, catalog.Filter{catalog.FieldID: bookID}, catalog.Patch{catalog.FieldYear: 1983})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Matched)

		res, err = ds.Update(ctx, catalog.BooksCollection, catalog.Filter{catalog.FieldID: missingID(bookID)}, catalog.Patch{catalog.FieldYear: 1})
		require.NoError(t, err)
		assert.Zero(t, res.Matched)

		n, err := ds.Delete(ctx, catalog.BooksCollection, catalog.Filter{catalog.FieldID: bookID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Empty(t, findAll(t, ds, catalog.BooksCollection, catalog.Filter{}))

		n, err = ds.Delete(ctx, catalog.BooksCollection, catalog.Filter{catalog.FieldID: bookID})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UnknownIDFindsNothing", func(t *testing.T) {
		ds := provisioned(t, open)
		assert.Empty(t, findAll(t, ds, catalog.AuthorsCollection, catalog.Filter{catalog.FieldID: catalog.ID("not-an-id")}))
	})

	t.Run("ValuesAreParameters", func(t *testing.T) {
		ds := provisioned(t, open)
		ctx := context.Background()
		name := `Robert'); DROP TABLE authors;--`

		_, err := ds.Insert(ctx, catalog.AuthorsCollection, catalog.Document{catalog.FieldName: name})
		require.NoError(t, err)

		docs := findAll(t, ds, catalog.AuthorsCollection, catalog.Filter{catalog.FieldName: name})
		require.Len(t, docs, 1)
		assert.Equal(t, name, docs[0][catalog.FieldName])
	})

	t.Run("Scenario", func(t *testing.T) {
		ds := provisioned(t, open)
		ctx := context.Background()
		svc := catalog.NewService(ds, zaptest.NewLogger(t))

		authors, err := svc.AddAuthors(ctx, "Jorge Luis Borges")
		require.NoError(t, err)
		year := 1944
		books, err := svc.AddBooks(ctx, catalog.BookEntry{Title: "Ficciones", Year: &year, AuthorID: &authors[0]})
		require.NoError(t, err)

		found, err := svc.FindBooksByAuthor(ctx, "Jorge Luis Borges")
		require.NoError(t, err)
		assert.Equal(t, []catalog.BookTitle{{Title: "Ficciones", Year: &year}}, found)

		newYear := 1945
		require.NoError(t, svc.UpdateBook(ctx, books[0], catalog.BookPatch{Year: &newYear}))
		listing, err := catalog.Collect(svc.ListBooksWithAuthors(ctx))
		require.NoError(t, err)
		name := "Jorge Luis Borges"
		assert.Equal(t, []catalog.BookRecord{{ID: books[0], Title: "Ficciones", Year: &newYear, AuthorName: &name}}, listing)

		require.NoError(t, svc.DeleteBook(ctx, books[0]))
		listing, err = catalog.Collect(svc.ListBooksWithAuthors(ctx))
		require.NoError(t, err)
		assert.Empty(t, listing)
	})

	if opts.SkipTransactions {
		return
	}

	t.Run("TransactionRollback", func(t *testing.T) {
		ds := provisioned(t, open)
		ctx := context.Background()
		svc := catalog.NewService(ds, zaptest.NewLogger(t))

		authors, err := svc.AddAuthors(ctx, "Jorge Luis Borges")
		require.NoError(t, err)
		_, err = svc.AddBooks(ctx, catalog.BookEntry{Title: "El Aleph", AuthorID: &authors[0]})
		require.NoError(t, err)

		before, err := export.Marshal(ctx, ds, catalog.AuthorsCollection, catalog.BooksCollection)
		require.NoError(t, err)

		ok := svc.RunBatch(ctx,
			catalog.InsertAuthor("Julio Cortázar"),
			catalog.RemoveAllBooks(),
			catalog.InsertBook(catalog.BookEntry{Title: ""}),
		)
		assert.False(t, ok)

		n, err := svc.DemonstrateRollback(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		after, err := export.Marshal(ctx, ds, catalog.AuthorsCollection, catalog.BooksCollection)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		ds := provisioned(t, open)
		ctx := context.Background()
		svc := catalog.NewService(ds, zaptest.NewLogger(t))

		var author catalog.ID
		year := 1963
		ok := svc.RunBatch(ctx,
			catalog.InsertAuthorAs("Julio Cortázar", &author),
			catalog.InsertBookBy(catalog.BookEntry{Title: "Rayuela", Year: &year}, &author),
			catalog.InsertBookBy(catalog.BookEntry{Title: "Bestiario"}, &author),
		)
		require.True(t, ok)

		found, err := svc.FindBooksByAuthor(ctx, "Julio Cortázar")
		require.NoError(t, err)
		assert.Equal(t, []catalog.BookTitle{{Title: "Rayuela", Year: &year}, {Title: "Bestiario"}}, found)
	})
}

func provisioned(t *testing.T, open func(t *testing.T) catalog.Datastore) catalog.Datastore {
	t.Helper()
	ds := open(t)
	require.NoError(t, catalog.NewService(ds, nil).ProvisionSchema(context.Background()))
	return ds
}

func findAll(t *testing.T, ops catalog.Operations, collection string, filter catalog.Filter) []catalog.Document {
	t.Helper()
	ctx := context.Background()
	cur, err := ops.Find(ctx, collection, filter)
	require.NoError(t, err)
	defer func() { _ = cur.Close(ctx) }()

	var out []catalog.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	require.NoError(t, cur.Err())
	return out
}

// missingID derives an id of the same shape as id that no row uses.
func missingID(id catalog.ID) catalog.ID {
	if len(id) == 24 {
		return "ffffffffffffffffffffffff"
	}
	return "999999999"
}
