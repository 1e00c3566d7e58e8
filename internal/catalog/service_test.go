package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// sliceCursor serves fixed documents.
type sliceCursor struct {
	docs   []Document
	pos    int
	err    error
	closed bool
}

func newSliceCursor(docs ...Document) *sliceCursor {
	return &sliceCursor{docs: docs, pos: -1}
}

func (c *sliceCursor) Next(context.Context) bool {
	if c.closed {
		return false
	}
	c.pos++
	if c.pos >= len(c.docs) {
		return false
	}
	return true
}

func (c *sliceCursor) Document() Document { return c.docs[c.pos] }

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
func idPtr(id ID) *ID         { return &id }

func newTestService(t *testing.T) (*Service, *MockDatastore) {
	ctrl := gomock.NewController(t)
	ds := NewMockDatastore(ctrl)
	return NewService(ds, zaptest.NewLogger(t)), ds
}

func TestService_ProvisionSchema(t *testing.T) {
	svc, ds := newTestService(t)

	gomock.InOrder(
		ds.EXPECT().CreateCollection(gomock.Any(), Schema()[0]).Return(nil),
		ds.EXPECT().CreateCollection(gomock.Any(), Schema()[1]).Return(nil),
	)

	require.NoError(t, svc.ProvisionSchema(context.Background()))
}

func TestService_ProvisionSchema_DatastoreError(t *testing.T) {
	svc, ds := newTestService(t)
	boom := errors.New("connection refused")

	ds.EXPECT().CreateCollection(gomock.Any(), gomock.Any()).Return(boom)

	err := svc.ProvisionSchema(context.Background())
	assert.ErrorIs(t, err, ErrDatastore)
	assert.ErrorIs(t, err, boom)
}

func TestService_AddAuthors(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ids in input order", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().
			InsertMany(gomock.Any(), AuthorsCollection, []Document{{FieldName: "Isabel Allende"}, {FieldName: "Jorge Luis Borges"}}).
			Return([]ID{"1", "2"}, nil)

		ids, err := svc.AddAuthors(ctx, "Isabel Allende", "Jorge Luis Borges")
		require.NoError(t, err)
		assert.Equal(t, []ID{"1", "2"}, ids)
	})

	t.Run("empty name inserts nothing", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddAuthors(ctx, "Isabel Allende", "  ")

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, FieldName, verr.Field)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("no names", func(t *testing.T) {
		svc, _ := newTestService(t)

		ids, err := svc.AddAuthors(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("datastore failure is propagated", func(t *testing.T) {
		svc, ds := newTestService(t)
		boom := errors.New("disk full")
		ds.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, gomock.Any()).Return(nil, boom)

		_, err := svc.AddAuthors(ctx, "Isabel Allende")

		var dserr *DatastoreError
		require.ErrorAs(t, err, &dserr)
		assert.Equal(t, boom, dserr.Unwrap())
	})
}

func TestService_AddBooks(t *testing.T) {
	ctx := context.Background()

	t.Run("checks each author once", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("7")}).
			Return(newSliceCursor(Document{FieldID: ID("7"), FieldName: "Jorge Luis Borges"}), nil).
			Times(1)
		ds.EXPECT().InsertMany(gomock.Any(), BooksCollection, []Document{
			{FieldTitle: "Ficciones", FieldYear: 1944, FieldAuthorID: ID("7")},
			{FieldTitle: "El Aleph", FieldYear: 1949, FieldAuthorID: ID("7")},
			{FieldTitle: "Anonymous", FieldYear: nil, FieldAuthorID: nil},
		}).Return([]ID{"1", "2", "3"}, nil)

		ids, err := svc.AddBooks(ctx,
			BookEntry{Title: "Ficciones", Year: intPtr(1944), AuthorID: idPtr("7")},
			BookEntry{Title: "El Aleph", Year: intPtr(1949), AuthorID: idPtr("7")},
			BookEntry{Title: "Anonymous"},
		)
		require.NoError(t, err)
		assert.Equal(t, []ID{"1", "2", "3"}, ids)
	})

	t.Run("empty title", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.AddBooks(ctx, BookEntry{Title: ""})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown author", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("99")}).Return(newSliceCursor(), nil)

		_, err := svc.AddBooks(ctx, BookEntry{Title: "Ficciones", AuthorID: idPtr("99")})

		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "author", nf.Entity)
		assert.Equal(t, ID("99"), nf.ID)
	})
}

func TestService_ListBooksWithAuthors(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	books := newSliceCursor(
		Document{FieldID: ID("1"), FieldTitle: "Cien años de soledad", FieldYear: int64(1967), FieldAuthorID: ID("1")},
		Document{FieldID: ID("2"), FieldTitle: "El amor en los tiempos del cólera", FieldYear: int64(1985), FieldAuthorID: ID("1")},
		Document{FieldID: ID("3"), FieldTitle: "Orphan", FieldYear: nil, FieldAuthorID: ID("42")},
		Document{FieldID: ID("4"), FieldTitle: "Anonymous", FieldYear: nil, FieldAuthorID: nil},
	)
	ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{}).Return(books, nil)
	ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("1")}).
		Return(newSliceCursor(Document{FieldID: ID("1"), FieldName: "Gabriel García Márquez"}), nil).
		Times(1)
	ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("42")}).
		Return(newSliceCursor(), nil).
		Times(1)

	records, err := Collect(svc.ListBooksWithAuthors(ctx))
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, BookRecord{ID: "1", Title: "Cien años de soledad", Year: intPtr(1967), AuthorName: strPtr("Gabriel García Márquez")}, records[0])
	assert.Equal(t, strPtr("Gabriel García Márquez"), records[1].AuthorName)
	assert.Nil(t, records[2].AuthorName, "dangling reference")
	assert.Nil(t, records[2].Year)
	assert.Nil(t, records[3].AuthorName, "no author")
	assert.True(t, books.closed)
}

func TestService_ListBooksWithAuthors_StopsEarly(t *testing.T) {
	svc, ds := newTestService(t)

	books := newSliceCursor(
		Document{FieldID: ID("1"), FieldTitle: "A"},
		Document{FieldID: ID("2"), FieldTitle: "B"},
	)
	ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{}).Return(books, nil)

	for rec, err := range svc.ListBooksWithAuthors(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "A", rec.Title)
		break
	}
	assert.True(t, books.closed)
}

func TestService_ListBooksWithAuthors_CursorError(t *testing.T) {
	svc, ds := newTestService(t)
	boom := errors.New("network reset")

	cur := newSliceCursor()
	cur.err = boom
	ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{}).Return(cur, nil)

	_, err := Collect(svc.ListBooksWithAuthors(context.Background()))
	assert.ErrorIs(t, err, ErrDatastore)
	assert.ErrorIs(t, err, boom)
}

func TestService_FindBooksByAuthor(t *testing.T) {
	ctx := context.Background()

	t.Run("union across authors sharing a name", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldName: "J. Smith"}).
			Return(newSliceCursor(Document{FieldID: ID("1")}, Document{FieldID: ID("2")}), nil)
		ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{FieldAuthorID: ID("1")}).
			Return(newSliceCursor(Document{FieldTitle: "First", FieldYear: int64(2001)}), nil)
		ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{FieldAuthorID: ID("2")}).
			Return(newSliceCursor(Document{FieldTitle: "Second"}), nil)

		books, err := svc.FindBooksByAuthor(ctx, "J. Smith")
		require.NoError(t, err)
		assert.Equal(t, []BookTitle{{Title: "First", Year: intPtr(2001)}, {Title: "Second"}}, books)
	})

	t.Run("unknown author", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldName: "Unknown"}).Return(newSliceCursor(), nil)

		books, err := svc.FindBooksByAuthor(ctx, "Unknown")
		require.NoError(t, err)
		assert.NotNil(t, books)
		assert.Empty(t, books)
	})
}

func TestService_UpdateBook(t *testing.T) {
	ctx := context.Background()

	t.Run("empty patch makes no datastore call", func(t *testing.T) {
		svc, _ := newTestService(t)
		require.NoError(t, svc.UpdateBook(ctx, "1", BookPatch{}))
	})

	t.Run("only supplied fields are set", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Update(gomock.Any(), BooksCollection, Filter{FieldID: ID("1")}, Patch{FieldYear: 1945}).
			Return(UpdateResult{Matched: 1, Modified: 1}, nil)

		require.NoError(t, svc.UpdateBook(ctx, "1", BookPatch{Year: intPtr(1945)}))
	})

	t.Run("unchanged values still count as found", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Update(gomock.Any(), BooksCollection, gomock.Any(), Patch{FieldTitle: "Ficciones"}).
			Return(UpdateResult{Matched: 1, Modified: 0}, nil)

		require.NoError(t, svc.UpdateBook(ctx, "1", BookPatch{Title: strPtr("Ficciones")}))
	})

	t.Run("missing book", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Update(gomock.Any(), BooksCollection, gomock.Any(), gomock.Any()).Return(UpdateResult{}, nil)

		err := svc.UpdateBook(ctx, "404", BookPatch{Year: intPtr(2000)})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("blank title", func(t *testing.T) {
		svc, _ := newTestService(t)

		err := svc.UpdateBook(ctx, "1", BookPatch{Title: strPtr(" ")})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestService_DeleteBook(t *testing.T) {
	ctx := context.Background()

	t.Run("missing book is not an error", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Delete(gomock.Any(), BooksCollection, Filter{FieldID: ID("404")}).Return(int64(0), nil)

		require.NoError(t, svc.DeleteBook(ctx, "404"))
	})

	t.Run("datastore failure", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Delete(gomock.Any(), BooksCollection, gomock.Any()).Return(int64(0), errors.New("timeout"))

		assert.ErrorIs(t, svc.DeleteBook(ctx, "1"), ErrDatastore)
	})
}

func TestService_RunBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("commits", func(t *testing.T) {
		svc, ds := newTestService(t)
		tx := NewMockTx(gomock.NewController(t))
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		gomock.InOrder(
			tx.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, []Document{{FieldName: "Julio Cortázar"}}).Return([]ID{"4"}, nil),
			tx.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("4")}).
				Return(newSliceCursor(Document{FieldID: ID("4"), FieldName: "Julio Cortázar"}), nil),
			tx.EXPECT().InsertMany(gomock.Any(), BooksCollection, gomock.Any()).Return([]ID{"7"}, nil),
			tx.EXPECT().Commit(gomock.Any()).Return(nil),
		)

		var author ID
		ok := svc.RunBatch(ctx,
			InsertAuthorAs("Julio Cortázar", &author),
			InsertBookBy(BookEntry{Title: "Rayuela", Year: intPtr(1963)}, &author),
		)
		assert.True(t, ok)
		assert.Equal(t, ID("4"), author)
	})

	t.Run("rolls back when an operation fails", func(t *testing.T) {
		svc, ds := newTestService(t)
		tx := NewMockTx(gomock.NewController(t))
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		tx.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, gomock.Any()).Return([]ID{"4"}, nil)
		tx.EXPECT().Rollback(gomock.Any()).Return(nil)

		ok := svc.RunBatch(ctx,
			InsertAuthor("Julio Cortázar"),
			InsertBook(BookEntry{Title: ""}),
		)
		assert.False(t, ok)
	})

	t.Run("failed commit is not rolled back again", func(t *testing.T) {
		svc, ds := newTestService(t)
		tx := NewMockTx(gomock.NewController(t))
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		tx.EXPECT().Delete(gomock.Any(), BooksCollection, Filter{}).Return(int64(3), nil)
		tx.EXPECT().Commit(gomock.Any()).Return(errors.New("serialization failure"))
		tx.EXPECT().Rollback(gomock.Any()).Times(0)

		assert.False(t, svc.RunBatch(ctx, RemoveAllBooks()))
	})

	t.Run("begin fails", func(t *testing.T) {
		svc, ds := newTestService(t)
		ds.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("no connection"))

		assert.False(t, svc.RunBatch(ctx, RemoveAllBooks()))
	})

	t.Run("empty patch step is skipped", func(t *testing.T) {
		svc, ds := newTestService(t)
		tx := NewMockTx(gomock.NewController(t))
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		assert.True(t, svc.RunBatch(ctx, PatchBook("1", BookPatch{})))
	})
}

func TestService_DemonstrateRollback(t *testing.T) {
	svc, ds := newTestService(t)
	tx := NewMockTx(gomock.NewController(t))
	ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	gomock.InOrder(
		tx.EXPECT().Delete(gomock.Any(), BooksCollection, Filter{}).Return(int64(6), nil),
		tx.EXPECT().Rollback(gomock.Any()).Return(nil),
	)

	n, err := svc.DemonstrateRollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestInsertBookBy_UnsetAuthor(t *testing.T) {
	var author ID
	err := InsertBookBy(BookEntry{Title: "Rayuela"}, &author)(context.Background(), NewMockOperations(gomock.NewController(t)))
	assert.ErrorIs(t, err, ErrValidation)
}
