package sqlstore

import (
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcatalog/internal/catalog"
)

func TestRecord(t *testing.T) {
	t.Run("ids become row ids", func(t *testing.T) {
		rec, ok, err := record(map[string]any{
			catalog.FieldID:       "12",
			catalog.FieldAuthorID: catalog.ID("7"),
			catalog.FieldTitle:    "Ficciones",
			catalog.FieldYear:     nil,
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, goqu.Record{
			catalog.FieldID:       int64(12),
			catalog.FieldAuthorID: int64(7),
			catalog.FieldTitle:    "Ficciones",
			catalog.FieldYear:     nil,
		}, rec)
	})

	t.Run("unparseable id matches nothing", func(t *testing.T) {
		_, ok, err := record(map[string]any{catalog.FieldID: catalog.ID("65f0c0ffee")})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects non-identifier keys", func(t *testing.T) {
		_, _, err := record(map[string]any{`title" = '' OR 1=1 --`: "x"})
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}

func TestCreateStatements(t *testing.T) {
	books := catalog.Schema()[1]

	t.Run("sqlite", func(t *testing.T) {
		stmts, err := New(nil, SQLite, 0).createStatements(books)
		require.NoError(t, err)
		assert.Equal(t, []string{
			`CREATE TABLE IF NOT EXISTS "books" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "title" TEXT NOT NULL, "year" INTEGER, "author_id" INTEGER)`,
			`CREATE INDEX IF NOT EXISTS "idx_books_author_id" ON "books" ("author_id")`,
		}, stmts)
	})

	t.Run("postgres", func(t *testing.T) {
		stmts, err := New(nil, Postgres, 0).createStatements(books)
		require.NoError(t, err)
		assert.Contains(t, stmts[0], `"id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`)
		assert.Contains(t, stmts[0], `"year" BIGINT`)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := New(nil, SQLite, 0).createStatements(catalog.Collection{Name: "Books; DROP"})
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}

func TestPreparedStatements(t *testing.T) {
	s := New(nil, Postgres, 0)
	query, args, err := s.builder.From(catalog.AuthorsCollection).
		Where(goqu.Ex{catalog.FieldName: "O'Brien"}).
		Prepared(true).
		ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, query, "O'Brien")
	assert.Equal(t, []any{"O'Brien"}, args)
}
