package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T) (*http.ServeMux, *MockDatastore, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	ds := NewMockDatastore(ctrl)
	mux := http.NewServeMux()
	NewHTTPHandler(NewService(ds, zaptest.NewLogger(t))).Register(mux)
	return mux, ds, ctrl
}

func serve(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHTTPHandler_CreateAuthors(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, gomock.Len(2)).Return([]ID{"1", "2"}, nil)

		w := serve(mux, http.MethodPost, "/v1/authors", `{"names":["Isabel Allende","Jorge Luis Borges"]}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, []any{"1", "2"}, data["ids"])
	})

	t.Run("blank name", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPost, "/v1/authors", `{"names":["Isabel Allende",""]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		errBody := decodeBody(t, w)["error"].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	})

	t.Run("malformed body", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPost, "/v1/authors", `{"names":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("datastore error", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, gomock.Any()).Return(nil, errors.New("db error"))

		w := serve(mux, http.MethodPost, "/v1/authors", `{"names":["Isabel Allende"]}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHTTPHandler_CreateBooks(t *testing.T) {
	t.Run("unknown author", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("9")}).Return(newSliceCursor(), nil)

		w := serve(mux, http.MethodPost, "/v1/books", `{"books":[{"title":"Ficciones","year":1944,"author_id":"9"}]}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		errBody := decodeBody(t, w)["error"].(map[string]any)
		assert.Equal(t, "author not found: 9", errBody["message"])
	})

	t.Run("success", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().InsertMany(gomock.Any(), BooksCollection, []Document{
			{FieldTitle: "Ficciones", FieldYear: 1944, FieldAuthorID: nil},
		}).Return([]ID{"5"}, nil)

		w := serve(mux, http.MethodPost, "/v1/books", `{"books":[{"title":"Ficciones","year":1944}]}`)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestHTTPHandler_ListBooks(t *testing.T) {
	t.Run("joined listing", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{}).
			Return(newSliceCursor(Document{FieldID: ID("1"), FieldTitle: "Ficciones", FieldYear: int64(1944), FieldAuthorID: ID("3")}), nil)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("3")}).
			Return(newSliceCursor(Document{FieldID: ID("3"), FieldName: "Jorge Luis Borges"}), nil)

		w := serve(mux, http.MethodGet, "/v1/books", "")

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		books := body["data"].([]any)
		require.Len(t, books, 1)
		assert.Equal(t, "Jorge Luis Borges", books[0].(map[string]any)["author_name"])
		assert.Equal(t, float64(1), body["meta"].(map[string]any)["total"])
	})

	t.Run("by author", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldName: "Unknown"}).Return(newSliceCursor(), nil)

		w := serve(mux, http.MethodGet, "/v1/books?author=Unknown", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []any{}, decodeBody(t, w)["data"])
	})

	t.Run("error", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Find(gomock.Any(), BooksCollection, Filter{}).Return(nil, errors.New("db error"))

		w := serve(mux, http.MethodGet, "/v1/books", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHTTPHandler_UpdateBook(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Update(gomock.Any(), BooksCollection, Filter{FieldID: ID("1")}, Patch{FieldYear: 1945}).
			Return(UpdateResult{Matched: 1, Modified: 1}, nil)

		w := serve(mux, http.MethodPatch, "/v1/books/1", `{"year":1945}`)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mux, ds, _ := newTestRouter(t)
		ds.EXPECT().Update(gomock.Any(), BooksCollection, gomock.Any(), gomock.Any()).Return(UpdateResult{}, nil)

		w := serve(mux, http.MethodPatch, "/v1/books/404", `{"title":"Nada"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty patch", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPatch, "/v1/books/1", `{}`)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("blank title", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPatch, "/v1/books/1", `{"title":"  "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHTTPHandler_DeleteBook(t *testing.T) {
	mux, ds, _ := newTestRouter(t)
	ds.EXPECT().Delete(gomock.Any(), BooksCollection, Filter{FieldID: ID("404")}).Return(int64(0), nil)

	w := serve(mux, http.MethodDelete, "/v1/books/404", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHTTPHandler_RunBatch(t *testing.T) {
	t.Run("committed", func(t *testing.T) {
		mux, ds, ctrl := newTestRouter(t)
		tx := NewMockTx(ctrl)
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		tx.EXPECT().InsertMany(gomock.Any(), AuthorsCollection, gomock.Any()).Return([]ID{"4"}, nil)
		tx.EXPECT().Find(gomock.Any(), AuthorsCollection, Filter{FieldID: ID("4")}).
			Return(newSliceCursor(Document{FieldID: ID("4"), FieldName: "Julio Cortázar"}), nil)
		tx.EXPECT().InsertMany(gomock.Any(), BooksCollection, []Document{
			{FieldTitle: "Rayuela", FieldYear: 1963, FieldAuthorID: ID("4")},
		}).Return([]ID{"7"}, nil)
		tx.EXPECT().Delete(gomock.Any(), BooksCollection, Filter{FieldID: ID("2")}).Return(int64(1), nil)
		tx.EXPECT().Commit(gomock.Any()).Return(nil)

		w := serve(mux, http.MethodPost, "/v1/batch", `{"operations":[
			{"op":"add_author","name":"Julio Cortázar"},
			{"op":"add_book","title":"Rayuela","year":1963,"author_ref":0},
			{"op":"delete_book","id":"2"}
		]}`)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, true, data["committed"])
		assert.Equal(t, float64(3), data["operations"])
	})

	t.Run("rolled back", func(t *testing.T) {
		mux, ds, ctrl := newTestRouter(t)
		tx := NewMockTx(ctrl)
		ds.EXPECT().Begin(gomock.Any()).Return(tx, nil)
		tx.EXPECT().Update(gomock.Any(), BooksCollection, gomock.Any(), gomock.Any()).Return(UpdateResult{}, nil)
		tx.EXPECT().Rollback(gomock.Any()).Return(nil)

		w := serve(mux, http.MethodPost, "/v1/batch", `{"operations":[{"op":"update_book","id":"404","year":2000}]}`)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		errBody := decodeBody(t, w)["error"].(map[string]any)
		assert.Equal(t, "BATCH_ROLLED_BACK", errBody["code"])
	})

	t.Run("bad author_ref", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPost, "/v1/batch", `{"operations":[{"op":"add_book","title":"Rayuela","author_ref":3}]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		errBody := decodeBody(t, w)["error"].(map[string]any)
		details := errBody["details"].([]any)
		assert.Equal(t, "operations[0].author_ref", details[0].(map[string]any)["field"])
	})

	t.Run("unknown op", func(t *testing.T) {
		mux, _, _ := newTestRouter(t)

		w := serve(mux, http.MethodPost, "/v1/batch", `{"operations":[{"op":"drop_table"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
