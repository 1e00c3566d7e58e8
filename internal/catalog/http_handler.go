package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bookcatalog/internal/httpx"
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register mounts the catalog routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/authors", h.CreateAuthors)
	mux.HandleFunc("POST /v1/books", h.CreateBooks)
	mux.HandleFunc("GET /v1/books", h.ListBooks)
	mux.HandleFunc("PATCH /v1/books/{id}", h.UpdateBook)
	mux.HandleFunc("DELETE /v1/books/{id}", h.DeleteBook)
	mux.HandleFunc("POST /v1/batch", h.RunBatch)
}

type createAuthorsReq struct {
	Names []string `json:"names" validate:"required,min=1,dive,notblank"`
}

type bookReq struct {
	Title    string `json:"title" validate:"notblank"`
	Year     *int   `json:"year"`
	AuthorID *ID    `json:"author_id"`
}

type createBooksReq struct {
	Books []bookReq `json:"books" validate:"required,min=1,dive"`
}

type patchBookReq struct {
	Title *string `json:"title" validate:"omitempty,notblank"`
	Year  *int    `json:"year"`
}

type batchOpReq struct {
	Op       string  `json:"op" validate:"required,oneof=add_author add_book update_book delete_book delete_all_books"`
	Name     string  `json:"name"`
	ID       ID      `json:"id"`
	Title    *string `json:"title"`
	Year     *int    `json:"year"`
	AuthorID *ID     `json:"author_id"`
	// AuthorRef is the index of an earlier add_author operation of the same batch.
	AuthorRef *int `json:"author_ref"`
}

type batchReq struct {
	Operations []batchOpReq `json:"operations" validate:"required,min=1,dive"`
}

type idsResponse struct {
	IDs []ID `json:"ids"`
}

type batchResponse struct {
	Committed  bool `json:"committed"`
	Operations int  `json:"operations"`
}

// CreateAuthors handles POST /v1/authors
// @Summary Add authors
// @Tags authors
// @Accept json
// @Produce json
// @Param request body createAuthorsReq true "Author names"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/authors [post]
func (h *HTTPHandler) CreateAuthors(w http.ResponseWriter, r *http.Request) {
	var req createAuthorsReq
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ids, err := h.svc.AddAuthors(r.Context(), req.Names...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.JSONSuccessCreated(w, r, idsResponse{IDs: ids})
}

// CreateBooks handles POST /v1/books
// @Summary Add books
// @Description Every book is validated, including its author, before any is stored.
// @Tags books
// @Accept json
// @Produce json
// @Param request body createBooksReq true "Books"
// @Success 201 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/books [post]
func (h *HTTPHandler) CreateBooks(w http.ResponseWriter, r *http.Request) {
	var req createBooksReq
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entries := make([]BookEntry, 0, len(req.Books))
	for _, b := range req.Books {
		entries = append(entries, BookEntry{Title: b.Title, Year: b.Year, AuthorID: b.AuthorID})
	}

	ids, err := h.svc.AddBooks(r.Context(), entries...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.JSONSuccessCreated(w, r, idsResponse{IDs: ids})
}

// ListBooks handles GET /v1/books
// @Summary List books
// @Description Without a filter every book is listed with its author's name.
// @Description With ?author= only the titles and years of that author's books are returned.
// @Tags books
// @Produce json
// @Param author query string false "Exact author name"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/books [get]
func (h *HTTPHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("author") {
		books, err := h.svc.FindBooksByAuthor(r.Context(), query.Get("author"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httpx.JSONSuccess(w, r, books, map[string]any{"total": len(books)})
		return
	}

	books, err := Collect(h.svc.ListBooksWithAuthors(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, books, map[string]any{"total": len(books)})
}

// UpdateBook handles PATCH /v1/books/{id}
// @Summary Update a book
// @Tags books
// @Accept json
// @Param id path string true "Book ID"
// @Param request body patchBookReq true "Fields to change"
// @Success 204 "No Content"
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/books/{id} [patch]
func (h *HTTPHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id := ID(r.PathValue("id"))
	if id == "" {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Book ID is required", nil)
		return
	}

	var req patchBookReq
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateBook(r.Context(), id, BookPatch{Title: req.Title, Year: req.Year}); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.JSONSuccessNoContent(w)
}

// DeleteBook handles DELETE /v1/books/{id}
// @Summary Delete a book
// @Description Deleting a book that does not exist succeeds.
// @Tags books
// @Param id path string true "Book ID"
// @Success 204 "No Content"
// @Failure 500 {object} httpx.ErrorResponse
// @Router /v1/books/{id} [delete]
func (h *HTTPHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id := ID(r.PathValue("id"))
	if id == "" {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Book ID is required", nil)
		return
	}

	if err := h.svc.DeleteBook(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.JSONSuccessNoContent(w)
}

// RunBatch handles POST /v1/batch
// @Summary Apply operations atomically
// @Description Either every operation is applied or none is.
// @Tags batch
// @Accept json
// @Produce json
// @Param request body batchReq true "Operations"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 422 {object} httpx.ErrorResponse
// @Router /v1/batch [post]
func (h *HTTPHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if !decodeAndValidate(w, r, &req) {
		return
	}

	mutations, details := buildMutations(req.Operations)
	if len(details) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)
		return
	}

	if !h.svc.RunBatch(r.Context(), mutations...) {
		httpx.JSONError(w, r, http.StatusUnprocessableEntity, "BATCH_ROLLED_BACK", "Batch was rolled back", nil)
		return
	}

	httpx.JSONSuccess(w, r, batchResponse{Committed: true, Operations: len(mutations)}, nil)
}

func buildMutations(reqs []batchOpReq) ([]Mutation, []httpx.ErrorDetail) {
	mutations := make([]Mutation, 0, len(reqs))
	authorIDs := make(map[int]*ID)
	var details []httpx.ErrorDetail
	fail := func(i int, field, msg string) {
		details = append(details, httpx.ErrorDetail{Field: fmt.Sprintf("operations[%d].%s", i, field), Message: msg})
	}

	for i, op := range reqs {
		switch op.Op {
		case "add_author":
			id := new(ID)
			authorIDs[i] = id
			mutations = append(mutations, InsertAuthorAs(op.Name, id))
		case "add_book":
			entry := BookEntry{Year: op.Year, AuthorID: op.AuthorID}
			if op.Title != nil {
				entry.Title = *op.Title
			}
			if op.AuthorRef == nil {
				mutations = append(mutations, InsertBook(entry))
				continue
			}
			ref, ok := authorIDs[*op.AuthorRef]
			if !ok {
				fail(i, "author_ref", "author_ref must point to an earlier add_author operation")
				continue
			}
			mutations = append(mutations, InsertBookBy(entry, ref))
		case "update_book":
			if op.ID == "" {
				fail(i, "id", "id is required")
				continue
			}
			mutations = append(mutations, PatchBook(op.ID, BookPatch{Title: op.Title, Year: op.Year}))
		case "delete_book":
			if op.ID == "" {
				fail(i, "id", "id is required")
				continue
			}
			mutations = append(mutations, RemoveBook(op.ID))
		case "delete_all_books":
			mutations = append(mutations, RemoveAllBooks())
		}
	}
	return mutations, details
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return false
	}
	if validationErrors := httpx.ValidateStruct(dst); len(validationErrors) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", validationErrors)
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input",
			[]httpx.ErrorDetail{{Field: verr.Field, Message: verr.Message}})
	case errors.Is(err, ErrNotFound):
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}
