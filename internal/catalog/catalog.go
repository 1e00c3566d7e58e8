package catalog

import "strings"

// Collection names.
const (
	AuthorsCollection = "authors"
	BooksCollection   = "books"
)

// Document field names.
const (
	FieldID       = "id"
	FieldName     = "name"
	FieldTitle    = "title"
	FieldYear     = "year"
	FieldAuthorID = "author_id"
)

// ID identifies an author or a book. The datastore assigns it on insert.
type ID string

func (id ID) String() string {
	return string(id)
}

// Author represents an author entity.
type Author struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Book represents a book entity.
type Book struct {
	ID       ID     `json:"id"`
	Title    string `json:"title"`
	Year     *int   `json:"year,omitempty"`
	AuthorID *ID    `json:"author_id,omitempty"`
}

// BookEntry is the input for a new book.
type BookEntry struct {
	Title    string `json:"title" validate:"required"`
	Year     *int   `json:"year,omitempty"`
	AuthorID *ID    `json:"author_id,omitempty"`
}

// BookPatch holds the fields to change on a book. Nil fields are left unchanged.
type BookPatch struct {
	Title *string `json:"title,omitempty"`
	Year  *int    `json:"year,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Year == nil
}

// BookRecord is one row of the joined book listing.
// AuthorName is nil when the book has no author or the reference is dangling.
type BookRecord struct {
	ID         ID      `json:"id"`
	Title      string  `json:"title"`
	Year       *int    `json:"year,omitempty"`
	AuthorName *string `json:"author_name"`
}

// BookTitle is a (title, year) pair returned by author search.
type BookTitle struct {
	Title string `json:"title"`
	Year  *int   `json:"year,omitempty"`
}

// Schema describes the collections owned by the catalog.
func Schema() []Collection {
	return []Collection{
		{
			Name: AuthorsCollection,
			Fields: []Field{
				{Name: FieldName, Kind: KindText, Required: true},
			},
			Indexes: []string{FieldName},
		},
		{
			Name: BooksCollection,
			Fields: []Field{
				{Name: FieldTitle, Kind: KindText, Required: true},
				{Name: FieldYear, Kind: KindInt},
				{Name: FieldAuthorID, Kind: KindRef},
			},
			Indexes: []string{FieldAuthorID},
		},
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: FieldName, Message: "name must not be empty"}
	}
	return nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: FieldTitle, Message: "title must not be empty"}
	}
	return nil
}
