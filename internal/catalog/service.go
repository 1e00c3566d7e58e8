package catalog

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service provides the catalog operations on top of a Datastore.
type Service struct {
	ds     Datastore
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a new catalog service. A nil logger disables logging.
func NewService(ds Datastore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ds:     ds,
		logger: logger.Named("catalog"),
		tracer: otel.Tracer("bookcatalog/catalog"),
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ProvisionSchema creates the authors and books collections if they do not exist yet.
func (s *Service) ProvisionSchema(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "catalog.provision_schema")
	defer func() { endSpan(span, err) }()

	for _, c := range Schema() {
		if err := s.ds.CreateCollection(ctx, c); err != nil {
			return datastoreErr("create collection "+c.Name, err)
		}
		s.logger.Debug("collection ready", zap.String("collection", c.Name))
	}
	return nil
}

// AddAuthors inserts one author per name and returns their ids in input order.
// Nothing is inserted when any name is empty.
func (s *Service) AddAuthors(ctx context.Context, names ...string) (ids []ID, err error) {
	ctx, span := s.startSpan(ctx, "catalog.add_authors", attribute.Int("authors.count", len(names)))
	defer func() { endSpan(span, err) }()

	ids, err = insertAuthors(ctx, s.ds, names)
	if err != nil {
		return nil, err
	}
	s.logger.Info("authors added", zap.Int("count", len(ids)))
	return ids, nil
}

// AddBooks inserts one book per entry and returns their ids in input order.
// Every entry is validated, including the existence of its author, before anything is inserted.
func (s *Service) AddBooks(ctx context.Context, entries ...BookEntry) (ids []ID, err error) {
	ctx, span := s.startSpan(ctx, "catalog.add_books", attribute.Int("books.count", len(entries)))
	defer func() { endSpan(span, err) }()

	ids, err = insertBooks(ctx, s.ds, entries)
	if err != nil {
		return nil, err
	}
	s.logger.Info("books added", zap.Int("count", len(ids)))
	return ids, nil
}

// ListBooksWithAuthors lazily yields every book with the current name of its author.
// Iteration stops at the first error, which is yielded with a zero record.
func (s *Service) ListBooksWithAuthors(ctx context.Context) iter.Seq2[BookRecord, error] {
	return func(yield func(BookRecord, error) bool) {
		ctx, span := s.startSpan(ctx, "catalog.list_books_with_authors")
		var err error
		defer func() { endSpan(span, err) }()

		cur, err := s.ds.Find(ctx, BooksCollection, Filter{})
		if err != nil {
			err = datastoreErr("find books", err)
			yield(BookRecord{}, err)
			return
		}
		defer func() { _ = cur.Close(ctx) }()

		names := make(map[ID]*string)
		count := 0
		for cur.Next(ctx) {
			doc := cur.Document()
			rec := BookRecord{
				ID:    docID(doc),
				Title: stringField(doc, FieldTitle),
				Year:  intField(doc, FieldYear),
			}
			if authorID, ok := asID(doc[FieldAuthorID]); ok {
				name, cached := names[authorID]
				if !cached {
					name, err = authorName(ctx, s.ds, authorID)
					if err != nil {
						yield(BookRecord{}, err)
						return
					}
					names[authorID] = name
				}
				rec.AuthorName = name
			}
			count++
			if !yield(rec, nil) {
				return
			}
		}
		if cerr := cur.Err(); cerr != nil {
			err = datastoreErr("iterate books", cerr)
			yield(BookRecord{}, err)
			return
		}
		span.SetAttributes(attribute.Int("books.listed", count))
	}
}

// FindBooksByAuthor returns the books of every author whose name equals name exactly.
func (s *Service) FindBooksByAuthor(ctx context.Context, name string) (out []BookTitle, err error) {
	ctx, span := s.startSpan(ctx, "catalog.find_books_by_author")
	defer func() { endSpan(span, err) }()

	authorIDs, err := findAuthorIDs(ctx, s.ds, name)
	if err != nil {
		return nil, err
	}

	out = []BookTitle{}
	for _, id := range authorIDs {
		cur, err := s.ds.Find(ctx, BooksCollection, Filter{FieldAuthorID: id})
		if err != nil {
			return nil, datastoreErr("find books", err)
		}
		for cur.Next(ctx) {
			doc := cur.Document()
			out = append(out, BookTitle{Title: stringField(doc, FieldTitle), Year: intField(doc, FieldYear)})
		}
		cerr := cur.Err()
		_ = cur.Close(ctx)
		if cerr != nil {
			return nil, datastoreErr("iterate books", cerr)
		}
	}
	span.SetAttributes(attribute.Int("authors.matched", len(authorIDs)), attribute.Int("books.found", len(out)))
	return out, nil
}

// UpdateBook sets the supplied fields of a book. An empty patch does nothing.
func (s *Service) UpdateBook(ctx context.Context, id ID, patch BookPatch) (err error) {
	if patch.IsEmpty() {
		return nil
	}

	ctx, span := s.startSpan(ctx, "catalog.update_book", attribute.String("book.id", id.String()))
	defer func() { endSpan(span, err) }()

	if err := updateBook(ctx, s.ds, id, patch); err != nil {
		return err
	}
	s.logger.Info("book updated", zap.Stringer("id", id))
	return nil
}

// DeleteBook removes a book. Deleting a missing book is not an error.
func (s *Service) DeleteBook(ctx context.Context, id ID) (err error) {
	ctx, span := s.startSpan(ctx, "catalog.delete_book", attribute.String("book.id", id.String()))
	defer func() { endSpan(span, err) }()

	n, err := s.ds.Delete(ctx, BooksCollection, Filter{FieldID: id})
	if err != nil {
		return datastoreErr("delete book", err)
	}
	s.logger.Info("book deleted", zap.Stringer("id", id), zap.Int64("deleted", n))
	return nil
}

// RunBatch applies ops in order inside one transaction and commits them.
// On any failure the transaction is rolled back and false is returned.
func (s *Service) RunBatch(ctx context.Context, ops ...Mutation) bool {
	ctx, span := s.startSpan(ctx, "catalog.run_batch", attribute.Int("batch.size", len(ops)))
	defer span.End()

	tx, err := s.ds.Begin(ctx)
	if err != nil {
		s.logger.Error("batch begin failed", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return false
	}

	for i, op := range ops {
		if err := op(ctx, tx); err != nil {
			s.logger.Warn("batch operation failed, rolling back", zap.Int("index", i), zap.Error(err))
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error("batch rollback failed", zap.Error(rbErr))
			}
			span.SetStatus(codes.Error, err.Error())
			return false
		}
	}

	// A failed commit ends the transaction in every backend, so there is nothing to roll back.
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("batch commit failed", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return false
	}

	span.SetAttributes(attribute.Bool("batch.committed", true))
	s.logger.Info("batch committed", zap.Int("operations", len(ops)))
	return true
}

// DemonstrateRollback deletes every book inside a transaction and then always rolls it back.
// It returns how many books the discarded transaction removed; stored state never changes.
func (s *Service) DemonstrateRollback(ctx context.Context) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "catalog.demonstrate_rollback")
	defer func() { endSpan(span, err) }()

	tx, err := s.ds.Begin(ctx)
	if err != nil {
		return 0, datastoreErr("begin", err)
	}

	n, err = tx.Delete(ctx, BooksCollection, Filter{})
	if rbErr := tx.Rollback(ctx); rbErr != nil && err == nil {
		err = rbErr
	}
	if err != nil {
		return 0, datastoreErr("rollback demonstration", err)
	}

	s.logger.Info("transaction rolled back", zap.Int64("discarded_deletes", n))
	return n, nil
}

// Collect drains a listing into a slice.
func Collect(seq iter.Seq2[BookRecord, error]) ([]BookRecord, error) {
	out := []BookRecord{}
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
