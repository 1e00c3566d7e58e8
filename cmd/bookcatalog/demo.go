package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"bookcatalog/internal/catalog"
)

type demoCmd struct {
	Author string `default:"Gabriel García Márquez" help:"Author to search for."`
}

func (c *demoCmd) Run(g *Globals, a *app) error {
	svc, ds, err := openService(g, a)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close(context.Background()) }()

	return runDemo(a.ctx, svc, os.Stdout, c.Author)
}

func runDemo(ctx context.Context, svc *catalog.Service, w io.Writer, author string) error {
	authorIDs, err := svc.AddAuthors(ctx, "Gabriel García Márquez", "Isabel Allende", "Jorge Luis Borges")
	if err != nil {
		return err
	}

	bookIDs, err := svc.AddBooks(ctx,
		book("Cien años de soledad", 1967, authorIDs[0]),
		book("El amor en los tiempos del cólera", 1985, authorIDs[0]),
		book("La casa de los espíritus", 1982, authorIDs[1]),
		book("Paula", 1994, authorIDs[1]),
		book("Ficciones", 1944, authorIDs[2]),
		book("El Aleph", 1949, authorIDs[2]),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Added %d authors and %d books.\n", len(authorIDs), len(bookIDs))

	fmt.Fprintln(w, "\nBooks and authors:")
	if err := printListing(ctx, svc, w); err != nil {
		return err
	}

	titles, err := svc.FindBooksByAuthor(ctx, author)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nBooks by %s:\n", author)
	for _, t := range titles {
		fmt.Fprintf(w, "  %s (%s)\n", t.Title, formatYear(t.Year))
	}

	special := "Cien años de soledad (Edición especial)"
	if err := svc.UpdateBook(ctx, bookIDs[0], catalog.BookPatch{Title: &special}); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nBook %s retitled.\n", bookIDs[0])

	if err := svc.DeleteBook(ctx, bookIDs[5]); err != nil {
		return err
	}
	fmt.Fprintf(w, "Book %s deleted.\n", bookIDs[5])

	discarded, err := svc.DemonstrateRollback(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTransaction deleted %d books and was rolled back.\n", discarded)

	var cortazar catalog.ID
	committed := svc.RunBatch(ctx,
		catalog.InsertAuthorAs("Julio Cortázar", &cortazar),
		catalog.InsertBookBy(catalog.BookEntry{Title: "Rayuela", Year: intPtr(1963)}, &cortazar),
		catalog.InsertBookBy(catalog.BookEntry{Title: "Bestiario", Year: intPtr(1951)}, &cortazar),
	)
	fmt.Fprintf(w, "Batch committed: %t\n", committed)

	fmt.Fprintln(w, "\nBooks and authors:")
	return printListing(ctx, svc, w)
}

func printListing(ctx context.Context, svc *catalog.Service, w io.Writer) error {
	for rec, err := range svc.ListBooksWithAuthors(ctx) {
		if err != nil {
			return err
		}
		author := "unknown author"
		if rec.AuthorName != nil {
			author = *rec.AuthorName
		}
		fmt.Fprintf(w, "  [%s] %s (%s) - %s\n", rec.ID, rec.Title, formatYear(rec.Year), author)
	}
	return nil
}

func book(title string, year int, author catalog.ID) catalog.BookEntry {
	return catalog.BookEntry{Title: title, Year: &year, AuthorID: &author}
}

func formatYear(year *int) string {
	if year == nil {
		return "n/a"
	}
	return fmt.Sprint(*year)
}

func intPtr(n int) *int {
	return &n
}
