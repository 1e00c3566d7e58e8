package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/export"
)

type exportCmd struct {
	Output string `short:"o" default:"-" help:"Output file, '-' for stdout."`
}

func (c *exportCmd) Run(g *Globals, a *app) error {
	_, ds, err := openService(g, a)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close(context.Background()) }()

	var w io.Writer = os.Stdout
	if c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create %s: %w", c.Output, err)
		}
		defer f.Close()
		w = f
	}

	return export.Write(a.ctx, w, ds, catalog.AuthorsCollection, catalog.BooksCollection)
}
