package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"bookcatalog/internal/catalog"
)

var seedWords = []string{"Silence", "River", "Labyrinth", "Mirror", "Garden", "Memory", "Night", "Harbor", "Sand", "Tiger"}

type seedCmd struct {
	Authors   int    `default:"100" help:"Number of authors to generate."`
	Books     int    `default:"10000" help:"Number of books to generate."`
	BatchSize int    `default:"1000" help:"Books inserted per call."`
	Seed      uint64 `default:"1" help:"Random seed."`
}

func (c *seedCmd) Run(g *Globals, a *app) error {
	svc, ds, err := openService(g, a)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close(context.Background()) }()

	return c.seed(a.ctx, svc, a.logger)
}

func (c *seedCmd) seed(ctx context.Context, svc *catalog.Service, logger *zap.Logger) error {
	if c.Authors <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("authors and batch size must be positive")
	}
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed))

	names := make([]string, c.Authors)
	for i := range names {
		names[i] = fmt.Sprintf("Author %d %s", i+1, seedWords[rng.IntN(len(seedWords))])
	}
	authorIDs, err := svc.AddAuthors(ctx, names...)
	if err != nil {
		return err
	}

	batch := make([]catalog.BookEntry, 0, c.BatchSize)
	inserted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := svc.AddBooks(ctx, batch...); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		logger.Info("seeded books", zap.Int("inserted", inserted), zap.Int("total", c.Books))
		return nil
	}

	for i := range c.Books {
		year := 1900 + rng.IntN(125)
		author := authorIDs[rng.IntN(len(authorIDs))]
		batch = append(batch, catalog.BookEntry{
			Title:    fmt.Sprintf("Book %d - %s", i+1, seedWords[rng.IntN(len(seedWords))]),
			Year:     &year,
			AuthorID: &author,
		})
		if len(batch) == c.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
