package main

import (
	"context"
)

type provisionCmd struct{}

func (c *provisionCmd) Run(g *Globals, a *app) error {
	_, ds, err := openService(g, a)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close(context.Background()) }()

	a.logger.Info("schema provisioned")
	return nil
}
