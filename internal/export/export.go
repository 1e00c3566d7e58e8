// Package export dumps datastore collections as JSON.
package export

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"bookcatalog/internal/catalog"
)

// Map keys are sorted, so equal states give equal bytes.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot reads every document of the given collections.
func Snapshot(ctx context.Context, ops catalog.Operations, collections ...string) (map[string][]catalog.Document, error) {
	out := make(map[string][]catalog.Document, len(collections))
	for _, name := range collections {
		cur, err := ops.Find(ctx, name, catalog.Filter{})
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}

		docs := []catalog.Document{}
		for cur.Next(ctx) {
			docs = append(docs, cur.Document())
		}
		err = cur.Err()
		_ = cur.Close(ctx)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		out[name] = docs
	}
	return out, nil
}

// Marshal renders a snapshot of the collections as a JSON object keyed by collection name.
func Marshal(ctx context.Context, ops catalog.Operations, collections ...string) ([]byte, error) {
	snap, err := Snapshot(ctx, ops, collections...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// Write streams an indented JSON export of the collections to w.
func Write(ctx context.Context, w io.Writer, ops catalog.Operations, collections ...string) error {
	snap, err := Snapshot(ctx, ops, collections...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
