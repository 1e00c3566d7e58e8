package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"bookcatalog/internal/catalog"
)

func (s *Store) columnType(k catalog.FieldKind) string {
	switch k {
	case catalog.KindInt, catalog.KindRef:
		return s.dialect.intType
	default:
		return s.dialect.textType
	}
}

// createStatements renders the DDL for c. Every statement is safe to run repeatedly.
func (s *Store) createStatements(c catalog.Collection) ([]string, error) {
	if err := checkIdent(c.Name); err != nil {
		return nil, err
	}

	cols := []string{fmt.Sprintf("%q %s", catalog.FieldID, s.dialect.idColumn)}
	for _, f := range c.Fields {
		if err := checkIdent(f.Name); err != nil {
			return nil, err
		}
		col := fmt.Sprintf("%q %s", f.Name, s.columnType(f.Kind))
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", c.Name, strings.Join(cols, ", ")),
	}
	for _, idx := range c.Indexes {
		if err := checkIdent(idx); err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %q ON %q (%q)",
			"idx_"+c.Name+"_"+idx, c.Name, idx,
		))
	}
	return stmts, nil
}

// CreateCollection creates the table and its indexes if they do not exist.
func (s *Store) CreateCollection(ctx context.Context, c catalog.Collection) error {
	stmts, err := s.createStatements(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", c.Name, err)
		}
	}
	return nil
}
