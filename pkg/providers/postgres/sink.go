package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/providers/sqlutil"
	"github.com/jackc/pgx/v4/pgxpool"
)

// sink applies row events with INSERT ... ON CONFLICT DO UPDATE keyed by the
// event's key columns. Events without key columns fall back to plain inserts,
// those entities are only written by full fresh copies.
type sink struct {
	pool *pgxpool.Pool
}

func (s *sink) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	for _, event := range batch {
		var err error
		switch event.Kind {
		case abstract.InsertKind, abstract.UpdateKind:
			err = s.upsert(ctx, event)
		case abstract.DeleteKind:
			err = s.delete(ctx, event)
		default:
			continue
		}
		if err != nil {
			return ferrors.CategorizedErrorf(categories.Sink, "unable to apply %s to %s: %w", event.Kind, event.Entity, err)
		}
	}
	return nil
}

func (s *sink) upsert(ctx context.Context, event abstract.ChangeEvent) error {
	cols := sqlutil.SortedCols(event.After)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("%q", col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = event.After[col]
	}
	query := fmt.Sprintf(`INSERT INTO %q.%q (%s) VALUES (%s)`,
		event.Entity.Schema, event.Entity.Table,
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if len(event.KeyCols) > 0 {
		keyQuoted := make([]string, len(event.KeyCols))
		for i, col := range event.KeyCols {
			keyQuoted[i] = fmt.Sprintf("%q", col)
		}
		updates := make([]string, 0, len(cols))
		for _, col := range cols {
			updates = append(updates, fmt.Sprintf("%q = EXCLUDED.%q", col, col))
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(keyQuoted, ", "), strings.Join(updates, ", "))
	}
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *sink) delete(ctx context.Context, event abstract.ChangeEvent) error {
	key := event.KeyValues()
	if len(key) == 0 {
		return nil
	}
	where, args := keyPredicate(key)
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %q.%q WHERE %s`, event.Entity.Schema, event.Entity.Table, where), args...)
	return err
}

// Close is a no-op, the provider owns the pool.
func (s *sink) Close() error {
	return nil
}

type rowStore struct {
	pool *pgxpool.Pool
}

func (s *rowStore) Get(ctx context.Context, entity abstract.Entity, key map[string]any) (map[string]any, bool, error) {
	where, args := keyPredicate(key)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %q.%q WHERE %s LIMIT 1`, entity.Schema, entity.Table, where), args...)
	if err != nil {
		return nil, false, ferrors.CategorizedErrorf(categories.Lookup, "unable to look up row in %s: %w", entity, err)
	}
	defer rows.Close()
	maps, err := rowsToMaps(rows)
	if err != nil {
		return nil, false, err
	}
	if len(maps) == 0 {
		return nil, false, nil
	}
	return maps[0], true, nil
}

func (s *rowStore) Close() error {
	return nil
}

func keyPredicate(key map[string]any) (string, []any) {
	cols := sqlutil.SortedCols(key)
	preds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		preds[i] = fmt.Sprintf("%q = $%d", col, i+1)
		args[i] = key[col]
	}
	return strings.Join(preds, " AND "), args
}
