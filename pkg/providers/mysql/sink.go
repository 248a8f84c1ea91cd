package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/providers/sqlutil"
)

// sink applies row events with INSERT ... ON DUPLICATE KEY UPDATE, the
// idempotent upsert form: checkpoint replays land on the same keys.
type sink struct {
	db *sql.DB
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
	updates := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("`%s`", col)
		updates[i] = fmt.Sprintf("`%s` = VALUES(`%s`)", col, col)
		args[i] = event.After[col]
	}
	query := fmt.Sprintf("INSERT INTO `%s`.`%s` (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		event.Entity.Schema, event.Entity.Table,
		strings.Join(quoted, ", "), sqlutil.Placeholders(len(cols)), strings.Join(updates, ", "))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *sink) delete(ctx context.Context, event abstract.ChangeEvent) error {
	key := event.KeyValues()
	if len(key) == 0 {
		return nil
	}
	where, args := keyPredicate(key)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE %s", event.Entity.Schema, event.Entity.Table, where), args...)
	return err
}

// Close is a no-op, the provider owns the pool.
func (s *sink) Close() error {
	return nil
}

type rowStore struct {
	db *sql.DB
}

func (s *rowStore) Get(ctx context.Context, entity abstract.Entity, key map[string]any) (map[string]any, bool, error) {
	where, args := keyPredicate(key)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM `%s`.`%s` WHERE %s LIMIT 1", entity.Schema, entity.Table, where), args...)
	if err != nil {
		return nil, false, ferrors.CategorizedErrorf(categories.Lookup, "unable to look up row in %s: %w", entity, err)
	}
	defer rows.Close()
	maps, err := sqlutil.RowsToMaps(rows)
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
		preds[i] = fmt.Sprintf("`%s` = ?", col)
		args[i] = key[col]
	}
	return strings.Join(preds, " AND "), args
}
