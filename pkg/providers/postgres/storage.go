package postgres

import (
	"context"
	"fmt"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

type storage struct {
	pool   *pgxpool.Pool
	schema string
}

func (s *storage) Entities(ctx context.Context) ([]abstract.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
		s.schema)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to list tables of %s: %w", s.schema, err)
	}
	defer rows.Close()
	var entities []abstract.Entity
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, xerrors.Errorf("unable to scan table name: %w", err)
		}
		entities = append(entities, abstract.NewEntity(abstract.DBTypePostgres, s.schema, name))
	}
	return entities, rows.Err()
}

// OrderColumn resolves the scan key from pg_index: a single-column primary
// key wins, then any single-column unique index.
func (s *storage) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.attname, i.indisprimary
		 FROM pg_index i
		 JOIN pg_class c ON c.oid = i.indrelid
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY (i.indkey)
		 WHERE n.nspname = $1 AND c.relname = $2
		   AND (i.indisprimary OR i.indisunique)
		   AND array_length(i.indkey, 1) = 1
		 ORDER BY i.indisprimary DESC`,
		entity.Schema, entity.Table)
	if err != nil {
		return "", false, ferrors.CategorizedErrorf(categories.Extract, "unable to read keys of %s: %w", entity, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		var primary bool
		if err := rows.Scan(&col, &primary); err != nil {
			return "", false, xerrors.Errorf("unable to scan key row: %w", err)
		}
		return col, true, nil
	}
	return "", false, rows.Err()
}

func (s *storage) Scan(ctx context.Context, entity abstract.Entity, resume *abstract.ResumeValue, batchSize int, push abstract.PushFunc) error {
	orderCol, ok, err := s.OrderColumn(ctx, entity)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.scanWhole(ctx, entity, push); err != nil {
			return err
		}
		return push(ctx, abstract.EntityDoneEvent(entity))
	}
	var lastValue any
	if resume != nil {
		if resume.OrderCol != orderCol {
			return ferrors.CategorizedErrorf(categories.Extract,
				"resume watermark of %s is bound to column %q but the current order column is %q", entity, resume.OrderCol, orderCol)
		}
		lastValue = resume.Value
	}
	for {
		batch, err := s.fetchPage(ctx, entity, orderCol, lastValue, batchSize)
		if err != nil {
			return err
		}
		for _, row := range batch {
			lastValue = row[orderCol]
			pos := abstract.SnapshotPosition{
				DBType:   entity.DBType,
				Schema:   entity.Schema,
				Table:    entity.Table,
				OrderCol: orderCol,
				Value:    fmt.Sprint(lastValue),
			}
			if err := push(ctx, abstract.InsertEvent(entity, row, []string{orderCol}, pos)); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return push(ctx, abstract.EntityDoneEvent(entity))
		}
	}
}

func (s *storage) fetchPage(ctx context.Context, entity abstract.Entity, orderCol string, after any, batchSize int) ([]map[string]any, error) {
	var rows pgx.Rows
	var err error
	if after == nil {
		rows, err = s.pool.Query(ctx,
			fmt.Sprintf(`SELECT * FROM %q.%q ORDER BY %q LIMIT $1`, entity.Schema, entity.Table, orderCol),
			batchSize)
	} else {
		rows, err = s.pool.Query(ctx,
			fmt.Sprintf(`SELECT * FROM %q.%q WHERE %q > $1 ORDER BY %q LIMIT $2`, entity.Schema, entity.Table, orderCol, orderCol),
			after, batchSize)
	}
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity, err)
	}
	defer rows.Close()
	return rowsToMaps(rows)
}

func (s *storage) scanWhole(ctx context.Context, entity abstract.Entity, push abstract.PushFunc) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT * FROM %q.%q`, entity.Schema, entity.Table))
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity, err)
	}
	defer rows.Close()
	maps, err := rowsToMaps(rows)
	if err != nil {
		return err
	}
	for _, row := range maps {
		if err := push(ctx, abstract.InsertEvent(entity, row, nil, abstract.NonePosition{})); err != nil {
			return err
		}
	}
	return nil
}

func (s *storage) EstimateRows(ctx context.Context, entity abstract.Entity) (uint64, error) {
	var estimate int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(reltuples::bigint, 0) FROM pg_class c
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = $1 AND c.relname = $2`,
		entity.Schema, entity.Table).Scan(&estimate)
	if err != nil {
		return 0, xerrors.Errorf("unable to estimate rows of %s: %w", entity, err)
	}
	if estimate < 0 {
		return 0, nil
	}
	return uint64(estimate), nil
}

// Close is a no-op, the provider owns the pool.
func (s *storage) Close() {}

func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, xerrors.Errorf("unable to read row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			if raw, ok := values[i].([]byte); ok {
				row[string(field.Name)] = string(raw)
				continue
			}
			row[string(field.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("row iteration failed: %w", err)
	}
	return result, nil
}
