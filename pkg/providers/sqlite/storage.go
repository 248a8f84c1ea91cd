package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/providers/sqlutil"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

type storage struct {
	db     *sql.DB
	schema string
}

func (s *storage) Entities(ctx context.Context) ([]abstract.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to list tables: %w", err)
	}
	defer rows.Close()
	var entities []abstract.Entity
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, xerrors.Errorf("unable to scan table name: %w", err)
		}
		entities = append(entities, abstract.NewEntity(abstract.DBTypeSQLite, s.schema, name))
	}
	return entities, rows.Err()
}

// OrderColumn picks the single-column primary key, or failing that a
// single-column unique index. Multi-column keys yield ok=false: such tables
// are copied whole and only ever get finished marks.
func (s *storage) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	pkCols, err := s.primaryKeyCols(ctx, entity.Table)
	if err != nil {
		return "", false, err
	}
	if len(pkCols) == 1 {
		return pkCols[0], true, nil
	}
	if len(pkCols) > 1 {
		return "", false, nil
	}
	col, ok, err := s.singleUniqueIndexCol(ctx, entity.Table)
	if err != nil {
		return "", false, err
	}
	return col, ok, nil
}

func (s *storage) primaryKeyCols(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to read table info of %s: %w", table, err)
	}
	defer rows.Close()
	var pkCols []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, xerrors.Errorf("unable to scan table info: %w", err)
		}
		if pk > 0 {
			pkCols = append(pkCols, name)
		}
	}
	return pkCols, rows.Err()
}

func (s *storage) singleUniqueIndexCol(ctx context.Context, table string) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%q)`, table))
	if err != nil {
		return "", false, ferrors.CategorizedErrorf(categories.Extract, "unable to read index list of %s: %w", table, err)
	}
	var uniqueIndexes []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return "", false, xerrors.Errorf("unable to scan index list: %w", err)
		}
		if unique == 1 && partial == 0 {
			uniqueIndexes = append(uniqueIndexes, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	for _, index := range uniqueIndexes {
		cols, err := s.indexCols(ctx, index)
		if err != nil {
			return "", false, err
		}
		if len(cols) == 1 {
			return cols[0], true, nil
		}
	}
	return "", false, nil
}

func (s *storage) indexCols(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%q)`, index))
	if err != nil {
		return nil, xerrors.Errorf("unable to read index info of %s: %w", index, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, xerrors.Errorf("unable to scan index info: %w", err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

// Scan pages through the table in keyset order. Tables without an order
// column are read in one unordered pass with no position records, finishing
// is their only durable progress.
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
		batch, err := s.fetchPage(ctx, entity.Table, orderCol, lastValue, batchSize)
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

func (s *storage) fetchPage(ctx context.Context, table, orderCol string, after any, batchSize int) ([]map[string]any, error) {
	var rows *sql.Rows
	var err error
	if after == nil {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT * FROM %q ORDER BY %q LIMIT ?`, table, orderCol), batchSize)
	} else {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT * FROM %q WHERE %q > ? ORDER BY %q LIMIT ?`, table, orderCol, orderCol), after, batchSize)
	}
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", table, err)
	}
	defer rows.Close()
	return sqlutil.RowsToMaps(rows)
}

func (s *storage) scanWhole(ctx context.Context, entity abstract.Entity, push abstract.PushFunc) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, entity.Table))
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity.Table, err)
	}
	defer rows.Close()
	maps, err := sqlutil.RowsToMaps(rows)
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
	var count uint64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, entity.Table)).Scan(&count)
	if err != nil {
		return 0, xerrors.Errorf("unable to count %s: %w", entity.Table, err)
	}
	return count, nil
}

// Close is a no-op, the provider owns the handle.
func (s *storage) Close() {}
