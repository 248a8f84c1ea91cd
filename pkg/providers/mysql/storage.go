package mysql

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
	db       *sql.DB
	database string
}

func (s *storage) Entities(ctx context.Context) ([]abstract.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`,
		s.database)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to list tables of %s: %w", s.database, err)
	}
	defer rows.Close()
	var entities []abstract.Entity
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, xerrors.Errorf("unable to scan table name: %w", err)
		}
		entities = append(entities, abstract.NewEntity(abstract.DBTypeMySQL, s.database, name))
	}
	return entities, rows.Err()
}

// OrderColumn resolves the scan key from information_schema: a single-column
// PRIMARY key first, then any single-column unique index. ok=false means the
// table has no usable key and is copied without position records.
func (s *storage) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT INDEX_NAME, COLUMN_NAME
		 FROM information_schema.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND NON_UNIQUE = 0
		 ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
		entity.Schema, entity.Table)
	if err != nil {
		return "", false, ferrors.CategorizedErrorf(categories.Extract, "unable to read keys of %s: %w", entity, err)
	}
	defer rows.Close()
	indexCols := map[string][]string{}
	var indexOrder []string
	for rows.Next() {
		var index, col string
		if err := rows.Scan(&index, &col); err != nil {
			return "", false, xerrors.Errorf("unable to scan key row: %w", err)
		}
		if _, ok := indexCols[index]; !ok {
			indexOrder = append(indexOrder, index)
		}
		indexCols[index] = append(indexCols[index], col)
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	if cols, ok := indexCols["PRIMARY"]; ok && len(cols) == 1 {
		return cols[0], true, nil
	}
	for _, index := range indexOrder {
		if index == "PRIMARY" {
			continue
		}
		if cols := indexCols[index]; len(cols) == 1 {
			return cols[0], true, nil
		}
	}
	return "", false, nil
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
	var rows *sql.Rows
	var err error
	if after == nil {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM `%s`.`%s` ORDER BY `%s` LIMIT ?", entity.Schema, entity.Table, orderCol),
			batchSize)
	} else {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM `%s`.`%s` WHERE `%s` > ? ORDER BY `%s` LIMIT ?", entity.Schema, entity.Table, orderCol, orderCol),
			after, batchSize)
	}
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity, err)
	}
	defer rows.Close()
	return sqlutil.RowsToMaps(rows)
}

func (s *storage) scanWhole(ctx context.Context, entity abstract.Entity, push abstract.PushFunc) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`.`%s`", entity.Schema, entity.Table))
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity, err)
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
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT TABLE_ROWS FROM information_schema.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		entity.Schema, entity.Table).Scan(&count)
	if err != nil {
		return 0, xerrors.Errorf("unable to estimate rows of %s: %w", entity, err)
	}
	if !count.Valid {
		return 0, nil
	}
	return uint64(count.Int64), nil
}

// Close is a no-op, the provider owns the pool.
func (s *storage) Close() {}
