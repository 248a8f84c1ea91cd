package sample

import (
	"context"
	"fmt"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
)

type snapshotSource struct {
	store *Store
}

func (s *snapshotSource) Entities(ctx context.Context) ([]abstract.Entity, error) {
	return s.store.EntityList(), nil
}

func (s *snapshotSource) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	col, ok := s.store.orderColOf(entity)
	return col, ok, nil
}

func (s *snapshotSource) Scan(ctx context.Context, entity abstract.Entity, resume *abstract.ResumeValue, batchSize int, push abstract.PushFunc) error {
	orderCol, hasKey := s.store.orderColOf(entity)
	var after *string
	if resume != nil {
		if !hasKey || resume.OrderCol != orderCol {
			return ferrors.CategorizedErrorf(categories.Extract,
				"resume watermark of %s is bound to column %q but the current order column is %q", entity, resume.OrderCol, orderCol)
		}
		after = &resume.Value
	}
	rows := s.store.sortedRows(entity, after)
	for _, row := range rows {
		var pos abstract.Position = abstract.NonePosition{}
		var keyCols []string
		if hasKey {
			keyCols = []string{orderCol}
			pos = abstract.SnapshotPosition{
				DBType:   entity.DBType,
				Schema:   entity.Schema,
				Table:    entity.Table,
				OrderCol: orderCol,
				Value:    fmt.Sprint(row[orderCol]),
			}
		}
		if err := push(ctx, abstract.InsertEvent(entity, row, keyCols, pos)); err != nil {
			return err
		}
	}
	return push(ctx, abstract.EntityDoneEvent(entity))
}

func (s *snapshotSource) EstimateRows(ctx context.Context, entity abstract.Entity) (uint64, error) {
	return uint64(s.store.RowCount(entity)), nil
}

func (s *snapshotSource) Close() {}

// changeSource replays the store's scripted feed. Stream ends when the feed
// closes or ctx is canceled; the from position is ignored, scripted feeds
// start where the script starts.
type changeSource struct {
	store *Store
}

func (s *changeSource) Stream(ctx context.Context, from *abstract.CdcPosition, push abstract.PushFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.store.Feed():
			if !ok {
				return nil
			}
			if err := push(ctx, event); err != nil {
				return err
			}
		}
	}
}

func (s *changeSource) Close() {}
