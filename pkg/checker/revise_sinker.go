package checker

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/stats"
	"go.ytsaurus.tech/library/go/core/log"
)

// ReviseSinker applies corrective writes for confirmed findings: it re-fetches
// the current source row per key and upserts it into the target, or deletes
// the target row when the source row is gone. The actual write goes through a
// normal Sinker, so revise inherits its idempotence and its batching.
type ReviseSinker struct {
	lgr    log.Logger
	source abstract.RowStore
	target abstract.Sinker
	stats  *stats.CheckStats

	ownsSource bool
}

func NewReviseSinker(lgr log.Logger, source abstract.RowStore, target abstract.Sinker, st *stats.CheckStats, ownsSource bool) *ReviseSinker {
	return &ReviseSinker{
		lgr:    lgr,
		source: source,
		target: target,
		stats:  st,

		ownsSource: ownsSource,
	}
}

func (s *ReviseSinker) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	writes := make([]abstract.ChangeEvent, 0, len(batch))
	for _, event := range batch {
		if event.Kind != abstract.CheckRecordKind || event.Check == nil {
			continue
		}
		record := *event.Check
		row, found, err := s.source.Get(ctx, record.Entity(), record.Key)
		if err != nil {
			return ferrors.CategorizedErrorf(categories.Lookup,
				"unable to re-fetch %s from source: %w", record.Entity(), err)
		}
		keyCols := record.KeyCols()
		if !found {
			// source row vanished since the review, propagate the delete
			writes = append(writes, abstract.DeleteEvent(record.Entity(), record.Key, keyCols, abstract.NonePosition{}))
		} else {
			writes = append(writes, abstract.InsertEvent(record.Entity(), row, keyCols, abstract.NonePosition{}))
		}
	}
	if len(writes) == 0 {
		return nil
	}
	if err := s.target.Sink(ctx, writes); err != nil {
		return err
	}
	s.stats.Revised.Add(int64(len(writes)))
	s.lgr.Info("revise batch applied", log.Int("rows", len(writes)))
	return nil
}

func (s *ReviseSinker) Close() error {
	targetErr := s.target.Close()
	if s.ownsSource {
		if err := s.source.Close(); err != nil {
			return err
		}
	}
	return targetErr
}
