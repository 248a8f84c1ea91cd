package checker

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/stats"
	"go.ytsaurus.tech/library/go/core/log"
)

// CheckSinker is the sinker of a check pass: instead of writing source rows to
// the target it point-reads the target for each one and logs Diff and Miss
// findings. Workers share one LogWriter and one target RowStore; the row
// store must be safe for concurrent point reads.
type CheckSinker struct {
	lgr    log.Logger
	target abstract.RowStore
	writer *LogWriter
	stats  *stats.CheckStats

	ownsTarget bool
}

func NewCheckSinker(lgr log.Logger, target abstract.RowStore, writer *LogWriter, st *stats.CheckStats, ownsTarget bool) *CheckSinker {
	return &CheckSinker{
		lgr:    lgr,
		target: target,
		writer: writer,
		stats:  st,

		ownsTarget: ownsTarget,
	}
}

func (s *CheckSinker) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	for _, event := range batch {
		if !event.IsRowEvent() {
			continue
		}
		key := event.KeyValues()
		if key == nil {
			// no usable key, no point lookup to make
			s.lgr.Debug("skipping keyless row in check pass",
				log.String("entity", event.Entity.String()))
			continue
		}
		if err := s.checkOne(ctx, event, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *CheckSinker) checkOne(ctx context.Context, event abstract.ChangeEvent, key map[string]any) error {
	s.stats.Compared.Inc()
	source := NormalizeRow(event.After)
	targetRow, found, err := s.target.Get(ctx, event.Entity, key)
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Lookup,
			"unable to look up %s in target: %w", event.Entity, err)
	}
	record := abstract.CheckRecord{
		Type:   abstract.CheckMiss,
		DBType: event.Entity.DBType,
		Schema: event.Entity.Schema,
		Table:  event.Entity.Table,
		Key:    NormalizeRow(key),
		Source: source,
		Target: nil,
		Error:  "",
	}
	switch {
	case !found:
		s.stats.Miss.Inc()
	case RowsEqual(source, targetRow):
		return nil
	default:
		record.Type = abstract.CheckDiff
		record.Target = NormalizeRow(targetRow)
		s.stats.Diff.Inc()
	}
	return s.writer.Append(record)
}

func (s *CheckSinker) Close() error {
	if s.ownsTarget {
		return s.target.Close()
	}
	return nil
}
