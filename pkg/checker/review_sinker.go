package checker

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/stats"
	"go.ytsaurus.tech/library/go/core/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// reviewLookupParallelism bounds concurrent point lookups per worker batch.
// Lookups hit both live stores at once; unbounded fan-out would turn a review
// pass into a stampede against production databases.
const reviewLookupParallelism = 4

// ReviewSinker re-validates previously recorded findings against the current
// state of both stores. Every record gets fresh point lookups on the source
// and the target; nothing is assumed stale or assumed still broken.
//
// Lookup failures classify the record as Error and keep the pass going, per
// the review contract: a finding that cannot be re-checked is reported, never
// dropped.
type ReviewSinker struct {
	lgr    log.Logger
	source abstract.RowStore
	target abstract.RowStore
	writer *LogWriter
	stats  *stats.CheckStats

	ownsStores bool
}

func NewReviewSinker(lgr log.Logger, source, target abstract.RowStore, writer *LogWriter, st *stats.CheckStats, ownsStores bool) *ReviewSinker {
	return &ReviewSinker{
		lgr:    lgr,
		source: source,
		target: target,
		writer: writer,
		stats:  st,

		ownsStores: ownsStores,
	}
}

func (s *ReviewSinker) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	sem := semaphore.NewWeighted(reviewLookupParallelism)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, event := range batch {
		if event.Kind != abstract.CheckRecordKind || event.Check == nil {
			continue
		}
		record := *event.Check
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return err
		}
		group.Go(func() error {
			defer sem.Release(1)
			reviewed := s.reviewOne(groupCtx, record)
			return s.writer.Append(reviewed)
		})
	}
	return group.Wait()
}

func (s *ReviewSinker) reviewOne(ctx context.Context, record abstract.CheckRecord) abstract.CheckRecord {
	reviewed := record
	reviewed.Source = nil
	reviewed.Target = nil
	reviewed.Error = ""

	sourceRow, sourceFound, err := s.source.Get(ctx, record.Entity(), record.Key)
	if err != nil {
		return s.errored(reviewed, "source lookup failed: "+err.Error())
	}
	targetRow, targetFound, err := s.target.Get(ctx, record.Entity(), record.Key)
	if err != nil {
		return s.errored(reviewed, "target lookup failed: "+err.Error())
	}

	switch {
	case !sourceFound:
		reviewed.Type = abstract.CheckSourceMissing
		if targetFound {
			reviewed.Target = NormalizeRow(targetRow)
		}
		s.stats.SourceMissing.Inc()
	case targetFound && RowsEqual(NormalizeRow(sourceRow), targetRow):
		reviewed.Type = abstract.CheckResolved
		s.stats.Resolved.Inc()
	default:
		reviewed.Type = abstract.CheckConfirmed
		reviewed.Source = NormalizeRow(sourceRow)
		if targetFound {
			reviewed.Target = NormalizeRow(targetRow)
		}
		s.stats.Confirmed.Inc()
	}
	return reviewed
}

func (s *ReviewSinker) errored(record abstract.CheckRecord, msg string) abstract.CheckRecord {
	s.stats.Errors.Inc()
	s.lgr.Warn("review lookup failed",
		log.String("entity", record.Entity().String()), log.String("error", msg))
	record.Type = abstract.CheckError
	record.Error = msg
	return record
}

func (s *ReviewSinker) Close() error {
	if !s.ownsStores {
		return nil
	}
	sourceErr := s.source.Close()
	targetErr := s.target.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return targetErr
}
