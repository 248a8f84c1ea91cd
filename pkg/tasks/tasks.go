package tasks

import (
	"context"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/filter"
	"github.com/doublecloud/ferry/pkg/journal"
	"github.com/doublecloud/ferry/pkg/parallelizer"
	"github.com/doublecloud/ferry/pkg/pipeline"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/doublecloud/ferry/pkg/resumer"
	"github.com/doublecloud/ferry/pkg/stats"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// preflightParallelism bounds concurrent row-count probes before a snapshot.
const preflightParallelism = 4

func newJournalWriter(lgr log.Logger, task *config.Task) (*journal.Writer, error) {
	interval := time.Duration(task.Pipeline.CheckpointIntervalSecs) * time.Second
	return journal.NewWriter(lgr, task.Resumer.ResumeLogDir, interval)
}

func buildDecisions(lgr log.Logger, task *config.Task, entities []abstract.Entity) (*resumer.Decisions, error) {
	r := resumer.New(lgr,
		task.Resumer.ResumeFromLog,
		task.Resumer.ResumeLogDir,
		task.Resumer.ResumeConfigFile)
	return r.Build(entities)
}

// incrementalEntities maps the configured incremental set onto discovered
// entities; the bool set feeds the pipeline (no finished marks), the decision
// overrides seed first-cycle watermarks from initial_state.
func incrementalEntities(task *config.Task, dbType abstract.DBType) (map[abstract.Entity]bool, map[abstract.Entity]config.IncrementalEntity) {
	set := map[abstract.Entity]bool{}
	byEntity := map[abstract.Entity]config.IncrementalEntity{}
	for _, inc := range task.RegularSnapshot.Incremental {
		entity := abstract.NewEntity(dbType, inc.Schema, inc.Table)
		set[entity] = true
		byEntity[entity] = inc
	}
	return set, byEntity
}

func newWriteParallelizer(lgr log.Logger, registry metrics.Registry, task *config.Task, sinkProvider providers.Sinker) (*parallelizer.Parallelizer, error) {
	return parallelizer.New(lgr, task.Parallelizer, func(worker int) (abstract.Sinker, error) {
		return sinkProvider.Sink()
	}, stats.NewSinkerStats(registry))
}

func newPipeline(lgr log.Logger, registry metrics.Registry, task *config.Task, par *parallelizer.Parallelizer, jw *journal.Writer, incremental map[abstract.Entity]bool) *pipeline.Pipeline {
	return pipeline.New(lgr, pipeline.Options{
		BufferSize:             task.Pipeline.BufferSize,
		BatchSize:              task.Sinker.BatchSize,
		CheckpointIntervalSecs: task.Pipeline.CheckpointIntervalSecs,
		BatchSinkIntervalSecs:  task.Pipeline.BatchSinkIntervalSecs,

		Journal: jw,
		Router:  filter.NewRouter(task.Router),

		Incremental: incremental,
	}, par, stats.NewPipelineStats(registry))
}

// preflightRowCounts logs scan volume estimates before a snapshot. Probe
// failures downgrade to warnings: an estimate is operator convenience, not a
// prerequisite.
func preflightRowCounts(ctx context.Context, lgr log.Logger, storage abstract.SnapshotSource, entities []abstract.Entity) {
	counter, ok := storage.(abstract.RowCounter)
	if !ok {
		return
	}
	sem := semaphore.NewWeighted(preflightParallelism)
	group, groupCtx := errgroup.WithContext(ctx)
	var total int64
	results := make([]uint64, len(entities))
	for i, entity := range entities {
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return
		}
		i, entity := i, entity
		group.Go(func() error {
			defer sem.Release(1)
			count, err := counter.EstimateRows(groupCtx, entity)
			if err != nil {
				lgr.Warn("unable to estimate row count",
					log.String("entity", entity.String()), log.Error(err))
				return nil
			}
			results[i] = count
			return nil
		})
	}
	_ = group.Wait()
	for i, entity := range entities {
		total += int64(results[i])
		lgr.Info("snapshot preflight estimate",
			log.String("entity", entity.String()), log.UInt64("rows", results[i]))
	}
	lgr.Info("snapshot preflight complete",
		log.Int("entities", len(entities)), log.Int64("estimated_rows", total))
}
