package tasks

import (
	"context"
	"sync/atomic"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/filter"
	"github.com/doublecloud/ferry/pkg/pipeline"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/doublecloud/ferry/pkg/resumer"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
)

// RunSnapshot copies the filtered entity set from the extractor to the sinker
// once, honoring resume decisions from the journal and the resume-config file.
func RunSnapshot(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	lgr = log.With(lgr, log.String("run_id", uuid.NewString()), log.String("mode", "snapshot"))

	sourceProvider, err := providers.Resolve[providers.Snapshot](lgr, registry, task.Extractor)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sourceProvider)
	sinkProvider, err := providers.Resolve[providers.Sinker](lgr, registry, task.Sinker)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sinkProvider)

	storage, err := sourceProvider.Storage()
	if err != nil {
		return err
	}
	defer storage.Close()

	all, err := storage.Entities(ctx)
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Extract, "unable to list entities: %w", err)
	}
	entities := filter.New(task.Filter).Apply(all)
	lgr.Info("snapshot entity set resolved",
		log.Int("discovered", len(all)), log.Int("scheduled", len(entities)))

	incremental, incrementalCfg := incrementalEntities(task, sourceProvider.Type())
	decisions, err := buildDecisions(lgr, task, entities)
	if err != nil {
		return err
	}

	preflightRowCounts(ctx, lgr, storage, entities)

	jw, err := newJournalWriter(lgr, task)
	if err != nil {
		return err
	}
	par, err := newWriteParallelizer(lgr, registry, task, sinkProvider)
	if err != nil {
		_ = jw.Close()
		return err
	}
	pl := newPipeline(lgr, registry, task, par, jw, incremental)

	producer := snapshotProducer(lgr, storage, entities, decisions, incrementalCfg, task.Extractor.BatchSize)
	runErr := pl.Run(ctx, producer)
	par.Close()
	if err := jw.Close(); runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	lgr.Info("snapshot complete", log.Int("entities", len(entities)))
	return nil
}

// snapshotProducer scans scheduled entities one by one. Skipped entities make
// zero extraction calls; incremental entities with no journal watermark start
// from their configured initial state.
func snapshotProducer(lgr log.Logger, storage abstract.SnapshotSource, entities []abstract.Entity, decisions *resumer.Decisions, incrementalCfg map[abstract.Entity]config.IncrementalEntity, batchSize int) pipeline.Producer {
	return func(ctx context.Context, push abstract.PushFunc) error {
		for _, entity := range entities {
			decision := decisions.For(entity)
			if decision.Kind == resumer.Skip {
				lgr.Info("entity already finished, skipping",
					log.String("schema", entity.Schema), log.String("table", entity.Table))
				continue
			}
			resume := decision.ResumeValue()
			if resume == nil {
				if inc, ok := incrementalCfg[entity]; ok && inc.InitialState != "" {
					resume = &abstract.ResumeValue{OrderCol: inc.OrderCol, Value: inc.InitialState}
				}
			}
			if err := storage.Scan(ctx, entity, resume, batchSize, push); err != nil {
				return ferrors.CategorizedErrorf(categories.Extract,
					"unable to scan %s: %w", entity, err)
			}
		}
		return nil
	}
}

// RunRegularSnapshot runs snapshot cycles on the configured cron schedule,
// starting with an immediate cycle. Without a cron_expression it degrades to a
// single RunSnapshot. A tick that fires while the previous cycle still runs is
// skipped, overlapping cycles would race on the journal.
func RunRegularSnapshot(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	expr := task.RegularSnapshot.CronExpression
	if expr == "" {
		return RunSnapshot(ctx, lgr, registry, task)
	}

	if err := RunSnapshot(ctx, lgr, registry, task); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var running atomic.Bool
	errCh := make(chan error, 1)
	scheduler := cron.New()
	_, err := scheduler.AddFunc(expr, func() {
		if !running.CompareAndSwap(false, true) {
			lgr.Warn("previous snapshot cycle still running, skipping this tick")
			return
		}
		defer running.Store(false)
		lgr.Info("regular snapshot cycle starting", log.String("cron", expr))
		if err := RunSnapshot(runCtx, lgr, registry, task); err != nil {
			select {
			case errCh <- err:
			default:
			}
			cancel()
		}
	})
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Config, "unable to parse cron_expression %q: %w", expr, err)
	}

	scheduler.Start()
	<-runCtx.Done()
	<-scheduler.Stop().Done()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func closeProvider(lgr log.Logger, provider providers.Provider) {
	if err := provider.Close(); err != nil {
		lgr.Warn("unable to close provider",
			log.String("db_type", string(provider.Type())), log.Error(err))
	}
}
