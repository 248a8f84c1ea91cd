package tasks

import (
	"context"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/checker"
	"github.com/doublecloud/ferry/pkg/config"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/filter"
	"github.com/doublecloud/ferry/pkg/parallelizer"
	"github.com/doublecloud/ferry/pkg/pipeline"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/doublecloud/ferry/pkg/stats"
	"github.com/google/uuid"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
)

const defaultCheckLogDir = "./check_logs"

// RunCheck scans the extractor's entities and point-reads every row back from
// the sinker endpoint, recording Diff and Miss findings into a check-log
// directory. Check passes are not checkpointed, an interrupted check restarts
// from scratch.
func RunCheck(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	lgr = log.With(lgr, log.String("run_id", uuid.NewString()), log.String("mode", "check"))

	sourceProvider, err := providers.Resolve[providers.Snapshot](lgr, registry, task.Extractor)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sourceProvider)
	targetProvider, err := providers.Resolve[providers.Lookup](lgr, registry, task.Sinker)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, targetProvider)

	storage, err := sourceProvider.Storage()
	if err != nil {
		return err
	}
	defer storage.Close()
	targetRows, err := targetProvider.Rows()
	if err != nil {
		return err
	}
	defer targetRows.Close()

	all, err := storage.Entities(ctx)
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Extract, "unable to list entities: %w", err)
	}
	entities := filter.New(task.Filter).Apply(all)

	outDir := task.Sinker.CheckLogDir
	if outDir == "" {
		outDir = defaultCheckLogDir
	}
	writer, err := checker.NewLogWriter(lgr, outDir)
	if err != nil {
		return err
	}
	checkStats := stats.NewCheckStats(registry)

	par, err := parallelizer.New(lgr, task.Parallelizer, func(worker int) (abstract.Sinker, error) {
		return checker.NewCheckSinker(lgr, targetRows, writer, checkStats, false), nil
	}, stats.NewSinkerStats(registry))
	if err != nil {
		_ = writer.Close()
		return err
	}
	pl := newPipeline(lgr, registry, task, par, nil, nil)

	producer := checkProducer(storage, entities, task.Extractor.BatchSize)
	runErr := pl.Run(ctx, producer)
	par.Close()
	if err := writer.Close(); runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	lgr.Info("check complete", log.Int("entities", len(entities)), log.String("findings_dir", outDir))
	return nil
}

// checkProducer scans every scheduled entity whole; check passes never resume.
func checkProducer(storage abstract.SnapshotSource, entities []abstract.Entity, batchSize int) pipeline.Producer {
	return func(ctx context.Context, push abstract.PushFunc) error {
		for _, entity := range entities {
			if err := storage.Scan(ctx, entity, nil, batchSize, push); err != nil {
				return ferrors.CategorizedErrorf(categories.Extract,
					"unable to scan %s: %w", entity, err)
			}
		}
		return nil
	}
}

// reviewOutputDir keeps each review artifact apart from its input: findings of
// different passes in one directory would be replayed together.
func reviewOutputDir(task *config.Task, now time.Time) string {
	if dir := task.Sinker.CheckLogDir; dir != "" && dir != task.Extractor.CheckLogDir {
		return dir
	}
	in := task.Extractor.CheckLogDir
	if in == "" {
		in = defaultCheckLogDir
	}
	return in + "_review_" + now.Format("20060102_150405")
}
