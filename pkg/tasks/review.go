package tasks

import (
	"context"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/checker"
	"github.com/doublecloud/ferry/pkg/config"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/parallelizer"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/doublecloud/ferry/pkg/stats"
	"github.com/google/uuid"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
)

// RunReview replays Diff and Miss findings from the extractor's check-log
// directory, re-validates each against the current state of both stores and
// writes the reclassified records into a fresh directory for a revise pass.
func RunReview(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	lgr = log.With(lgr, log.String("run_id", uuid.NewString()), log.String("mode", "review"))

	inDir := task.Extractor.CheckLogDir
	if inDir == "" {
		return ferrors.CategorizedErrorf(categories.Config,
			"review needs extractor.check_log_dir, the findings to re-validate")
	}

	sourceProvider, err := providers.Resolve[providers.Lookup](lgr, registry, task.Extractor)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sourceProvider)
	targetProvider, err := providers.Resolve[providers.Lookup](lgr, registry, task.Sinker)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, targetProvider)

	sourceRows, err := sourceProvider.Rows()
	if err != nil {
		return err
	}
	defer sourceRows.Close()
	targetRows, err := targetProvider.Rows()
	if err != nil {
		return err
	}
	defer targetRows.Close()

	outDir := reviewOutputDir(task, time.Now())
	writer, err := checker.NewLogWriter(lgr, outDir)
	if err != nil {
		return err
	}
	checkStats := stats.NewCheckStats(registry)

	par, err := parallelizer.New(lgr, task.Parallelizer, func(worker int) (abstract.Sinker, error) {
		return checker.NewReviewSinker(lgr, sourceRows, targetRows, writer, checkStats, false), nil
	}, stats.NewSinkerStats(registry))
	if err != nil {
		_ = writer.Close()
		return err
	}
	pl := newPipeline(lgr, registry, task, par, nil, nil)

	producer := checker.NewLogProducer(lgr, inDir, abstract.CheckDiff, abstract.CheckMiss)
	runErr := pl.Run(ctx, producer)
	par.Close()
	if err := writer.Close(); runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	lgr.Info("review complete",
		log.String("input_dir", inDir), log.String("output_dir", outDir))
	return nil
}
