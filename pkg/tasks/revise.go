package tasks

import (
	"context"

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

// RunRevise replays Confirmed findings from a review artifact and applies
// corrective writes to the sinker: the current source row is re-fetched per
// key and upserted, or deleted when the source row is gone.
func RunRevise(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	lgr = log.With(lgr, log.String("run_id", uuid.NewString()), log.String("mode", "revise"))

	inDir := task.Extractor.CheckLogDir
	if inDir == "" {
		return ferrors.CategorizedErrorf(categories.Config,
			"revise needs extractor.check_log_dir, the reviewed findings to apply")
	}

	sourceProvider, err := providers.Resolve[providers.Lookup](lgr, registry, task.Extractor)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sourceProvider)
	sinkProvider, err := providers.Resolve[providers.Sinker](lgr, registry, task.Sinker)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sinkProvider)

	sourceRows, err := sourceProvider.Rows()
	if err != nil {
		return err
	}
	defer sourceRows.Close()

	checkStats := stats.NewCheckStats(registry)
	par, err := parallelizer.New(lgr, task.Parallelizer, func(worker int) (abstract.Sinker, error) {
		sink, err := sinkProvider.Sink()
		if err != nil {
			return nil, err
		}
		return checker.NewReviseSinker(lgr, sourceRows, sink, checkStats, false), nil
	}, stats.NewSinkerStats(registry))
	if err != nil {
		return err
	}
	pl := newPipeline(lgr, registry, task, par, nil, nil)

	producer := checker.NewLogProducer(lgr, inDir, abstract.CheckConfirmed)
	runErr := pl.Run(ctx, producer)
	par.Close()
	if runErr != nil {
		return runErr
	}
	lgr.Info("revise complete", log.String("input_dir", inDir))
	return nil
}
