package tasks

import (
	"context"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/google/uuid"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
)

// replicationRestartDelay spaces out stream reopen attempts after transient
// breaks. Fatal errors never reach the delay, they stop the run outright.
const replicationRestartDelay = 5 * time.Second

// RunReplication tails the extractor's change stream into the sinker until ctx
// ends. Transient stream breaks reopen from the last checkpointed position;
// only fatal errors stop the run.
func RunReplication(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task) error {
	lgr = log.With(lgr, log.String("run_id", uuid.NewString()), log.String("mode", "replication"))

	sourceProvider, err := providers.Resolve[providers.Replication](lgr, registry, task.Extractor)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sourceProvider)
	sinkProvider, err := providers.Resolve[providers.Sinker](lgr, registry, task.Sinker)
	if err != nil {
		return err
	}
	defer closeProvider(lgr, sinkProvider)

	for {
		err := replicateOnce(ctx, lgr, registry, task, sourceProvider, sinkProvider)
		if ctx.Err() != nil {
			lgr.Info("replication stopped")
			return nil
		}
		if err == nil {
			// change streams do not end on their own, treat a clean return as done
			lgr.Info("change stream ended")
			return nil
		}
		if abstract.IsFatal(err) {
			return err
		}
		lgr.Error("replication interrupted, reopening stream", log.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(replicationRestartDelay):
		}
	}
}

// replicateOnce runs one stream attempt. Resume state is re-read per attempt:
// the previous attempt's checkpoints are already in the journal and must seat
// the reopened stream.
func replicateOnce(ctx context.Context, lgr log.Logger, registry metrics.Registry, task *config.Task, sourceProvider providers.Replication, sinkProvider providers.Sinker) error {
	decisions, err := buildDecisions(lgr, task, nil)
	if err != nil {
		return err
	}
	from := decisions.Checkpoint()
	if from != nil {
		lgr.Info("resuming change stream", log.String("coordinate", from.Coordinate))
	} else {
		lgr.Info("starting change stream from the current position")
	}

	source, err := sourceProvider.Source()
	if err != nil {
		return err
	}
	defer source.Close()

	jw, err := newJournalWriter(lgr, task)
	if err != nil {
		return err
	}
	par, err := newWriteParallelizer(lgr, registry, task, sinkProvider)
	if err != nil {
		_ = jw.Close()
		return err
	}
	pl := newPipeline(lgr, registry, task, par, jw, nil)

	runErr := pl.Run(ctx, func(ctx context.Context, push abstract.PushFunc) error {
		return source.Stream(ctx, from, push)
	})
	par.Close()
	if err := jw.Close(); runErr == nil {
		runErr = err
	}
	return runErr
}
