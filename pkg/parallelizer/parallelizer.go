package parallelizer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/stats"
	"github.com/doublecloud/ferry/pkg/util"
	"go.ytsaurus.tech/library/go/core/log"
	"golang.org/x/sync/errgroup"
)

// DefaultSinkRetries bounds per-batch retry attempts before the run fails.
const DefaultSinkRetries = 3

// Parallelizer fans one round of events out to parallel_size workers and
// returns only after every event of the round is acknowledged. Each worker
// owns its Sinker exclusively, so sink implementations see no cross-worker
// interleaving on their connections.
//
// Routing is deterministic per parallel_type:
//
//	serial:   one worker, strict global order
//	entity:   hash of the entity identity, per-entity order
//	key:      hash of entity plus key values, per-row order
//	snapshot: contiguous chunks round-robin, insert-only streams
//
// Rounds are dispatched one at a time by the pipeline, so per-entity order
// holds across rounds for every type except snapshot, which trades it away
// knowingly.
type Parallelizer struct {
	lgr log.Logger

	typ     config.ParallelType
	sinkers []abstract.Sinker
	stats   *stats.SinkerStats

	maxRetries uint64
}

type SinkerFactory func(worker int) (abstract.Sinker, error)

func New(lgr log.Logger, cfg config.Parallelizer, factory SinkerFactory, st *stats.SinkerStats) (*Parallelizer, error) {
	size := cfg.ParallelSize
	if cfg.ParallelType == config.ParallelSerial {
		size = 1
	}
	sinkers := make([]abstract.Sinker, 0, size)
	for i := 0; i < size; i++ {
		sinker, err := factory(i)
		if err != nil {
			for _, opened := range sinkers {
				_ = opened.Close()
			}
			return nil, ferrors.CategorizedErrorf(categories.Sink, "unable to construct sinker for worker %d: %w", i, err)
		}
		sinkers = append(sinkers, sinker)
	}
	return &Parallelizer{
		lgr: lgr,

		typ:     cfg.ParallelType,
		sinkers: sinkers,
		stats:   st,

		maxRetries: DefaultSinkRetries,
	}, nil
}

func (p *Parallelizer) Size() int {
	return len(p.sinkers)
}

// RunRound applies one round of row events. An error means retries were
// exhausted on some worker batch; the round's unacknowledged events must be
// treated as not applied and the run stopped.
func (p *Parallelizer) RunRound(ctx context.Context, events []abstract.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	partitions := p.partition(events)
	group, groupCtx := errgroup.WithContext(ctx)
	for worker, batch := range partitions {
		if len(batch) == 0 {
			continue
		}
		worker, batch := worker, batch
		group.Go(func() error {
			return p.sinkWithRetries(groupCtx, worker, batch)
		})
	}
	return group.Wait()
}

func (p *Parallelizer) sinkWithRetries(ctx context.Context, worker int, batch []abstract.ChangeEvent) error {
	attempt := 0
	operation := func() error {
		if attempt > 0 {
			p.stats.Retries.Inc()
		}
		attempt++
		startedAt := time.Now()
		if err := p.sinkers[worker].Sink(ctx, batch); err != nil {
			p.stats.Errors.Inc()
			return err
		}
		p.stats.Batches.Inc()
		p.stats.Rows.Add(int64(len(batch)))
		p.stats.Elapsed.RecordDuration(time.Since(startedAt))
		return nil
	}
	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(util.NewExponentialBackOff(), p.maxRetries), ctx),
		util.BackoffLogger(p.lgr, "sink batch"),
	)
	if err != nil {
		return ferrors.CategorizedErrorf(categories.Sink,
			"worker %d failed batch of %d events after %d attempts: %w", worker, len(batch), attempt, err)
	}
	return nil
}

func (p *Parallelizer) partition(events []abstract.ChangeEvent) [][]abstract.ChangeEvent {
	size := len(p.sinkers)
	partitions := make([][]abstract.ChangeEvent, size)
	if size == 1 {
		partitions[0] = events
		return partitions
	}
	switch p.typ {
	case config.ParallelSnapshot:
		// contiguous chunks keep batch-local order inside each worker
		chunk := (len(events) + size - 1) / size
		for i := 0; i < size; i++ {
			lo := i * chunk
			if lo >= len(events) {
				break
			}
			hi := lo + chunk
			if hi > len(events) {
				hi = len(events)
			}
			partitions[i] = events[lo:hi]
		}
	case config.ParallelKey:
		for _, event := range events {
			id := event.KeyID()
			if id == "" {
				id = event.Entity.ID()
			}
			worker := int(xxhash.Sum64String(id) % uint64(size))
			partitions[worker] = append(partitions[worker], event)
		}
	default: // entity
		for _, event := range events {
			worker := int(xxhash.Sum64String(event.Entity.ID()) % uint64(size))
			partitions[worker] = append(partitions[worker], event)
		}
	}
	return partitions
}

func (p *Parallelizer) Close() {
	for worker, sinker := range p.sinkers {
		if err := sinker.Close(); err != nil {
			p.lgr.Warn("unable to close sinker", log.Int("worker", worker), log.Error(err))
		}
	}
}
