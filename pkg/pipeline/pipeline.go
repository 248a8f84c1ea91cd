package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/filter"
	"github.com/doublecloud/ferry/pkg/journal"
	"github.com/doublecloud/ferry/pkg/parallelizer"
	"github.com/doublecloud/ferry/pkg/stats"
	"go.ytsaurus.tech/library/go/core/log"
	"golang.org/x/sync/errgroup"
)

// State of one pipeline run. Transitions only move forward.
type State string

const (
	StateStarting  State = "starting"
	StateResuming  State = "resuming"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateStopped   State = "stopped"
)

// Producer feeds events into the run until its source is exhausted or ctx
// ends. The four modes (copy, cdc, check, review) differ only in the producer
// and sinker they plug in here.
type Producer func(ctx context.Context, push abstract.PushFunc) error

// Pipeline pulls events from producers through a bounded buffer, dispatches
// rounds to the parallelizer and records progress out of band.
//
// The buffer is the backpressure boundary: producers block on push when
// sinking falls behind. Watermarks advance strictly after the parallelizer
// acknowledges a round, and the journal writer flushes them on its own
// interval, so a crash can replay at most one interval of acknowledged work
// and can never skip unacknowledged work.
//
// Commit and entity-done events act as barriers: the round accumulated before
// them is dispatched and acknowledged first, then the checkpoint or finished
// record is written.
type Pipeline struct {
	lgr log.Logger

	buffer    chan abstract.ChangeEvent
	batchSize int

	checkpointInterval time.Duration
	batchSinkInterval  time.Duration

	sink    *parallelizer.Parallelizer
	journal *journal.Writer
	router  *filter.Router

	// incremental entities only keep watermarks, never finished marks: the
	// next regular-snapshot cycle must resume past them, not skip them.
	incremental map[abstract.Entity]bool

	stats *stats.PipelineStats

	mu    sync.Mutex
	state State

	sinkedSinceTick int64
}

type Options struct {
	BufferSize             int
	BatchSize              int
	CheckpointIntervalSecs int
	BatchSinkIntervalSecs  int

	// Journal is nil for check and review runs, they are not checkpointed.
	Journal *journal.Writer
	Router  *filter.Router

	Incremental map[abstract.Entity]bool
}

func New(lgr log.Logger, opts Options, sink *parallelizer.Parallelizer, st *stats.PipelineStats) *Pipeline {
	batchSinkInterval := time.Duration(opts.BatchSinkIntervalSecs) * time.Second
	if batchSinkInterval <= 0 {
		batchSinkInterval = time.Second
	}
	return &Pipeline{
		lgr: lgr,

		buffer:    make(chan abstract.ChangeEvent, opts.BufferSize),
		batchSize: opts.BatchSize,

		checkpointInterval: time.Duration(opts.CheckpointIntervalSecs) * time.Second,
		batchSinkInterval:  batchSinkInterval,

		sink:    sink,
		journal: opts.Journal,
		router:  opts.Router,

		incremental: opts.Incremental,

		stats: st,

		mu:    sync.Mutex{},
		state: StateStarting,

		sinkedSinceTick: 0,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.lgr.Info("pipeline state changed", log.String("state", string(state)))
}

// Run drives one pass: producers stream into the buffer, the loop below
// drains it. Returns after a graceful drain (source exhausted or ctx
// canceled) or on the first fatal error.
func (p *Pipeline) Run(ctx context.Context, producers ...Producer) error {
	p.setState(StateResuming)

	produceCtx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()

	group, groupCtx := errgroup.WithContext(produceCtx)
	for _, producer := range producers {
		producer := producer
		group.Go(func() error {
			return producer(groupCtx, p.push)
		})
	}
	producersDone := make(chan error, 1)
	go func() {
		err := group.Wait()
		close(p.buffer)
		producersDone <- err
	}()

	p.setState(StateStreaming)
	loopErr := p.loop(ctx)

	// producers observe the canceled context and unblock from pushes
	stopProducers()
	producerErr := <-producersDone

	flushErr := p.finalFlush()
	p.setState(StateStopped)

	if loopErr != nil {
		return loopErr
	}
	if producerErr != nil && ctx.Err() == nil {
		return ferrors.CategorizedErrorf(categories.Extract, "producer failed: %w", producerErr)
	}
	return flushErr
}

func (p *Pipeline) push(ctx context.Context, event abstract.ChangeEvent) error {
	select {
	case p.buffer <- event:
		p.stats.Extracted.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) loop(ctx context.Context) error {
	flushTicker := time.NewTicker(p.checkpointInterval)
	defer flushTicker.Stop()
	batchTicker := time.NewTicker(p.batchSinkInterval)
	defer batchTicker.Stop()

	round := make([]abstract.ChangeEvent, 0, p.batchSize)
	lastMonitorAt := time.Now()

	dispatch := func() error {
		if err := p.dispatchRound(ctx, round); err != nil {
			return err
		}
		round = round[:0]
		return nil
	}

	for {
		p.stats.BufferLen.Set(float64(len(p.buffer)))
		select {
		case event, ok := <-p.buffer:
			if !ok {
				p.setState(StateDraining)
				return dispatch()
			}
			switch event.Kind {
			case abstract.CommitKind:
				if err := dispatch(); err != nil {
					return err
				}
				if err := p.recordCheckpoint(event); err != nil {
					return err
				}
			case abstract.EntityDoneKind:
				if err := dispatch(); err != nil {
					return err
				}
				if err := p.recordEntityDone(event.Entity); err != nil {
					return err
				}
			default:
				round = append(round, event)
				if len(round) >= p.batchSize {
					if err := dispatch(); err != nil {
						return err
					}
				}
			}
		case <-batchTicker.C:
			if err := dispatch(); err != nil {
				return err
			}
		case <-flushTicker.C:
			if err := dispatch(); err != nil {
				return err
			}
			if err := p.flushJournal(); err != nil {
				return err
			}
			p.logMonitor(&lastMonitorAt)
		case <-ctx.Done():
			// in-flight work completes, nothing new starts
			p.setState(StateDraining)
			return dispatch()
		}
	}
}

// dispatchRound pushes one round through the parallelizer and, once every
// event is acknowledged, advances the in-memory watermarks the journal will
// flush next. Watermarks never move for unacknowledged events, which is the
// whole checkpoint-safety argument.
func (p *Pipeline) dispatchRound(ctx context.Context, round []abstract.ChangeEvent) error {
	if len(round) == 0 {
		return nil
	}
	startedAt := time.Now()
	routed := round
	if p.router != nil {
		routed = make([]abstract.ChangeEvent, len(round))
		for i, event := range round {
			routed[i] = p.router.RouteEvent(event)
		}
	}
	// rounds must complete even while draining after ctx cancellation
	if err := p.sink.RunRound(context.WithoutCancel(ctx), routed); err != nil {
		return abstract.NewFatalError(err)
	}
	p.stats.Sinked.Add(int64(len(round)))
	p.stats.RoundBatch.RecordDuration(time.Since(startedAt))
	p.sinkedSinceTick += int64(len(round))

	if p.journal == nil {
		return nil
	}
	for _, event := range round {
		if pos, ok := event.Position.(abstract.SnapshotPosition); ok {
			if err := p.journal.RecordCurrentPosition(pos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) recordCheckpoint(event abstract.ChangeEvent) error {
	pos, ok := event.Position.(abstract.CdcPosition)
	if !ok {
		return nil
	}
	if p.journal == nil {
		return nil
	}
	return p.journal.RecordCheckpointPosition(pos)
}

func (p *Pipeline) recordEntityDone(entity abstract.Entity) error {
	p.stats.Finished.Inc()
	if p.journal == nil {
		return nil
	}
	if p.incremental[entity] {
		// watermark only: the entity must stay resumable for the next cycle
		p.lgr.Info("incremental entity cycle complete",
			log.String("schema", entity.Schema), log.String("table", entity.Table))
		return p.journal.Flush()
	}
	p.lgr.Info("entity finished",
		log.String("schema", entity.Schema), log.String("table", entity.Table))
	return p.journal.RecordFinished(abstract.FinishedPosition{
		DBType: entity.DBType,
		Schema: entity.Schema,
		Table:  entity.Table,
	})
}

func (p *Pipeline) flushJournal() error {
	if p.journal == nil {
		return nil
	}
	p.stats.Flushes.Inc()
	return p.journal.Flush()
}

func (p *Pipeline) finalFlush() error {
	if p.journal == nil {
		return nil
	}
	if err := p.journal.Flush(); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) logMonitor(lastAt *time.Time) {
	elapsed := time.Since(*lastAt).Seconds()
	if elapsed <= 0 {
		return
	}
	p.lgr.Infof("pipeline monitor, sinked: %d, avg tps: %.1f, buffered: %d",
		p.sinkedSinceTick, float64(p.sinkedSinceTick)/elapsed, len(p.buffer))
	p.sinkedSinceTick = 0
	*lastAt = time.Now()
}
