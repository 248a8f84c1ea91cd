package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/journal"
	"github.com/doublecloud/ferry/pkg/parallelizer"
	"github.com/doublecloud/ferry/pkg/stats"
	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/library/go/core/metrics/solomon"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

type memorySinker struct {
	mu     sync.Mutex
	events []abstract.ChangeEvent

	stall chan struct{}
	fail  bool
}

func (s *memorySinker) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	if s.stall != nil {
		<-s.stall
	}
	if s.fail {
		return xerrors.New("sink refused the batch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *memorySinker) Close() error { return nil }

func (s *memorySinker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testEntity(table string) abstract.Entity {
	return abstract.NewEntity(abstract.DBTypeSample, "test_db", table)
}

func rowWithPosition(entity abstract.Entity, id int) abstract.ChangeEvent {
	return abstract.InsertEvent(entity, map[string]any{"id": id}, []string{"id"}, abstract.SnapshotPosition{
		DBType:   entity.DBType,
		Schema:   entity.Schema,
		Table:    entity.Table,
		OrderCol: "id",
		Value:    strconv.Itoa(id),
	})
}

func newTestRig(t *testing.T, sinker *memorySinker, opts Options) (*Pipeline, *journal.Writer, string) {
	t.Helper()
	registry := solomon.NewRegistry(solomon.NewRegistryOpts())
	dir := t.TempDir()

	var jw *journal.Writer
	if opts.Journal == nil {
		var err error
		jw, err = journal.NewWriter(logger.Log, dir, time.Hour)
		require.NoError(t, err)
		opts.Journal = jw
	}
	par, err := parallelizer.New(logger.Log, config.Parallelizer{ParallelType: config.ParallelSerial, ParallelSize: 1}, func(worker int) (abstract.Sinker, error) {
		return sinker, nil
	}, stats.NewSinkerStats(registry))
	require.NoError(t, err)

	if opts.BufferSize == 0 {
		opts.BufferSize = 64
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 16
	}
	if opts.CheckpointIntervalSecs == 0 {
		opts.CheckpointIntervalSecs = 3600
	}
	if opts.BatchSinkIntervalSecs == 0 {
		opts.BatchSinkIntervalSecs = 3600
	}
	return New(logger.Log, opts, par, stats.NewPipelineStats(registry)), jw, dir
}

func TestRunDrainsProducerAndRecordsFinished(t *testing.T) {
	sinker := &memorySinker{}
	entity := testEntity("t1")
	pl, jw, dir := newTestRig(t, sinker, Options{})

	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; i <= 40; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
		}
		return push(ctx, abstract.EntityDoneEvent(entity))
	}
	require.NoError(t, pl.Run(context.Background(), producer))
	require.NoError(t, jw.Close())
	require.Equal(t, StateStopped, pl.State())
	require.Equal(t, 40, sinker.count())

	finished, err := journal.ReadFile(logger.Log, filepath.Join(dir, journal.FinishedLogName))
	require.NoError(t, err)
	require.True(t, finished.Finished.Contains(entity))

	positions, err := journal.ReadFile(logger.Log, filepath.Join(dir, journal.PositionLogName))
	require.NoError(t, err)
	require.Equal(t, "40", positions.Positions[entity].Value)
}

func TestWatermarkNeverPassesUnacknowledgedWork(t *testing.T) {
	sinker := &memorySinker{fail: true}
	entity := testEntity("t1")
	pl, jw, dir := newTestRig(t, sinker, Options{BatchSize: 4})

	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; i <= 20; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
		}
		return push(ctx, abstract.EntityDoneEvent(entity))
	}
	err := pl.Run(context.Background(), producer)
	require.Error(t, err)
	require.True(t, abstract.IsFatal(err))
	_ = jw.Close()

	positions, readErr := journal.ReadFile(logger.Log, filepath.Join(dir, journal.PositionLogName))
	require.NoError(t, readErr)
	require.Empty(t, positions.Positions)

	finished, readErr := journal.ReadFile(logger.Log, filepath.Join(dir, journal.FinishedLogName))
	require.NoError(t, readErr)
	require.False(t, finished.Finished.Contains(entity))
}

func TestCommitBarrierRecordsCheckpoint(t *testing.T) {
	sinker := &memorySinker{}
	entity := testEntity("t1")
	pl, jw, dir := newTestRig(t, sinker, Options{})

	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; i <= 5; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
		}
		return push(ctx, abstract.CommitEvent(abstract.CdcPosition{
			DBType:     abstract.DBTypeSample,
			Coordinate: "tx:5",
		}))
	}
	require.NoError(t, pl.Run(context.Background(), producer))
	require.NoError(t, jw.Close())
	// rows before the barrier are acknowledged before the checkpoint lands
	require.Equal(t, 5, sinker.count())

	contents, err := journal.ReadFile(logger.Log, filepath.Join(dir, journal.PositionLogName))
	require.NoError(t, err)
	require.NotNil(t, contents.Checkpoint)
	require.Equal(t, "tx:5", contents.Checkpoint.Coordinate)
}

func TestIncrementalEntityKeepsWatermarkWithoutFinishedMark(t *testing.T) {
	sinker := &memorySinker{}
	entity := testEntity("inc")
	pl, jw, dir := newTestRig(t, sinker, Options{
		Incremental: map[abstract.Entity]bool{entity: true},
	})

	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; i <= 10; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
		}
		return push(ctx, abstract.EntityDoneEvent(entity))
	}
	require.NoError(t, pl.Run(context.Background(), producer))
	require.NoError(t, jw.Close())

	finished, err := journal.ReadFile(logger.Log, filepath.Join(dir, journal.FinishedLogName))
	require.NoError(t, err)
	require.False(t, finished.Finished.Contains(entity))

	positions, err := journal.ReadFile(logger.Log, filepath.Join(dir, journal.PositionLogName))
	require.NoError(t, err)
	require.Equal(t, "10", positions.Positions[entity].Value)
}

func TestBackpressureBlocksProducerAtBufferCapacity(t *testing.T) {
	stall := make(chan struct{})
	sinker := &memorySinker{stall: stall}
	entity := testEntity("t1")
	pl, jw, _ := newTestRig(t, sinker, Options{BufferSize: 8, BatchSize: 4})

	pushed := make(chan int, 1024)
	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; i <= 200; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
			pushed <- i
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- pl.Run(context.Background(), producer) }()

	// with the sink stalled the producer cannot get far past buffer+batch
	time.Sleep(300 * time.Millisecond)
	blockedAt := len(pushed)
	require.Less(t, blockedAt, 20)

	close(stall)
	require.NoError(t, <-done)
	require.NoError(t, jw.Close())
	require.Equal(t, 200, sinker.count())
}

func TestCancelDrainsInFlightRounds(t *testing.T) {
	sinker := &memorySinker{}
	entity := testEntity("t1")
	pl, jw, _ := newTestRig(t, sinker, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	producer := func(ctx context.Context, push abstract.PushFunc) error {
		for i := 1; ; i++ {
			if err := push(ctx, rowWithPosition(entity, i)); err != nil {
				return err
			}
			if i == 50 {
				cancel()
			}
		}
	}
	require.NoError(t, pl.Run(ctx, producer))
	require.NoError(t, jw.Close())
	require.Equal(t, StateStopped, pl.State())
}
