package parallelizer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/stats"
	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/library/go/core/metrics/solomon"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

type recordingSinker struct {
	mu      sync.Mutex
	batches [][]abstract.ChangeEvent

	failures int
}

func (s *recordingSinker) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return xerrors.New("transient sink failure")
	}
	copied := make([]abstract.ChangeEvent, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *recordingSinker) Close() error { return nil }

func (s *recordingSinker) events() []abstract.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []abstract.ChangeEvent
	for _, batch := range s.batches {
		result = append(result, batch...)
	}
	return result
}

func newTestParallelizer(t *testing.T, typ config.ParallelType, size int) (*Parallelizer, []*recordingSinker) {
	t.Helper()
	var sinkers []*recordingSinker
	par, err := New(logger.Log, config.Parallelizer{ParallelType: typ, ParallelSize: size}, func(worker int) (abstract.Sinker, error) {
		sinker := &recordingSinker{}
		sinkers = append(sinkers, sinker)
		return sinker, nil
	}, stats.NewSinkerStats(solomon.NewRegistry(solomon.NewRegistryOpts())))
	require.NoError(t, err)
	return par, sinkers
}

func rowEvent(table string, id int) abstract.ChangeEvent {
	entity := abstract.NewEntity(abstract.DBTypeSample, "demo", table)
	return abstract.InsertEvent(entity, map[string]any{"id": id}, []string{"id"}, abstract.NonePosition{})
}

func TestSerialForcesSingleWorkerAndKeepsOrder(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelSerial, 8)
	require.Equal(t, 1, par.Size())

	var round []abstract.ChangeEvent
	for i := 0; i < 100; i++ {
		round = append(round, rowEvent(fmt.Sprintf("t_%d", i%7), i))
	}
	require.NoError(t, par.RunRound(context.Background(), round))

	events := sinkers[0].events()
	require.Len(t, events, 100)
	for i, event := range events {
		require.Equal(t, i, event.After["id"])
	}
	par.Close()
}

func TestEntityRoutingIsDeterministicAndOrderPreserving(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelEntity, 4)

	var round []abstract.ChangeEvent
	for i := 0; i < 200; i++ {
		round = append(round, rowEvent(fmt.Sprintf("t_%d", i%5), i))
	}
	require.NoError(t, par.RunRound(context.Background(), round))

	// all events of one entity land on exactly one worker, in input order
	perEntity := map[string][]int{}
	entityWorker := map[string]int{}
	for worker, sinker := range sinkers {
		for _, event := range sinker.events() {
			fqtn := event.Entity.Fqtn()
			if prev, seen := entityWorker[fqtn]; seen {
				require.Equal(t, prev, worker, "entity split across workers")
			}
			entityWorker[fqtn] = worker
			perEntity[fqtn] = append(perEntity[fqtn], event.After["id"].(int))
		}
	}
	for fqtn, ids := range perEntity {
		for i := 1; i < len(ids); i++ {
			require.Greater(t, ids[i], ids[i-1], "order broken for %s", fqtn)
		}
	}
	par.Close()
}

func TestKeyRoutingKeepsSameKeyTogether(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelKey, 4)

	var round []abstract.ChangeEvent
	for i := 0; i < 120; i++ {
		// same table, 6 distinct keys, repeated
		round = append(round, rowEvent("t_0", i%6))
	}
	require.NoError(t, par.RunRound(context.Background(), round))

	keyWorker := map[string]int{}
	total := 0
	for worker, sinker := range sinkers {
		for _, event := range sinker.events() {
			total++
			key := fmt.Sprint(event.After["id"])
			if prev, seen := keyWorker[key]; seen {
				require.Equal(t, prev, worker, "key split across workers")
			}
			keyWorker[key] = worker
		}
	}
	require.Equal(t, 120, total)
	par.Close()
}

func TestSnapshotRoutingChunksContiguously(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelSnapshot, 3)

	var round []abstract.ChangeEvent
	for i := 0; i < 10; i++ {
		round = append(round, rowEvent("t_0", i))
	}
	require.NoError(t, par.RunRound(context.Background(), round))

	// ceil(10/3)=4: chunks of 4, 4, 2
	require.Len(t, sinkers[0].events(), 4)
	require.Len(t, sinkers[1].events(), 4)
	require.Len(t, sinkers[2].events(), 2)
	par.Close()
}

func TestTransientFailuresAreRetried(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelSerial, 1)
	sinkers[0].failures = 2

	require.NoError(t, par.RunRound(context.Background(), []abstract.ChangeEvent{rowEvent("t_0", 1)}))
	require.Len(t, sinkers[0].events(), 1)
	par.Close()
}

func TestRetryExhaustionFailsTheRound(t *testing.T) {
	par, sinkers := newTestParallelizer(t, config.ParallelSerial, 1)
	sinkers[0].failures = int(DefaultSinkRetries) + 1

	err := par.RunRound(context.Background(), []abstract.ChangeEvent{rowEvent("t_0", 1)})
	require.Error(t, err)
	require.Empty(t, sinkers[0].events())
	par.Close()
}

func TestEmptyRoundIsNoop(t *testing.T) {
	par, _ := newTestParallelizer(t, config.ParallelEntity, 4)
	require.NoError(t, par.RunRound(context.Background(), nil))
	par.Close()
}
