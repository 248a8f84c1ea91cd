package sample

import (
	"context"
	"testing"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	provider, err := NewProvider(logger.Log, config.Endpoint{URL: "store_" + t.Name()})
	require.NoError(t, err)
	return provider
}

func TestScanRejectsForeignResumeColumn(t *testing.T) {
	provider := newTestProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeSample, "demo", "t_0")
	provider.Store().CreateEntity(entity, "id")
	provider.Store().Put(entity, map[string]any{"id": 1, "f_0": "a"})

	storage, err := provider.Storage()
	require.NoError(t, err)

	// a watermark journaled under a different key column must not seat the scan
	err = storage.Scan(context.Background(), entity, &abstract.ResumeValue{OrderCol: "f_0", Value: "a"}, 10,
		func(ctx context.Context, event abstract.ChangeEvent) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "order column")
}

func TestScanRejectsResumeOnKeylessEntity(t *testing.T) {
	provider := newTestProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeSample, "demo", "keyless")
	provider.Store().Put(entity, map[string]any{"a": 1})

	storage, err := provider.Storage()
	require.NoError(t, err)
	err = storage.Scan(context.Background(), entity, &abstract.ResumeValue{OrderCol: "a", Value: "0"}, 10,
		func(ctx context.Context, event abstract.ChangeEvent) error { return nil })
	require.Error(t, err)
}

func TestStreamPropagatesPushErrors(t *testing.T) {
	provider := newTestProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeSample, "demo", "t_0")
	provider.Store().EmitChange(abstract.InsertEvent(entity, map[string]any{"id": 1}, []string{"id"}, abstract.NonePosition{}))

	source, err := provider.Source()
	require.NoError(t, err)
	defer source.Close()

	pushErr := xerrors.New("buffer rejected the event")
	err = source.Stream(context.Background(), nil, func(ctx context.Context, event abstract.ChangeEvent) error {
		return pushErr
	})
	require.ErrorIs(t, err, pushErr)
}

func TestStreamEndsCleanlyWhenFeedCloses(t *testing.T) {
	provider := newTestProvider(t)
	entity := abstract.NewEntity(abstract.DBTypeSample, "demo", "t_0")
	provider.Store().EmitChange(abstract.InsertEvent(entity, map[string]any{"id": 1}, []string{"id"}, abstract.NonePosition{}))
	provider.Store().CloseFeed()

	source, err := provider.Source()
	require.NoError(t, err)
	defer source.Close()

	seen := 0
	err = source.Stream(context.Background(), nil, func(ctx context.Context, event abstract.ChangeEvent) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, seen)
}
