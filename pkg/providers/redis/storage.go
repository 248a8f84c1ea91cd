package redis

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	goredis "github.com/redis/go-redis/v9"
)

type storage struct {
	client *goredis.Client
	entity abstract.Entity
}

func (s *storage) Entities(ctx context.Context) ([]abstract.Entity, error) {
	return []abstract.Entity{s.entity}, nil
}

// OrderColumn is always absent: SCAN gives no resumable order over keys.
func (s *storage) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	return "", false, nil
}

func (s *storage) Scan(ctx context.Context, entity abstract.Entity, resume *abstract.ResumeValue, batchSize int, push abstract.PushFunc) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "*", int64(batchSize)).Result()
		if err != nil {
			return ferrors.CategorizedErrorf(categories.Extract, "unable to scan keyspace: %w", err)
		}
		for _, key := range keys {
			value, err := s.client.Get(ctx, key).Result()
			if err == goredis.Nil {
				// expired between SCAN and GET
				continue
			}
			if err != nil {
				return ferrors.CategorizedErrorf(categories.Extract, "unable to read key %s: %w", key, err)
			}
			row := map[string]any{"key": key, "value": value}
			if err := push(ctx, abstract.InsertEvent(entity, row, []string{"key"}, abstract.NonePosition{})); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return push(ctx, abstract.EntityDoneEvent(entity))
		}
	}
}

func (s *storage) EstimateRows(ctx context.Context, entity abstract.Entity) (uint64, error) {
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return 0, ferrors.CategorizedErrorf(categories.Extract, "unable to read keyspace size: %w", err)
	}
	return uint64(size), nil
}

// Close is a no-op, the provider owns the client.
func (s *storage) Close() {}
