package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	goredis "github.com/redis/go-redis/v9"
)

// sink writes row events as plain SET/DEL, which are naturally idempotent.
// Native redis rows ({key, value}) keep their key; rows arriving from other
// stores are stored under `<schema>.<table>:<key values>` with the row
// serialized to json, and the row store parses that back for checks.
type sink struct {
	client *goredis.Client
}

func (s *sink) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	pipe := s.client.Pipeline()
	for _, event := range batch {
		switch event.Kind {
		case abstract.InsertKind, abstract.UpdateKind:
			key, value, err := encodeRow(event.Entity, event.KeyValues(), event.After)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, value, 0)
		case abstract.DeleteKind:
			key := deriveKey(event.Entity, event.KeyValues())
			pipe.Del(ctx, key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return ferrors.CategorizedErrorf(categories.Sink, "unable to apply batch: %w", err)
	}
	return nil
}

// Close is a no-op, the provider owns the client.
func (s *sink) Close() error {
	return nil
}

type rowStore struct {
	client *goredis.Client
}

func (s *rowStore) Get(ctx context.Context, entity abstract.Entity, key map[string]any) (map[string]any, bool, error) {
	value, err := s.client.Get(ctx, deriveKey(entity, key)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ferrors.CategorizedErrorf(categories.Lookup, "unable to look up key: %w", err)
	}
	return decodeRow(key, value), true, nil
}

func (s *rowStore) Close() error {
	return nil
}

func encodeRow(entity abstract.Entity, key, row map[string]any) (string, string, error) {
	if isNativeRow(row) {
		return fmt.Sprint(row["key"]), fmt.Sprint(row["value"]), nil
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return "", "", ferrors.CategorizedErrorf(categories.Sink, "unable to serialize row for %s: %w", entity, err)
	}
	return deriveKey(entity, key), string(raw), nil
}

func decodeRow(key map[string]any, value string) map[string]any {
	if len(key) == 1 {
		if k, ok := key["key"]; ok {
			return map[string]any{"key": fmt.Sprint(k), "value": value}
		}
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(value), &row); err == nil {
		return row
	}
	return map[string]any{"value": value}
}

func isNativeRow(row map[string]any) bool {
	if len(row) != 2 {
		return false
	}
	_, hasKey := row["key"]
	_, hasValue := row["value"]
	return hasKey && hasValue
}

// deriveKey renders the storage key of a foreign row deterministically: key
// columns sorted by name, values joined in that order.
func deriveKey(entity abstract.Entity, key map[string]any) string {
	if len(key) == 1 {
		if k, ok := key["key"]; ok {
			return fmt.Sprint(k)
		}
	}
	cols := make([]string, 0, len(key))
	for col := range key {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	values := make([]string, len(cols))
	for i, col := range cols {
		values[i] = fmt.Sprint(key[col])
	}
	return entity.Fqtn() + ":" + strings.Join(values, ":")
}
