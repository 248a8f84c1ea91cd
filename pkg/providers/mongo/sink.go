package mongo

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// sink applies row events as upserting ReplaceOne and DeleteOne, both keyed
// by _id and both safe under checkpoint replay.
type sink struct {
	db *mongo.Database
}

func (s *sink) Sink(ctx context.Context, batch []abstract.ChangeEvent) error {
	for _, event := range batch {
		coll := s.db.Collection(event.Entity.Table)
		var err error
		switch event.Kind {
		case abstract.InsertKind, abstract.UpdateKind:
			id := idOf(event.After, event.KeyValues())
			_, err = coll.ReplaceOne(ctx,
				bson.D{{Key: orderCol, Value: id}},
				bson.M(event.After),
				options.Replace().SetUpsert(true))
		case abstract.DeleteKind:
			id := idOf(event.Before, event.KeyValues())
			_, err = coll.DeleteOne(ctx, bson.D{{Key: orderCol, Value: id}})
		default:
			continue
		}
		if err != nil {
			return ferrors.CategorizedErrorf(categories.Sink, "unable to apply %s to %s: %w", event.Kind, event.Entity, err)
		}
	}
	return nil
}

// Close is a no-op, the provider owns the client.
func (s *sink) Close() error {
	return nil
}

type rowStore struct {
	db *mongo.Database
}

func (s *rowStore) Get(ctx context.Context, entity abstract.Entity, key map[string]any) (map[string]any, bool, error) {
	id := idOf(key, key)
	var doc bson.M
	err := s.db.Collection(entity.Table).FindOne(ctx, bson.D{{Key: orderCol, Value: normalizeLookupID(id)}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ferrors.CategorizedErrorf(categories.Lookup, "unable to look up document in %s: %w", entity, err)
	}
	return map[string]any(doc), true, nil
}

func (s *rowStore) Close() error {
	return nil
}

func idOf(row, key map[string]any) any {
	if row != nil {
		if id, ok := row[orderCol]; ok {
			return id
		}
	}
	if key != nil {
		if id, ok := key[orderCol]; ok {
			return id
		}
	}
	return nil
}

// normalizeLookupID resolves ids replayed from check logs, where ObjectIDs
// and numbers degraded to strings during JSON round-trips.
func normalizeLookupID(id any) any {
	if raw, ok := id.(string); ok {
		return decodeID(raw)
	}
	if n, ok := id.(float64); ok && n == float64(int64(n)) {
		// json numbers decode as float64, integer _ids do not
		return int64(n)
	}
	return id
}
