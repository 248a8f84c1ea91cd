package mongo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

const orderCol = "_id"

type storage struct {
	db       *mongo.Database
	database string
}

func (s *storage) Entities(ctx context.Context) ([]abstract.Entity, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Extract, "unable to list collections of %s: %w", s.database, err)
	}
	entities := make([]abstract.Entity, 0, len(names))
	for _, name := range names {
		entities = append(entities, abstract.NewEntity(abstract.DBTypeMongo, s.database, name))
	}
	return entities, nil
}

func (s *storage) OrderColumn(ctx context.Context, entity abstract.Entity) (string, bool, error) {
	return orderCol, true, nil
}

func (s *storage) Scan(ctx context.Context, entity abstract.Entity, resume *abstract.ResumeValue, batchSize int, push abstract.PushFunc) error {
	coll := s.db.Collection(entity.Table)
	var lastID any
	if resume != nil {
		if resume.OrderCol != orderCol {
			return ferrors.CategorizedErrorf(categories.Extract,
				"resume watermark of %s is bound to column %q but the current order column is %q", entity, resume.OrderCol, orderCol)
		}
		lastID = decodeID(resume.Value)
	}
	for {
		filter := bson.D{}
		if lastID != nil {
			filter = bson.D{{Key: orderCol, Value: bson.D{{Key: "$gt", Value: lastID}}}}
		}
		cursor, err := coll.Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: orderCol, Value: 1}}).SetLimit(int64(batchSize)))
		if err != nil {
			return ferrors.CategorizedErrorf(categories.Extract, "unable to scan %s: %w", entity, err)
		}
		count := 0
		for cursor.Next(ctx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				cursor.Close(ctx)
				return xerrors.Errorf("unable to decode document: %w", err)
			}
			count++
			lastID = doc[orderCol]
			pos := abstract.SnapshotPosition{
				DBType:   entity.DBType,
				Schema:   entity.Schema,
				Table:    entity.Table,
				OrderCol: orderCol,
				Value:    encodeID(lastID),
			}
			if err := push(ctx, abstract.InsertEvent(entity, map[string]any(doc), []string{orderCol}, pos)); err != nil {
				cursor.Close(ctx)
				return err
			}
		}
		if err := cursor.Err(); err != nil {
			cursor.Close(ctx)
			return ferrors.CategorizedErrorf(categories.Extract, "cursor failed on %s: %w", entity, err)
		}
		cursor.Close(ctx)
		if count < batchSize {
			return push(ctx, abstract.EntityDoneEvent(entity))
		}
	}
}

func (s *storage) EstimateRows(ctx context.Context, entity abstract.Entity) (uint64, error) {
	count, err := s.db.Collection(entity.Table).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, xerrors.Errorf("unable to estimate documents of %s: %w", entity, err)
	}
	return uint64(count), nil
}

// Close is a no-op, the provider owns the client.
func (s *storage) Close() {}

// encodeID renders an _id for position records; ObjectIDs become their hex
// form, everything else its plain textual form.
func encodeID(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}

// decodeID maps a stored position value back to a queryable _id. Hex strings
// of ObjectID length decode to ObjectID, integers to int64; the textual form
// is kept otherwise. Mixed-type _id collections resume correctly only within
// one type, same as the scan order they rely on.
func decodeID(value string) any {
	if oid, err := primitive.ObjectIDFromHex(value); err == nil {
		return oid
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}
