package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoDoc struct {
	ID      string            `bson:"_id"`
	Version int64             `bson:"version"`
	Body    string            `bson:"body"`
	Idx     map[string]string `bson:"idx,omitempty"`
}

// MongoStore maps each collection onto a MongoDB collection of
// {_id, version, body, idx} documents. Index values live under idx so a
// single compound-free index per field serves QueryByIndex.
type MongoStore struct {
	db     *mongo.Database
	schema Schema
}

func NewMongoStore(db *mongo.Database, schema Schema) *MongoStore {
	return &MongoStore{db: db, schema: schema}
}

// EnsureIndexes creates one index per schema field.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for collection, fields := range s.schema {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			models = append(models, mongo.IndexModel{
				Keys:    bson.D{{Key: "idx." + field, Value: 1}},
				Options: options.Index().SetName("idx_" + field),
			})
		}
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var d mongoDoc
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return d.document(), nil
}

func (s *MongoStore) Put(ctx context.Context, collection, id string, body any) (int64, error) {
	data, idx, err := s.prepare(collection, body)
	if err != nil {
		return 0, err
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{
		"$set": bson.M{"body": string(data), "idx": idx},
		"$inc": bson.M{"version": int64(1)},
	}

	var d mongoDoc
	err = s.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&d)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced on a new id; the loser retries as a plain update.
		err = s.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&d)
	}
	if err != nil {
		return 0, fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return d.Version, nil
}

func (s *MongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) (int64, error) {
	return updateWithRetry(ctx, s, collection, id, fields)
}

func (s *MongoStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, body any) (int64, error) {
	data, idx, err := s.prepare(collection, body)
	if err != nil {
		return 0, err
	}
	coll := s.db.Collection(collection)

	if expectedVersion == 0 {
		_, err := coll.InsertOne(ctx, mongoDoc{ID: id, Version: 1, Body: string(data), Idx: idx})
		if mongo.IsDuplicateKeyError(err) {
			return 0, conflict(collection)
		}
		if err != nil {
			return 0, fmt.Errorf("create %s/%s: %w", collection, id, err)
		}
		return 1, nil
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	filter := bson.M{"_id": id, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{"body": string(data), "idx": idx},
		"$inc": bson.M{"version": int64(1)},
	}

	var d mongoDoc
	err = coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, conflict(collection)
	}
	if err != nil {
		return 0, fmt.Errorf("swap %s/%s: %w", collection, id, err)
	}
	return d.Version, nil
}

func (s *MongoStore) QueryByIndex(ctx context.Context, collection, index, value string) ([]*Document, error) {
	if err := s.schema.checkQuery(collection, index); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{"idx." + index: value}, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, index, err)
	}

	var docs []mongoDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, index, err)
	}

	out := make([]*Document, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].document())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) prepare(collection string, body any) ([]byte, map[string]string, error) {
	data, err := encode(body)
	if err != nil {
		return nil, nil, err
	}
	idx, err := s.schema.indexes(collection, data)
	if err != nil {
		return nil, nil, err
	}
	return data, idx, nil
}

func (d *mongoDoc) document() *Document {
	return &Document{ID: d.ID, Version: d.Version, Body: []byte(d.Body)}
}
