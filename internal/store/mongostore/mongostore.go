// Package mongostore backs the store contract with MongoDB. Change streams
// drive the push subscriptions: every stream event triggers a full re-read
// of the watched collection, which keeps the snapshot model simple and makes
// out-of-order delivery harmless.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/store"
)

// watchRetryDelay is how long a subscription loop waits before re-opening a
// failed change stream.
const watchRetryDelay = time.Second

// Store implements store.Client against a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// New connects to MongoDB, verifies the connection with a ping, and returns
// a Store bound to the named database.
func New(ctx context.Context, uri, database string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	return &Store{client: client, db: client.Database(database), log: log}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the engine's queries rely on: snapshot
// reads sort messages by send time, and statistics rows are looked up by id.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("globalChat").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sentAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create globalChat index: %w", err)
	}
	return nil
}

// GetDocument point-reads one document by its application-level id.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (store.Document, bool, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return toDocument(raw), true, nil
}

// PutMerge upserts only the provided fields via $set, never replacing the
// whole document, so concurrent writers editing sibling fields are safe.
func (s *Store) PutMerge(ctx context.Context, collection, id string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return nil
}

// AppendDocument inserts a new document and returns the server-assigned id.
func (s *Store) AppendDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	res, err := s.db.Collection(collection).InsertOne(ctx, bson.M(fields))
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", collection, err)
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// IncrementField issues an atomic $inc, upserting the document at zero when
// it does not exist yet.
func (s *Store) IncrementField(ctx context.Context, collection, id, field string, delta int64) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{field: delta}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	return nil
}

// SubscribeCollection reads and delivers the current snapshot, then keeps a
// change stream open; every event triggers a fresh full read and re-emit.
func (s *Store) SubscribeCollection(collection string, fn store.CollectionFunc) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	emit := func() {
		docs, err := s.readAll(ctx, collection)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("snapshot read failed", zap.String("collection", collection), zap.Error(err))
			}
			return
		}
		fn(docs)
	}

	go s.watchLoop(ctx, collection, emit)
	return store.CancelFunc(cancel), nil
}

// SubscribeDocument is SubscribeCollection narrowed to one document: the
// collection is watched, but only the addressed document is re-read.
func (s *Store) SubscribeDocument(collection, id string, fn store.DocumentFunc) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	emit := func() {
		doc, ok, err := s.GetDocument(ctx, collection, id)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("document read failed",
					zap.String("collection", collection), zap.String("id", id), zap.Error(err))
			}
			return
		}
		fn(doc, ok)
	}

	go s.watchLoop(ctx, collection, emit)
	return store.CancelFunc(cancel), nil
}

// watchLoop emits once, then re-emits on every change stream event. A broken
// stream is reopened after a short delay; duplicates across the reopen are
// fine because delivery is at-least-once by contract.
func (s *Store) watchLoop(ctx context.Context, collection string, emit func()) {
	emit()

	for ctx.Err() == nil {
		cs, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("change stream open failed", zap.String("collection", collection), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchRetryDelay):
			}
			continue
		}

		for cs.Next(ctx) {
			emit()
		}
		_ = cs.Close(context.Background())

		if ctx.Err() == nil {
			// Stream ended without cancellation; emit once so a change that
			// raced the teardown is not lost, then reopen.
			emit()
		}
	}
}

// readAll returns the whole collection sorted by _id ascending, which for
// appended documents approximates insertion order.
func (s *Store) readAll(ctx context.Context, collection string) ([]store.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

// toDocument converts a decoded BSON map into the backend-neutral shape,
// normalizing driver types to Go natives.
func toDocument(raw bson.M) store.Document {
	doc := store.Document{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			switch id := v.(type) {
			case bson.ObjectID:
				doc.ID = id.Hex()
			case string:
				doc.ID = id
			default:
				doc.ID = fmt.Sprint(id)
			}
			continue
		}
		doc.Fields[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.DateTime:
		return t.Time()
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}
