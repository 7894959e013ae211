// Package redistore backs the store contract with Redis. Each document is a
// hash, each collection keeps an insertion-order list of its ids, and a
// pub/sub channel per collection carries change invalidations that trigger
// full snapshot re-reads on the subscriber side.
package redistore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/store"
)

// Store implements store.Client on top of a Redis instance.
//
// Keys used:
//   - <prefix>:doc:<coll>:<id>  hash of field -> encoded value
//   - <prefix>:ids:<coll>       list of ids in insertion order
//   - <prefix>:ch:<coll>        pub/sub channel for change invalidations
type Store struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, prefix string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = "groupsync"
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping Redis: %w", err)
	}
	return &Store{client: client, prefix: prefix, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) docKey(coll, id string) string { return fmt.Sprintf("%s:doc:%s:%s", s.prefix, coll, id) }
func (s *Store) idsKey(coll string) string     { return fmt.Sprintf("%s:ids:%s", s.prefix, coll) }
func (s *Store) channel(coll string) string    { return fmt.Sprintf("%s:ch:%s", s.prefix, coll) }

// GetDocument point-reads one document.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (store.Document, bool, error) {
	raw, err := s.client.HGetAll(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return store.Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if len(raw) == 0 {
		return store.Document{}, false, nil
	}
	return decodeDoc(id, raw), true, nil
}

// PutMerge writes only the provided fields into the document's hash. The id
// is registered before the hash write: if the write then fails, the tracked
// id has no hash yet and readAll skips it, so an error can never leave a
// point-readable document missing from snapshots.
func (s *Store) PutMerge(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := s.track(ctx, collection, id); err != nil {
		return err
	}
	enc := make(map[string]any, len(fields))
	for k, v := range fields {
		enc[k] = encodeValue(v)
	}
	if err := s.client.HSet(ctx, s.docKey(collection, id), enc).Err(); err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return s.publish(ctx, collection)
}

// AppendDocument inserts a new document under a generated id.
func (s *Store) AppendDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.PutMerge(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// IncrementField uses HIncrBy so concurrent increments from any number of
// clients compose without coordination.
func (s *Store) IncrementField(ctx context.Context, collection, id, field string, delta int64) error {
	if err := s.track(ctx, collection, id); err != nil {
		return err
	}
	if err := s.client.HIncrBy(ctx, s.docKey(collection, id), field, delta).Err(); err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	return s.publish(ctx, collection)
}

// SubscribeCollection delivers the current snapshot, then re-reads and
// re-emits whenever an invalidation arrives on the collection's channel.
func (s *Store) SubscribeCollection(collection string, fn store.CollectionFunc) (store.CancelFunc, error) {
	return s.subscribe(collection, func(ctx context.Context) {
		docs, err := s.readAll(ctx, collection)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("snapshot read failed", zap.String("collection", collection), zap.Error(err))
			}
			return
		}
		fn(docs)
	})
}

// SubscribeDocument delivers doc-or-absent for one id on every invalidation
// of its collection.
func (s *Store) SubscribeDocument(collection, id string, fn store.DocumentFunc) (store.CancelFunc, error) {
	return s.subscribe(collection, func(ctx context.Context) {
		doc, ok, err := s.GetDocument(ctx, collection, id)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("document read failed",
					zap.String("collection", collection), zap.String("id", id), zap.Error(err))
			}
			return
		}
		fn(doc, ok)
	})
}

func (s *Store) subscribe(collection string, emit func(ctx context.Context)) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, s.channel(collection))

	go func() {
		emit(ctx)
		for range pubsub.Channel() {
			if ctx.Err() != nil {
				return
			}
			emit(ctx)
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// trackScript checks and appends in one server-side step. Scripts run
// atomically, so two clients racing on the first-ever write to an id cannot
// both append it; a plain LPos-then-RPush sequence from the client would.
var trackScript = redis.NewScript(`
if redis.call("LPOS", KEYS[1], ARGV[1]) then return 0 end
redis.call("RPUSH", KEYS[1], ARGV[1])
return 1
`)

// track records the id in the collection's insertion-order list exactly once.
func (s *Store) track(ctx context.Context, collection, id string) error {
	if err := trackScript.Run(ctx, s.client, []string{s.idsKey(collection)}, id).Err(); err != nil {
		return fmt.Errorf("track %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, collection string) error {
	return s.client.Publish(ctx, s.channel(collection), "changed").Err()
}

func (s *Store) readAll(ctx context.Context, collection string) ([]store.Document, error) {
	ids, err := s.client.LRange(ctx, s.idsKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.HGetAll(ctx, s.docKey(collection, id)).Result()
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		docs = append(docs, decodeDoc(id, raw))
	}
	return docs, nil
}

// encodeValue maps a field value onto the string representation Redis hashes
// hold. Sequences are JSON-encoded; everything else prints naturally, which
// keeps integer fields compatible with HIncrBy.
func encodeValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(t)
	case []string, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// decodeDoc reverses encodeValue where it can: JSON arrays come back as
// []any, everything else stays a string and is interpreted lazily by the
// Document accessors.
func decodeDoc(id string, raw map[string]string) store.Document {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if len(v) > 0 && v[0] == '[' {
			var arr []any
			if err := json.Unmarshal([]byte(v), &arr); err == nil {
				fields[k] = arr
				continue
			}
		}
		fields[k] = v
	}
	return store.Document{ID: id, Fields: fields}
}
