package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ticket-ledger/utils"
)

const maxPutAttempts = 5

// RedisStore keeps each document in a hash (doc:{collection}:{id}) with body
// and version fields, and each index value in a set of ids
// (idx:{collection}:{index}:{value}). Writes run under WATCH on the document
// key so the version check and the index maintenance commit together.
type RedisStore struct {
	client *redis.Client
	schema Schema
}

func NewRedisStore(client *redis.Client, schema Schema) *RedisStore {
	return &RedisStore{client: client, schema: schema}
}

func docKey(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func indexKey(collection, index, value string) string {
	return fmt.Sprintf("idx:%s:%s:%s", collection, index, value)
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	fields, err := s.client.HGetAll(ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if len(fields) == 0 {
		return nil, notFound(collection, id)
	}
	return decodeHash(id, fields)
}

func (s *RedisStore) Put(ctx context.Context, collection, id string, body any) (int64, error) {
	data, err := encode(body)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		version, err := s.write(ctx, collection, id, data, nil)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return version, err
	}
	return 0, fmt.Errorf("put %s/%s: %w", collection, id, redis.TxFailedErr)
}

func (s *RedisStore) Update(ctx context.Context, collection, id string, fields map[string]any) (int64, error) {
	return updateWithRetry(ctx, s, collection, id, fields)
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, body any) (int64, error) {
	data, err := encode(body)
	if err != nil {
		return 0, err
	}

	version, err := s.write(ctx, collection, id, data, &expectedVersion)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, conflict(collection)
	}
	return version, err
}

func (s *RedisStore) write(ctx context.Context, collection, id string, data []byte, expected *int64) (int64, error) {
	key := docKey(collection, id)
	newIdx, err := s.schema.indexes(collection, data)
	if err != nil {
		return 0, err
	}

	var version int64
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		var currentVersion int64
		oldIdx := map[string]string{}
		if len(current) > 0 {
			doc, err := decodeHash(id, current)
			if err != nil {
				return err
			}
			currentVersion = doc.Version
			if oldIdx, err = s.schema.indexes(collection, doc.Body); err != nil {
				return err
			}
		}

		if expected != nil && *expected != currentVersion {
			return conflict(collection)
		}
		version = currentVersion + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "body", string(data), "version", version)
			for name, old := range oldIdx {
				if newIdx[name] != old {
					pipe.SRem(ctx, indexKey(collection, name, old), id)
				}
			}
			for name, value := range newIdx {
				pipe.SAdd(ctx, indexKey(collection, name, value), id)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *RedisStore) QueryByIndex(ctx context.Context, collection, index, value string) ([]*Document, error) {
	if err := s.schema.checkQuery(collection, index); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, indexKey(collection, index, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, index, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, docKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, index, err)
	}

	out := make([]*Document, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			slog.Debug("Skipping stale index entry", "collection", collection, "index", index, "id", ids[i])
			continue
		}
		doc, err := decodeHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return utils.RedisHealthCheck(ctx, s.client)
}

func decodeHash(id string, fields map[string]string) (*Document, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("document %s: bad version %q: %w", id, fields["version"], err)
	}
	return &Document{ID: id, Version: version, Body: []byte(fields["body"])}, nil
}
