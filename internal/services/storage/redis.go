package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/private-symposium-go/internal/config"
	"github.com/sirupsen/logrus"
)

// RedisStorage keeps each document in a hash at {prefix}:{collection}:{id}
type RedisStorage struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisStorageWithClient wraps an existing client
func NewRedisStorageWithClient(client *redis.Client, prefix string, logger *logrus.Logger) *RedisStorage {
	if prefix == "" {
		prefix = "symposium"
	}
	return &RedisStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisStorage) key(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, collection, id)
}

func (r *RedisStorage) Read(ctx context.Context, collection, id string) (Document, error) {
	data, err := r.client.HGetAll(ctx, r.key(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return Document(data), nil
}

func (r *RedisStorage) Write(ctx context.Context, collection, id string, patch Document, merge bool) error {
	key := r.key(collection, id)
	if merge {
		if len(patch) == 0 {
			return nil
		}
		return r.client.HSet(ctx, key, patch.pairs()...).Err()
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(patch) > 0 {
			pipe.HSet(ctx, key, patch.pairs()...)
		}
		return nil
	})
	return err
}

func (r *RedisStorage) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	return r.client.HIncrBy(ctx, r.key(collection, id), field, delta).Result()
}

func (r *RedisStorage) BatchUpdate(ctx context.Context, collection string, ids []string, patch Document) error {
	if len(ids) == 0 || len(patch) == 0 {
		return nil
	}
	args := patch.pairs()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HSet(ctx, r.key(collection, id), args...)
		}
		return nil
	})
	return err
}

// Transact uses WATCH/MULTI/EXEC; when the watched key changes before EXEC
// the callback is re-run against the fresh document.
func (r *RedisStorage) Transact(ctx context.Context, collection, id string, fn TxFunc) error {
	key := r.key(collection, id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var current Document
		if len(data) > 0 {
			current = Document(data)
		}

		patch, err := fn(current)
		if err != nil {
			return err
		}
		if len(patch) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, patch.pairs()...)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"key":     key,
			"attempt": attempt,
		}).Debug("Transaction conflict, retrying")
	}
	return ErrConflict
}

func (r *RedisStorage) Query(ctx context.Context, collection, field string, values []string) ([]string, error) {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}

	prefix := r.key(collection, "")
	var ids []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := r.client.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			value = ""
		} else if err != nil {
			return nil, err
		}
		if want[value] {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
