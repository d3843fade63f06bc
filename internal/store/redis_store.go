package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore keys everything under namespace so several hosts can share
// one redis.
func NewRedisStore(addr, namespace string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), namespace)
}

func NewRedisStoreFromClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "gda"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(parts ...string) string {
	k := r.namespace
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisStore) SetSelection(ctx context.Context, ids []int) error {
	key := r.key("selection")
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ids) == 0 {
			return nil
		}
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
		return nil
	})
	return err
}

func (r *RedisStore) GetSelection(ctx context.Context) ([]int, error) {
	members, err := r.client.SMembers(ctx, r.key("selection")).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *RedisStore) SetCurrTime(ctx context.Context, t int) error {
	return r.client.Set(ctx, r.key("time"), t, 0).Err()
}

func (r *RedisStore) GetCurrTime(ctx context.Context) (int, error) {
	t, err := r.client.Get(ctx, r.key("time")).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return t, err
}

func (r *RedisStore) IsHandled(ctx context.Context, sessionID, callbackID string) (bool, error) {
	count, err := r.client.Exists(ctx, r.key("handled", sessionID, callbackID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RedisStore) MarkHandled(ctx context.Context, sessionID, callbackID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key("handled", sessionID, callbackID), "1", ttl).Err()
}

func (r *RedisStore) SetResponseStatus(ctx context.Context, sessionID, callbackID, status string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key("status", sessionID, callbackID), status, ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
