package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// LocalStore is a string-keyed store for the fastest-path reads of the board
// list and the open board. Values never expire.
type LocalStore struct {
	redis  *redis.Client
	prefix string
}

// NewLocalStore scopes keys under namespace so several clients can share one
// Redis instance.
func NewLocalStore(client *redis.Client, namespace string) *LocalStore {
	if client == nil {
		panic("storage.NewLocalStore: redis client is nil")
	}
	return &LocalStore{redis: client, prefix: "ls:" + namespace + ":"}
}

func (s *LocalStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *LocalStore) SetItem(ctx context.Context, key, value string) error {
	return s.redis.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *LocalStore) RemoveItem(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.prefix+key).Err()
}
