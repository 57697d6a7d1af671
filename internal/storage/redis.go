package storage

import (
	"context"
	"errors"
	"fmt"

	rd "github.com/redis/go-redis/v9"
)

// RedisStore keeps client state under stationery:state:{owner}:{key}
type RedisStore struct {
	rdb     *rd.Client
	ownerID string
}

// NewRedisStore connects to addr and pings it
func NewRedisStore(ctx context.Context, addr string, db int, ownerID string) (*RedisStore, error) {
	rdb := rd.NewClient(&rd.Options{Addr: addr, DB: db})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb, ownerID: ownerID}, nil
}

// StateKey is the redis key holding a client state value
func StateKey(ownerID, key string) string {
	return fmt.Sprintf("stationery:state:%s:%s", ownerID, key)
}

// Load returns the value for key
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	value, err := s.rdb.Get(ctx, StateKey(s.ownerID, key)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}

	return value, true, nil
}

// Save stores the value without expiry
func (s *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, StateKey(s.ownerID, key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

// Delete removes the value for key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := s.rdb.Del(ctx, StateKey(s.ownerID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

// Close closes the redis client
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
