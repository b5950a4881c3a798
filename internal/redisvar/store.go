// Package redisvar is the Redis-backed player variable store, for hosts
// that keep player state out of Postgres.
package redisvar

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// Store implements reward.VariableStore on a Redis client. Keys are
// reward:var:<playerID>:<key> so a player's variables can be inspected
// with a single SCAN prefix.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(playerID int64, key string) string {
	return fmt.Sprintf("reward:var:%d:%s", playerID, key)
}

func (s *Store) GetLong(ctx context.Context, playerID int64, key string, def int64) (int64, error) {
	val, err := s.client.Get(ctx, s.key(playerID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return def, fmt.Errorf("parse variable %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) GetBool(ctx context.Context, playerID int64, key string, def bool) (bool, error) {
	d := int64(0)
	if def {
		d = 1
	}
	v, err := s.GetLong(ctx, playerID, key, d)
	if err != nil {
		return def, err
	}
	return v != 0, nil
}

func (s *Store) SetLong(ctx context.Context, playerID int64, key string, val int64) error {
	return s.client.Set(ctx, s.key(playerID, key), strconv.FormatInt(val, 10), 0).Err()
}

func (s *Store) SetBool(ctx context.Context, playerID int64, key string, val bool) error {
	v := int64(0)
	if val {
		v = 1
	}
	return s.SetLong(ctx, playerID, key, v)
}
