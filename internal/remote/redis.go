package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"growlog/internal/config"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "growlog:snapshot:"

// RedisTarget keeps snapshots in redis with a TTL, standing in for the
// cultivation service's cloud store.
type RedisTarget struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisTarget(client *redis.Client, ttl time.Duration) *RedisTarget {
	return &RedisTarget{
		client: client,
		ttl:    ttl,
	}
}

func snapshotKey(kind string, entityID int64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, kind, entityID)
}

func (r *RedisTarget) Push(ctx context.Context, snap Snapshot) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	key := snapshotKey(snap.Kind, snap.EntityID)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to push snapshot to redis: %w", err)
	}
	return nil
}

func (r *RedisTarget) Pull(ctx context.Context, kind string, entityID int64) (*Snapshot, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, snapshotKey(kind, entityID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pull snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisTarget) Delete(ctx context.Context, kind string, entityID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, snapshotKey(kind, entityID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return nil
}

// Clear drops every snapshot. Used by maintenance; the keyspace is
// small enough for a KEYS scan in this simulated store.
func (r *RedisTarget) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	keys, err := r.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list snapshot keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
