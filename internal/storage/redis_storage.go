package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ocpp-csms/csms/internal/config"
)

// RedisStorage mirrors charge-point-to-pod ownership in Redis, used as
// the ConnectionStorage side channel in internal/csms/registry so a
// multi-pod deployment can tell which pod a charge point is connected
// to. It is a best-effort mirror: the registry itself remains the
// source of truth for the pod that holds it.
type RedisStorage struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStorage dials Redis and verifies connectivity with a ping.
func NewRedisStorage(cfg config.RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStorage{Client: client, Prefix: "csms:owner:"}, nil
}

// SetConnection records which pod currently owns a charge point's
// connection, with a TTL so a crashed pod's entries expire on their own.
func (r *RedisStorage) SetConnection(ctx context.Context, chargePointID string, podID string, ttl time.Duration) error {
	key := fmt.Sprintf("%s%s", r.Prefix, chargePointID)
	return r.Client.Set(ctx, key, podID, ttl).Err()
}

// GetConnection returns the pod ID currently owning a charge point's
// connection, or redis.Nil if none is recorded.
func (r *RedisStorage) GetConnection(ctx context.Context, chargePointID string) (string, error) {
	key := fmt.Sprintf("%s%s", r.Prefix, chargePointID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", redis.Nil
	}
	return val, err
}

// DeleteConnection removes a charge point's ownership record.
func (r *RedisStorage) DeleteConnection(ctx context.Context, chargePointID string) error {
	key := fmt.Sprintf("%s%s", r.Prefix, chargePointID)
	return r.Client.Del(ctx, key).Err()
}

// Close releases the underlying Redis client.
func (r *RedisStorage) Close() error {
	return r.Client.Close()
}
