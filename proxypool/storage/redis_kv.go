package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV 把每个逻辑表存为一个 hash：HGET/HSET/HDEL/HEXISTS/HVALS/HGETALL。
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(ctx context.Context, dsn string) (*RedisKV, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisKVFromClient(client), nil
}

// NewRedisKVFromClient 复用调用方已经建立的连接。
func NewRedisKVFromClient(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, table, key string) (string, error) {
	v, err := r.client.HGet(ctx, table, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisKV) Put(ctx context.Context, table, key, value string) error {
	return r.client.HSet(ctx, table, key, value).Err()
}

func (r *RedisKV) Delete(ctx context.Context, table, key string) error {
	return r.client.HDel(ctx, table, key).Err()
}

func (r *RedisKV) Exists(ctx context.Context, table, key string) (bool, error) {
	return r.client.HExists(ctx, table, key).Result()
}

func (r *RedisKV) Values(ctx context.Context, table string) ([]string, error) {
	return r.client.HVals(ctx, table).Result()
}

func (r *RedisKV) Items(ctx context.Context, table string) (map[string]string, error) {
	return r.client.HGetAll(ctx, table).Result()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
