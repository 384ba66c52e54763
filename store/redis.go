package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/medcost/core"
)

// RedisStore 是 Redis 实现的 Store。
// 训练侧把制品以 <prefix><key> 的形式写入 Redis，多个推理实例共享同一份制品。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption 配置 RedisStore
type RedisOption func(*redis.Options, *RedisStore)

// WithRedisPassword 设置密码
func WithRedisPassword(password string) RedisOption {
	return func(o *redis.Options, _ *RedisStore) {
		o.Password = password
	}
}

// WithRedisKeyPrefix 设置 key 前缀，如 "medcost:v3:"
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(_ *redis.Options, r *RedisStore) {
		r.prefix = prefix
	}
}

// WithRedisDialTimeout 设置连接超时
func WithRedisDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options, _ *RedisStore) {
		o.DialTimeout = d
	}
}

// NewRedisStore 创建 RedisStore，创建时 Ping 一次，连接失败直接返回错误。
func NewRedisStore(addr string, db int, opts ...RedisOption) (*RedisStore, error) {
	o := &redis.Options{
		Addr: addr,
		DB:   db,
	}
	r := &RedisStore{}
	for _, opt := range opts {
		opt(o, r)
	}
	r.client = redis.NewClient(o)
	if err := r.client.Ping(context.Background()).Err(); err != nil {
		_ = r.client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisStoreFromClient 用已有的客户端创建 RedisStore（不做 Ping）
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStoreNotFound
	}
	return val, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	var expiration time.Duration
	if len(ttl) > 0 && ttl[0] > 0 {
		expiration = time.Duration(ttl[0]) * time.Second
	}
	return r.client.Set(ctx, r.key(key), value, expiration).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(keys))
	for i, k := range keys {
		if s, ok := vals[i].(string); ok {
			result[k] = []byte(s)
		}
	}
	return result, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ core.Store = (*RedisStore)(nil)
