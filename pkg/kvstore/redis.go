package kvstore

import (
	"context"
	"errors"

	errs "github.com/fystack/keyspace/pkg/common/errors"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// scanCount is the COUNT hint sent with every SCAN page.
const scanCount = 500

func init() {
	Register(NewRedisKVStore, HasScheme("redis", "rediss", "unix"))
}

// RedisKVStore is a KVStore backed by a redis server.
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisKVStore parses a redis URI, connects and verifies the connection
// with PING.
func NewRedisKVStore(ctx context.Context, address string, opts Options) (KVStore, error) {
	ropts, err := redis.ParseURL(address)
	if err != nil {
		return nil, errs.Wrap(err, "parse redis address")
	}
	if opts.MaxRetries != 0 {
		ropts.MaxRetries = opts.MaxRetries
	}
	if opts.MinRetryBackoff > 0 {
		ropts.MinRetryBackoff = opts.MinRetryBackoff
	}
	if opts.MaxRetryBackoff > 0 {
		ropts.MaxRetryBackoff = opts.MaxRetryBackoff
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Debug("[REDIS] connected", "addr", ropts.Addr, "db", ropts.DB)
	return &RedisKVStore{client: client}, nil
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (Value, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	return Value{Data: v, Found: true}, nil
}

func (r *RedisKVStore) MGet(ctx context.Context, keys []string) ([]Value, error) {
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return lo.Map(raw, func(v interface{}, _ int) Value {
		s, ok := v.(string)
		return Value{Data: s, Found: ok}
	}), nil
}

func (r *RedisKVStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisKVStore) MSet(ctx context.Context, pairs map[string]string) error {
	args := make([]interface{}, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	return r.client.MSet(ctx, args...).Err()
}

// Keys walks the keyspace with SCAN. SCAN may repeat keys across pages so
// the result is deduplicated.
func (r *RedisKVStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return lo.Uniq(keys), nil
}

func (r *RedisKVStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

func (r *RedisKVStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisKVStore) Publish(ctx context.Context, channel, message string) (int64, error) {
	return r.client.Publish(ctx, channel, message).Result()
}

func (r *RedisKVStore) Close() error {
	return r.client.Close()
}
