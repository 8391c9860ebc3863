package keyspace

import (
	"context"
	"fmt"
	"math"

	"github.com/fystack/keyspace/pkg/kvstore"
	"github.com/spf13/cast"
)

// Value is the result of a read. Found is false when the key is absent.
type Value = kvstore.Value

// Get returns the value stored at key. A missing key is not an error.
func (c *Client) Get(ctx context.Context, key string) (Value, error) {
	conn, err := c.dataConn()
	if err != nil {
		return Value{}, err
	}

	v, err := conn.Get(ctx, c.Codec().Encode(key))
	if err != nil {
		return Value{}, storeError(OpGet, err)
	}
	c.counter.Inc(OpGet)
	return v, nil
}

// KeyValue pairs a logical key with the value read for it.
type KeyValue struct {
	Key   string
	Value Value
}

// GetMany fetches keys in one round trip and returns them keyed by the
// logical keys as given. Duplicate keys collapse and the input order is not
// kept; use GetManyOrdered for that. It counts as a single get.
func (c *Client) GetMany(ctx context.Context, keys []string) (map[string]Value, error) {
	pairs, err := c.GetManyOrdered(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(pairs))
	for _, kv := range pairs {
		out[kv.Key] = kv.Value
	}
	return out, nil
}

// GetManyOrdered is GetMany returning one entry per requested key, in the
// order given and including duplicates.
func (c *Client) GetManyOrdered(ctx context.Context, keys []string) ([]KeyValue, error) {
	conn, err := c.dataConn()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []KeyValue{}, nil
	}

	values, err := conn.MGet(ctx, c.Codec().EncodeAll(keys))
	if err != nil {
		return nil, storeError(OpGet, err)
	}
	if len(values) != len(keys) {
		return nil, storeError(OpGet, fmt.Errorf("mget returned %d values for %d keys", len(values), len(keys)))
	}

	out := make([]KeyValue, len(keys))
	for i, key := range keys {
		out[i] = KeyValue{Key: key, Value: values[i]}
	}
	c.counter.Inc(OpGet)
	return out, nil
}

// Keys returns the logical keys under the active prefix matching pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	conn, err := c.dataConn()
	if err != nil {
		return nil, err
	}

	codec := c.Codec()
	physical, err := conn.Keys(ctx, codec.EncodePattern(pattern))
	if err != nil {
		return nil, storeError("keys", err)
	}
	return codec.DecodeAll(physical), nil
}

func (c *Client) Count(ctx context.Context, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *Client) GetManyByPattern(ctx context.Context, pattern string) (map[string]Value, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return c.GetMany(ctx, keys)
}

// Set stores the string form of value at key.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	conn, err := c.dataConn()
	if err != nil {
		return err
	}

	if err := conn.Set(ctx, c.Codec().Encode(key), stringify(value)); err != nil {
		return storeError(OpSet, err)
	}
	c.counter.Inc(OpSet)
	return nil
}

// SetMany writes every pair in one round trip; it counts as a single set.
func (c *Client) SetMany(ctx context.Context, pairs map[string]any) error {
	conn, err := c.dataConn()
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	codec := c.Codec()
	physical := make(map[string]string, len(pairs))
	for k, v := range pairs {
		physical[codec.Encode(k)] = stringify(v)
	}
	if err := conn.MSet(ctx, physical); err != nil {
		return storeError(OpSet, err)
	}
	c.counter.Inc(OpSet)
	return nil
}

// IncrBy atomically adds delta to the integer at key and returns the result.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.incrBy(ctx, OpIncr, key, delta)
}

// DecrBy atomically subtracts delta from the integer at key.
func (c *Client) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if delta == math.MinInt64 {
		if _, err := c.dataConn(); err != nil {
			return 0, err
		}
		return 0, storeError(OpDecr, kvstore.ErrIntegerOverflow)
	}
	return c.incrBy(ctx, OpDecr, key, -delta)
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.IncrBy(ctx, key, 1)
}

func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return c.DecrBy(ctx, key, 1)
}

func (c *Client) incrBy(ctx context.Context, op, key string, delta int64) (int64, error) {
	conn, err := c.dataConn()
	if err != nil {
		return 0, err
	}

	n, err := conn.IncrBy(ctx, c.Codec().Encode(key), delta)
	if err != nil {
		return 0, storeError(op, err)
	}
	c.counter.Inc(op)
	return n, nil
}

// Del removes keys in one round trip and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	conn, err := c.dataConn()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := conn.Del(ctx, c.Codec().EncodeAll(keys)...)
	if err != nil {
		return 0, storeError(OpDel, err)
	}
	c.counter.Inc(OpDel)
	return n, nil
}

func (c *Client) DelWithPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return c.Del(ctx, keys...)
}

// Empty deletes every key under the active prefix.
func (c *Client) Empty(ctx context.Context) (int64, error) {
	return c.DelWithPattern(ctx, "*")
}

func stringify(value any) string {
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	return fmt.Sprint(value)
}
