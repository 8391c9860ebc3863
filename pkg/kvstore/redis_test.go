package kvstore

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRedis(t *testing.T) (KVStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), "redis://"+mr.Addr(), Options{MaxRetries: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisKVStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedis(t)

	v, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, v.Found)

	require.NoError(t, store.Set(ctx, "k", "v"))
	mr.CheckGet(t, "k", "v")

	v, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Value{Data: "v", Found: true}, v)
}

func TestRedisKVStore_MGetMSet(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedis(t)

	require.NoError(t, store.MSet(ctx, map[string]string{"a": "1", "b": "2"}))
	mr.CheckGet(t, "a", "1")

	values, err := store.MGet(ctx, []string{"b", "x", "a"})
	require.NoError(t, err)
	assert.Equal(t, []Value{{Data: "2", Found: true}, {}, {Data: "1", Found: true}}, values)
}

func TestRedisKVStore_Keys(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedis(t)

	for i := 0; i < 1200; i++ {
		require.NoError(t, mr.Set("app:item:"+strconv.Itoa(i), "v"))
	}
	require.NoError(t, mr.Set("other:item:1", "v"))

	keys, err := store.Keys(ctx, "app:*")
	require.NoError(t, err)
	assert.Len(t, keys, 1200)
	assert.NotContains(t, keys, "other:item:1")
}

func TestRedisKVStore_IncrByDel(t *testing.T) {
	ctx := context.Background()
	store, mr := openRedis(t)

	n, err := store.IncrBy(ctx, "n", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	n, err = store.IncrBy(ctx, "n", -15)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), n)

	require.NoError(t, mr.Set("word", "abc"))
	_, err = store.IncrBy(ctx, "word", 1)
	assert.Error(t, err)

	removed, err := store.Del(ctx, "n", "word", "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.False(t, mr.Exists("n"))
}

func TestRedisKVStore_PublishCountsReceivers(t *testing.T) {
	ctx := context.Background()
	store, _ := openRedis(t)

	n, err := store.Publish(ctx, "nobody-listens", "m")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisKVStore_BadAddress(t *testing.T) {
	_, err := Open(context.Background(), "redis://localhost:notaport/0", Options{})
	assert.Error(t, err)
}
