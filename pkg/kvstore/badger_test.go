package kvstore

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) KVStore {
	t.Helper()
	store, err := Open(context.Background(), "badger://"+MemoryPrefix+t.Name(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerKVStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	v, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, v.Found)

	require.NoError(t, store.Set(ctx, "k", "v"))
	v, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Value{Data: "v", Found: true}, v)
}

func TestBadgerKVStore_MGetMSet(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	require.NoError(t, store.MSet(ctx, map[string]string{"a": "1", "b": "2"}))

	values, err := store.MGet(ctx, []string{"b", "x", "a"})
	require.NoError(t, err)
	assert.Equal(t, []Value{{Data: "2", Found: true}, {}, {Data: "1", Found: true}}, values)
}

func TestBadgerKVStore_Keys(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	for _, k := range []string{"app:user:1", "app:user:2", "app:order:1", "other:user:1", "app[1]:x", "app:{tag}"} {
		require.NoError(t, store.Set(ctx, k, "v"))
	}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"app:user:*", []string{"app:user:1", "app:user:2"}},
		{"app:*:1", []string{"app:user:1", "app:order:1"}},
		{"*user:1", []string{"app:user:1", "other:user:1"}},
		{"app:user:?", []string{"app:user:1", "app:user:2"}},
		{`app\[1\]:*`, []string{"app[1]:x"}},
		{"app:{tag}", []string{"app:{tag}"}},
		{"nothing*", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			keys, err := store.Keys(ctx, tt.pattern)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, keys)
		})
	}
}

func TestBadgerKVStore_IncrBy(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	n, err := store.IncrBy(ctx, "n", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = store.IncrBy(ctx, "n", -8)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), n)

	require.NoError(t, store.Set(ctx, "word", "abc"))
	_, err = store.IncrBy(ctx, "word", 1)
	assert.ErrorIs(t, err, ErrNotInteger)

	require.NoError(t, store.Set(ctx, "big", "9223372036854775807"))
	_, err = store.IncrBy(ctx, "big", 1)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
}

func TestBadgerKVStore_IncrByConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := store.IncrBy(ctx, "hits", 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := store.Get(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, "100", v.Data)
}

func TestBadgerKVStore_Del(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	require.NoError(t, store.MSet(ctx, map[string]string{"a": "1", "b": "2"}))

	n, err := store.Del(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, v.Found)
}

func TestBadgerKVStore_LargeBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 300k keys")
	}
	ctx := context.Background()
	store := openMemory(t)

	const total = 300_000
	pairs := make(map[string]string, total)
	keys := make([]string, 0, total)
	for i := 0; i < total; i++ {
		k := "big:" + strconv.Itoa(i)
		pairs[k] = strconv.Itoa(i)
		keys = append(keys, k)
	}
	require.NoError(t, store.MSet(ctx, pairs))

	found, err := store.Keys(ctx, "big:*")
	require.NoError(t, err)
	require.Len(t, found, total)

	// one absent key and one duplicate must not be counted
	n, err := store.Del(ctx, append(keys, "big:absent", keys[0])...)
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)

	found, err = store.Keys(ctx, "big:*")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestBadgerKVStore_SharedHandle(t *testing.T) {
	ctx := context.Background()
	address := "badger://" + MemoryPrefix + t.Name()

	first, err := Open(ctx, address, Options{})
	require.NoError(t, err)
	second, err := Open(ctx, address, Options{})
	require.NoError(t, err)

	require.NoError(t, first.Set(ctx, "k", "v"))
	require.NoError(t, first.Close())

	v, err := second.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v.Data)
	require.NoError(t, second.Close())
	// closing twice releases only once
	require.NoError(t, second.Close())
}

func TestBadgerKVStore_OnDiskEncrypted(t *testing.T) {
	ctx := context.Background()
	address := "badger://" + filepath.Join(t.TempDir(), "db")
	opts := Options{EncryptionPassword: "correct horse"}

	store, err := Open(ctx, address, opts)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "secret", "42"))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, address, opts)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, "42", v.Data)
}

func TestBadgerKVStore_RejectsTraversal(t *testing.T) {
	_, err := Open(context.Background(), "badger://../../etc", Options{})
	assert.Error(t, err)
}

func TestDeriveEncryptionKey(t *testing.T) {
	a, err := deriveEncryptionKey("pw")
	require.NoError(t, err)
	b, err := deriveEncryptionKey("pw")
	require.NoError(t, err)
	c, err := deriveEncryptionKey("other")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLiteralPrefix(t *testing.T) {
	assert.Equal(t, "app:", literalPrefix("app:*"))
	assert.Equal(t, "app", literalPrefix(`app\[1\]*`))
	assert.Equal(t, "", literalPrefix("*"))
	assert.Equal(t, "exact", literalPrefix("exact"))
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(context.Background(), "mongodb://localhost", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedAddress)
}

func TestCompilePattern_CharacterClasses(t *testing.T) {
	tests := []struct {
		pattern string
		match   []string
		noMatch []string
	}{
		{"[^a]", []string{"b", "^"}, []string{"a"}},
		{"[!a]", []string{"a", "!"}, []string{"b"}},
		{"x[^0-9]", []string{"xa"}, []string{"x1"}},
		{"{a}", []string{"{a}"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			g, err := compilePattern(tt.pattern)
			require.NoError(t, err)
			for _, s := range tt.match {
				assert.True(t, g.Match(s), s)
			}
			for _, s := range tt.noMatch {
				assert.False(t, g.Match(s), s)
			}
		})
	}
}
