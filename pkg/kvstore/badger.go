package kvstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	errs "github.com/fystack/keyspace/pkg/common/errors"
	"github.com/fystack/keyspace/pkg/common/pathutil"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/fystack/keyspace/pkg/messaging"
	"github.com/fystack/keyspace/pkg/security"
	"github.com/gobwas/glob"
	"golang.org/x/crypto/hkdf"
)

// MemoryPrefix selects an in-memory database, e.g. "badger://:memory:cache".
// Connections naming the same in-memory database share it.
const MemoryPrefix = ":memory:"

const incrConflictAttempts = 16

var ErrIntegerOverflow = errors.New("kvstore: increment or decrement would overflow")

func init() {
	Register(NewBadgerKVStore, HasScheme("badger"))
}

type sharedDB struct {
	db   *badger.DB
	refs int
}

var (
	openMu  sync.Mutex
	openDBs = make(map[string]*sharedDB)
)

// BadgerKVStore is an embedded KVStore. Several stores opened on the same
// address share one database handle, and Publish goes through the
// in-process hub for that address.
type BadgerKVStore struct {
	address   string
	db        *badger.DB
	hub       *messaging.LocalHub
	closeOnce sync.Once
}

// NewBadgerKVStore opens (or joins) the database named by a badger:// address.
func NewBadgerKVStore(_ context.Context, address string, opts Options) (KVStore, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if shared, ok := openDBs[address]; ok {
		shared.refs++
		return &BadgerKVStore{address: address, db: shared.db, hub: messaging.HubFor(address)}, nil
	}

	bopts, err := badgerOptions(address, opts)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	openDBs[address] = &sharedDB{db: db, refs: 1}

	logger.Info("Opened BadgerDB", "address", address, "in_memory", bopts.InMemory)
	return &BadgerKVStore{address: address, db: db, hub: messaging.HubFor(address)}, nil
}

func badgerOptions(address string, opts Options) (badger.Options, error) {
	target := strings.TrimPrefix(address, "badger://")

	var bopts badger.Options
	if strings.HasPrefix(target, MemoryPrefix) {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path, err := pathutil.ResolveDBPath(target)
		if err != nil {
			return bopts, errs.Wrapf(err, "badger address %q", address)
		}
		bopts = badger.DefaultOptions(path).WithSyncWrites(opts.SyncWrites)
	}
	bopts = bopts.WithCompression(options.ZSTD).WithLogger(newQuietBadgerLogger(target))

	if opts.EncryptionPassword != "" {
		key, err := deriveEncryptionKey(opts.EncryptionPassword)
		if err != nil {
			return bopts, err
		}
		bopts = bopts.WithEncryptionKey(key).WithIndexCacheSize(100 << 20) // 100MB
	}
	return bopts, nil
}

// deriveEncryptionKey stretches a password into an AES-256 key.
func deriveEncryptionKey(password string) ([]byte, error) {
	secret := []byte(password)
	defer security.ZeroBytes(secret)

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("keyspace badger encryption"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return key, nil
}

func (b *BadgerKVStore) Get(_ context.Context, key string) (Value, error) {
	var result Value
	err := b.db.View(func(txn *badger.Txn) error {
		v, err := readValue(txn, key)
		result = v
		return err
	})
	return result, err
}

func (b *BadgerKVStore) MGet(_ context.Context, keys []string) ([]Value, error) {
	results := make([]Value, len(keys))
	err := b.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			v, err := readValue(txn, key)
			if err != nil {
				return err
			}
			results[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func readValue(txn *badger.Txn, key string) (Value, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return Value{}, err
	}
	return Value{Data: string(raw), Found: true}, nil
}

func (b *BadgerKVStore) Set(_ context.Context, key, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// MSet writes through a WriteBatch, which commits in as many transactions
// as the batch needs.
func (b *BadgerKVStore) MSet(_ context.Context, pairs map[string]string) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for k, v := range pairs {
		if err := wb.Set([]byte(k), []byte(v)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *BadgerKVStore) Keys(_ context.Context, pattern string) ([]string, error) {
	matcher, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = []byte(literalPrefix(pattern))
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if matcher.Match(key) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	return keys, err
}

// IncrBy updates the counter in a transaction, retrying when a concurrent
// writer wins the conflict check.
func (b *BadgerKVStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	var result int64
	err := retry.Do(
		func() error {
			return b.db.Update(func(txn *badger.Txn) error {
				current, err := readValue(txn, key)
				if err != nil {
					return err
				}
				var n int64
				if current.Found {
					n, err = strconv.ParseInt(current.Data, 10, 64)
					if err != nil {
						return ErrNotInteger
					}
				}
				if (delta > 0 && n > math.MaxInt64-delta) || (delta < 0 && n < math.MinInt64-delta) {
					return ErrIntegerOverflow
				}
				result = n + delta
				return txn.Set([]byte(key), []byte(strconv.FormatInt(result, 10)))
			})
		},
		retry.Attempts(incrConflictAttempts),
		retry.Delay(time.Millisecond),
		retry.MaxJitter(5*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, badger.ErrConflict)
		}),
		retry.LastErrorOnly(true),
	)
	return result, err
}

// Del removes keys that exist and reports how many there were. When a
// transaction fills up it is committed and the rest continue in a new one.
func (b *BadgerKVStore) Del(_ context.Context, keys ...string) (int64, error) {
	var committed, pending int64
	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, key := range keys {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return committed, err
		}

		err = txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return committed, err
			}
			committed += pending
			pending = 0
			txn = b.db.NewTransaction(true)
			err = txn.Delete([]byte(key))
		}
		if err != nil {
			return committed, err
		}
		pending++
	}

	if err := txn.Commit(); err != nil {
		return committed, err
	}
	return committed + pending, nil
}

func (b *BadgerKVStore) Publish(ctx context.Context, channel, message string) (int64, error) {
	return b.hub.Publish(ctx, channel, message)
}

// Close releases this handle. The database closes with the last handle.
func (b *BadgerKVStore) Close() error {
	var err error
	b.closeOnce.Do(func() {
		openMu.Lock()
		defer openMu.Unlock()

		shared, ok := openDBs[b.address]
		if !ok {
			return
		}
		shared.refs--
		if shared.refs > 0 {
			return
		}
		delete(openDBs, b.address)
		err = shared.db.Close()
		logger.Info("Closed BadgerDB", "address", b.address)
	})
	return err
}

// compilePattern compiles a redis-style glob. Braces are literal in redis
// patterns, so they are escaped before handing the pattern to glob. Redis
// negates a class with a leading '^' where glob uses '!', and a leading '!'
// is an ordinary member in redis.
func compilePattern(pattern string) (glob.Glob, error) {
	var sb strings.Builder
	escaped, classStart := false, false
	for _, r := range pattern {
		if classStart {
			classStart = false
			switch r {
			case '^':
				sb.WriteRune('!')
				continue
			case '!':
				sb.WriteRune('\\')
			}
		}
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '[':
			classStart = true
		case r == '{' || r == '}':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	g, err := glob.Compile(sb.String())
	if err != nil {
		return nil, errs.Wrapf(err, "invalid pattern %q", pattern)
	}
	return g, nil
}

// literalPrefix returns the part of pattern before its first metacharacter.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
