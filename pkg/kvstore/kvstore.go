package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupportedAddress = errors.New("kvstore: unsupported address")
	ErrNotInteger         = errors.New("kvstore: value is not an integer")
)

// Value is the result of a read. Found is false when the key does not exist.
type Value struct {
	Data  string
	Found bool
}

// KVStore is the capability the keyspace client needs from a data connection.
type KVStore interface {
	Get(ctx context.Context, key string) (Value, error)

	// MGet returns one Value per key, in the order given.
	MGet(ctx context.Context, keys []string) ([]Value, error)

	Set(ctx context.Context, key, value string) error
	MSet(ctx context.Context, pairs map[string]string) error

	// Keys returns every key matching the glob pattern. Each key appears once.
	Keys(ctx context.Context, pattern string) ([]string, error)

	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Publish sends message on channel and reports the number of receivers.
	Publish(ctx context.Context, channel, message string) (int64, error)

	Close() error
}

// Options tune a backend when it is opened.
type Options struct {
	// MaxRetries, MinRetryBackoff and MaxRetryBackoff bound the transport's
	// own per-command retries.
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// EncryptionPassword enables at-rest encryption for embedded backends.
	EncryptionPassword string
	SyncWrites         bool
}

type Constructor func(ctx context.Context, address string, opts Options) (KVStore, error)

type Matcher func(address string) bool

type backing struct {
	matcher     Matcher
	constructor Constructor
}

var backings []backing

// Register adds a backend selected by matcher.
func Register(constructor Constructor, matcher Matcher) {
	backings = append(backings, backing{matcher: matcher, constructor: constructor})
}

// Open connects to the backend whose matcher accepts address.
func Open(ctx context.Context, address string, opts Options) (KVStore, error) {
	for _, b := range backings {
		if b.matcher(address) {
			return b.constructor(ctx, address, opts)
		}
	}
	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedAddress, scheme(address))
}

// HasScheme returns a Matcher accepting addresses that start with any of the
// given schemes, e.g. "redis://".
func HasScheme(schemes ...string) Matcher {
	return func(address string) bool {
		for _, s := range schemes {
			if strings.HasPrefix(address, s+"://") {
				return true
			}
		}
		return false
	}
}

func scheme(address string) string {
	if i := strings.Index(address, "://"); i >= 0 {
		return address[:i]
	}
	return ""
}
