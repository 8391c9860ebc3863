package keyspace

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/fystack/keyspace/pkg/kvstore"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/fystack/keyspace/pkg/messaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client is a prefixed key-value and pub/sub view over one store. It owns
// a data connection and, when pub/sub is enabled, a second connection
// dedicated to subscriptions.
//
// A Client is safe for concurrent use. The prefix is read once at the start
// of each operation, so changing it only affects operations that start
// afterwards.
type Client struct {
	id        string
	retry     RetryPolicy
	storeOpts kvstore.Options
	msgBuffer int

	// connMu serializes Connect and Close.
	connMu sync.Mutex
	state  atomic.Int32

	mu   sync.RWMutex
	data kvstore.KVStore
	sub  messaging.Subscriber

	codec   atomic.Pointer[Codec]
	counter *Counter

	// subMu serializes subscribe and unsubscribe round trips.
	subMu  sync.Mutex
	router *messaging.Router
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p.withDefaults()
	}
}

// WithEncryptionPassword enables at-rest encryption for embedded stores.
func WithEncryptionPassword(password string) Option {
	return func(c *Client) {
		c.storeOpts.EncryptionPassword = password
	}
}

func WithSyncWrites(sync bool) Option {
	return func(c *Client) {
		c.storeOpts.SyncWrites = sync
	}
}

// WithMessageBuffer sets how many inbound messages may queue for dispatch.
// A full queue stops the redis subscription connection from reading; the
// embedded backend drops messages for that client instead.
func WithMessageBuffer(n int) Option {
	return func(c *Client) {
		c.msgBuffer = n
	}
}

// New returns a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		id:      uuid.NewString(),
		retry:   DefaultRetryPolicy(),
		counter: NewCounter(),
		router:  messaging.NewRouter(),
	}
	c.codec.Store(&Codec{})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ID() string {
	return c.id
}

// Connect opens the data connection and, when enablePubSub is set, the
// subscription connection, then makes prefix the active prefix.
func (c *Client) Connect(ctx context.Context, address, prefix string, enablePubSub bool) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.State() != StateDisconnected {
		return &ConnectionError{Op: "connect", Address: redact(address), Err: ErrAlreadyConnected}
	}
	c.state.Store(int32(StateConnecting))

	data, sub, err := c.dial(ctx, address, enablePubSub)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		logger.Error("Failed to connect", err, "client", c.id, "address", redact(address))
		return &ConnectionError{Op: "connect", Address: redact(address), Err: err}
	}

	c.mu.Lock()
	c.data, c.sub = data, sub
	c.mu.Unlock()

	c.SetPrefix(prefix)
	c.router.Reset()
	if sub != nil {
		go c.router.Run(sub.Messages())
	}
	c.state.Store(int32(StateConnected))

	logger.Info("Connected to store",
		"client", c.id,
		"address", redact(address),
		"prefix", prefix,
		"pubsub", enablePubSub,
	)
	return nil
}

func (c *Client) dial(ctx context.Context, address string, enablePubSub bool) (kvstore.KVStore, messaging.Subscriber, error) {
	storeOpts := c.retry.storeOptions()
	storeOpts.EncryptionPassword = c.storeOpts.EncryptionPassword
	storeOpts.SyncWrites = c.storeOpts.SyncWrites

	var data kvstore.KVStore
	err := dialWithRetry(ctx, c.retry, "data", func(ctx context.Context) error {
		var err error
		data, err = kvstore.Open(ctx, address, storeOpts)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if !enablePubSub {
		return data, nil, nil
	}

	msgOpts := c.retry.messagingOptions()
	msgOpts.Buffer = c.msgBuffer

	var sub messaging.Subscriber
	err = dialWithRetry(ctx, c.retry, "subscription", func(ctx context.Context) error {
		var err error
		sub, err = messaging.Dial(ctx, address, msgOpts)
		return err
	})
	if err != nil {
		if cerr := data.Close(); cerr != nil {
			logger.Error("Failed to close data connection", cerr, "client", c.id)
		}
		return nil, nil, err
	}
	return data, sub, nil
}

// Close tears down both connections. Prefix and counters survive; the
// subscription registrations do not.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	data, sub := c.data, c.sub
	c.data, c.sub = nil, nil
	c.mu.Unlock()
	c.state.Store(int32(StateDisconnected))

	if data == nil && sub == nil {
		return nil
	}

	var g errgroup.Group
	if data != nil {
		g.Go(data.Close)
	}
	if sub != nil {
		g.Go(sub.Close)
	}
	err := g.Wait()
	c.router.Reset()
	if err != nil {
		return &ConnectionError{Op: "close", Err: err}
	}

	logger.Info("Closed store connections", "client", c.id)
	return nil
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// SetPrefix changes the prefix applied by operations started afterwards.
func (c *Client) SetPrefix(prefix string) {
	codec := NewCodec(prefix)
	c.codec.Store(&codec)
}

func (c *Client) Prefix() string {
	return c.Codec().Prefix()
}

func (c *Client) Codec() Codec {
	return *c.codec.Load()
}

// Counts returns how many times each tracked operation has succeeded.
func (c *Client) Counts() map[string]int64 {
	return c.counter.Snapshot()
}

func (c *Client) ResetCounters() {
	c.counter.Reset()
}

func (c *Client) dataConn() (kvstore.KVStore, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil, ErrNotConnected
	}
	return c.data, nil
}

func (c *Client) subConn() (messaging.Subscriber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil, ErrNotConnected
	}
	if c.sub == nil {
		return nil, ErrSubscriptionUnavailable
	}
	return c.sub, nil
}

// redact hides the password of a store URI for logs and errors.
func redact(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	return u.Redacted()
}
