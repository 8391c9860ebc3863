package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	errs "github.com/fystack/keyspace/pkg/common/errors"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func init() {
	Register(NewRedisSubscriber, HasScheme("redis", "rediss", "unix"))
}

type redisSubscriber struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	opts     Options
	messages chan Message

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string][]chan struct{}
}

// NewRedisSubscriber opens a dedicated redis connection for subscriptions
// and starts reading from it.
func NewRedisSubscriber(ctx context.Context, address string, opts Options) (Subscriber, error) {
	ropts, err := redis.ParseURL(address)
	if err != nil {
		return nil, errs.Wrap(err, "parse redis address")
	}
	if opts.MaxRetries != 0 {
		ropts.MaxRetries = opts.MaxRetries
	}
	ropts.MinRetryBackoff = opts.MinRetryBackoff
	if opts.MaxRetryBackoff > 0 {
		ropts.MaxRetryBackoff = opts.MaxRetryBackoff
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &redisSubscriber{
		client:   client,
		pubsub:   client.Subscribe(loopCtx),
		opts:     opts,
		messages: make(chan Message, opts.Buffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[string][]chan struct{}),
	}
	go s.receive(loopCtx)

	logger.Debug("[REDIS] subscriber connected", "addr", ropts.Addr)
	return s, nil
}

func (s *redisSubscriber) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscriber) Subscribe(ctx context.Context, channel string) error {
	return s.roundTrip(ctx, "subscribe", channel, s.pubsub.Subscribe)
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, channel string) error {
	return s.roundTrip(ctx, "unsubscribe", channel, s.pubsub.Unsubscribe)
}

// roundTrip sends a (un)subscribe command and waits for the matching
// confirmation from the receive loop.
func (s *redisSubscriber) roundTrip(ctx context.Context, kind, channel string, send func(context.Context, ...string) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AckTimeout)
		defer cancel()
	}

	ack := s.expect(kind, channel)
	if err := send(ctx, channel); err != nil {
		s.forget(kind, channel, ack)
		return err
	}

	select {
	case <-ack:
		return nil
	case <-s.done:
		return redis.ErrClosed
	case <-ctx.Done():
		s.forget(kind, channel, ack)
		return errs.Wrapf(ctx.Err(), "waiting for %s confirmation of %q", kind, channel)
	}
}

func (s *redisSubscriber) expect(kind, channel string) chan struct{} {
	ack := make(chan struct{})
	key := kind + ":" + channel
	s.mu.Lock()
	s.pending[key] = append(s.pending[key], ack)
	s.mu.Unlock()
	return ack
}

func (s *redisSubscriber) forget(kind, channel string, ack chan struct{}) {
	key := kind + ":" + channel
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.pending[key]
	for i, w := range waiters {
		if w == ack {
			s.pending[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.pending[key]) == 0 {
		delete(s.pending, key)
	}
}

func (s *redisSubscriber) acknowledge(kind, channel string) {
	key := kind + ":" + channel
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.pending[key]
	if len(waiters) == 0 {
		return
	}
	close(waiters[0])
	if len(waiters) == 1 {
		delete(s.pending, key)
	} else {
		s.pending[key] = waiters[1:]
	}
}

func (s *redisSubscriber) receive(ctx context.Context) {
	defer close(s.done)
	defer close(s.messages)

	for {
		msg, err := s.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			// go-redis reconnects and resubscribes on the next call.
			logger.Warn("[REDIS] subscription receive failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.MinRetryBackoff):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			s.acknowledge(m.Kind, m.Channel)
		case *redis.Message:
			select {
			case s.messages <- Message{Channel: m.Channel, Payload: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSubscriber) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	<-s.done
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
