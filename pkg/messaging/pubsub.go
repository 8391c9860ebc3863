package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnsupportedAddress = errors.New("messaging: unsupported address")

// Message is one inbound delivery on a subscribed channel.
type Message struct {
	Channel string
	Payload string
}

// Subscriber is a connection dedicated to channel subscriptions. Messages
// for every subscribed channel arrive on a single stream which is closed
// when the subscriber is closed.
type Subscriber interface {
	// Subscribe returns once the store has confirmed the subscription.
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Messages() <-chan Message
	Close() error
}

type Options struct {
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// Buffer is the capacity of the Messages stream.
	Buffer int
	// AckTimeout bounds the wait for a subscribe confirmation when the
	// caller's context has no deadline.
	AckTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 128
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.MinRetryBackoff <= 0 {
		o.MinRetryBackoff = 100 * time.Millisecond
	}
	return o
}

type Constructor func(ctx context.Context, address string, opts Options) (Subscriber, error)

type Matcher func(address string) bool

type transport struct {
	matcher     Matcher
	constructor Constructor
}

var transports []transport

func Register(constructor Constructor, matcher Matcher) {
	transports = append(transports, transport{matcher: matcher, constructor: constructor})
}

// Dial opens a subscriber for address using the first registered transport
// that accepts it.
func Dial(ctx context.Context, address string, opts Options) (Subscriber, error) {
	for _, t := range transports {
		if t.matcher(address) {
			return t.constructor(ctx, address, opts.withDefaults())
		}
	}
	return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedAddress, scheme(address))
}

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
