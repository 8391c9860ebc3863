package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/fystack/keyspace/pkg/logger"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/samber/lo"
)

var ErrSubscriberClosed = errors.New("messaging: subscriber closed")

func init() {
	Register(func(_ context.Context, address string, opts Options) (Subscriber, error) {
		return HubFor(address).NewSubscriber(opts.Buffer), nil
	}, HasScheme("badger"))
}

var hubs = xsync.NewMapOf[*LocalHub]()

// HubFor returns the in-process hub named name, creating it on first use.
// Embedded stores publish through the hub named after their address.
func HubFor(name string) *LocalHub {
	hub, _ := hubs.LoadOrCompute(name, func() *LocalHub {
		return &LocalHub{
			channels: make(map[string]map[*localSubscriber]struct{}),
			dropped:  xsync.NewCounter(),
		}
	})
	return hub
}

// LocalHub fans messages out to subscribers living in the same process.
type LocalHub struct {
	mu       sync.RWMutex
	channels map[string]map[*localSubscriber]struct{}
	dropped  *xsync.Counter
}

// Publish delivers payload to every subscriber of channel and reports how
// many received it. Publish never waits on a subscriber: when its buffer is
// full the message is dropped for that subscriber and counted in Dropped.
func (h *LocalHub) Publish(ctx context.Context, channel, payload string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := lo.Keys(h.channels[channel])
	h.mu.RUnlock()

	var delivered int64
	for _, s := range targets {
		switch s.deliver(Message{Channel: channel, Payload: payload}) {
		case deliveryOK:
			delivered++
		case deliveryFull:
			h.dropped.Inc()
			logger.Warn("Subscriber buffer full, dropping message", "channel", channel)
		}
	}
	return delivered, nil
}

// Dropped returns how many deliveries were dropped on full buffers.
func (h *LocalHub) Dropped() int64 {
	return h.dropped.Value()
}

func (h *LocalHub) NewSubscriber(buffer int) Subscriber {
	if buffer <= 0 {
		buffer = 128
	}
	return &localSubscriber{
		hub:      h,
		messages: make(chan Message, buffer),
		closed:   make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

func (h *LocalHub) add(channel string, s *localSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*localSubscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
}

func (h *LocalHub) remove(channel string, s *localSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.channels[channel]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

type localSubscriber struct {
	hub      *LocalHub
	messages chan Message
	closed   chan struct{}

	// sendMu keeps messages open while a delivery is in progress.
	sendMu    sync.RWMutex
	closeOnce sync.Once

	mu       sync.Mutex
	channels map[string]struct{}
}

func (s *localSubscriber) Messages() <-chan Message {
	return s.messages
}

func (s *localSubscriber) Subscribe(_ context.Context, channel string) error {
	if s.isClosed() {
		return ErrSubscriberClosed
	}
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
	s.hub.add(channel, s)
	return nil
}

func (s *localSubscriber) Unsubscribe(_ context.Context, channel string) error {
	if s.isClosed() {
		return ErrSubscriberClosed
	}
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
	s.hub.remove(channel, s)
	return nil
}

type delivery int

const (
	deliveryOK delivery = iota
	deliveryFull
	deliveryClosed
)

func (s *localSubscriber) deliver(msg Message) delivery {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.isClosed() {
		return deliveryClosed
	}
	select {
	case s.messages <- msg:
		return deliveryOK
	default:
		return deliveryFull
	}
}

func (s *localSubscriber) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *localSubscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		channels := lo.Keys(s.channels)
		s.channels = map[string]struct{}{}
		s.mu.Unlock()
		for _, ch := range channels {
			s.hub.remove(ch, s)
		}

		s.sendMu.Lock()
		close(s.messages)
		s.sendMu.Unlock()
	})
	return nil
}
