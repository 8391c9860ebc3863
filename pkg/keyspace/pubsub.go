package keyspace

import (
	"context"
	"errors"

	"github.com/fystack/keyspace/pkg/logger"
	"github.com/fystack/keyspace/pkg/messaging"
)

type Listener = messaging.Listener

var errNilListener = errors.New("keyspace: nil listener")

// Subscribe registers listener on channel. Only the first listener of a
// channel causes a subscribe round trip; later ones are appended locally.
// Listeners of a channel run in registration order on a single goroutine.
func (c *Client) Subscribe(ctx context.Context, channel string, listener Listener) error {
	if listener == nil {
		return errNilListener
	}
	sub, err := c.subConn()
	if err != nil {
		return err
	}
	physical := c.Codec().Encode(channel)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if first := c.router.Add(physical, listener); !first {
		logger.Debug("Added listener", "client", c.id, "channel", physical, "listeners", c.router.Len(physical))
		return nil
	}
	if err := sub.Subscribe(ctx, physical); err != nil {
		c.router.Remove(physical)
		return storeError(OpSubscribe, err)
	}
	c.counter.Inc(OpSubscribe)
	logger.Debug("Subscribed", "client", c.id, "channel", physical)
	return nil
}

// Unsubscribe drops every listener of channel. The unsubscribe round trip
// happens even when nothing was registered.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	sub, err := c.subConn()
	if err != nil {
		return err
	}
	physical := c.Codec().Encode(channel)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if err := sub.Unsubscribe(ctx, physical); err != nil {
		return storeError(OpUnsubscribe, err)
	}
	c.router.Remove(physical)
	c.counter.Inc(OpUnsubscribe)
	logger.Debug("Unsubscribed", "client", c.id, "channel", physical)
	return nil
}

// Publish sends message on channel over the data connection and returns the
// number of receivers reported by the store. Local listeners only see the
// message once the store delivers it back on the subscription connection.
func (c *Client) Publish(ctx context.Context, channel, message string) (int64, error) {
	conn, err := c.dataConn()
	if err != nil {
		return 0, err
	}

	n, err := conn.Publish(ctx, c.Codec().Encode(channel), message)
	if err != nil {
		return 0, storeError(OpPublish, err)
	}
	c.counter.Inc(OpPublish)
	return n, nil
}

// Channels returns the physical channels this client listens on, sorted.
func (c *Client) Channels() []string {
	return c.router.Channels()
}

// Listeners returns how many listeners are registered on channel under the
// active prefix.
func (c *Client) Listeners(channel string) int {
	return c.router.Len(c.Codec().Encode(channel))
}
