package messaging

import (
	"slices"
	"sync"

	"github.com/fystack/keyspace/pkg/logger"
)

// Listener receives the payload of each message delivered on a channel.
type Listener func(message string)

// Router maps channels to their listeners and fans inbound messages out to
// them in registration order.
//
// Listeners run synchronously on the dispatching goroutine. A panicking
// listener is not recovered: the listeners after it do not run and the
// panic propagates.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Listener
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string][]Listener)}
}

// Add appends listener to channel and reports whether it is the first one.
func (r *Router) Add(channel string, listener Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = append(r.handlers[channel], listener)
	return len(r.handlers[channel]) == 1
}

// Remove drops every listener of channel.
func (r *Router) Remove(channel string) {
	r.mu.Lock()
	delete(r.handlers, channel)
	r.mu.Unlock()
}

// Len returns the number of listeners registered on channel.
func (r *Router) Len(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[channel])
}

// Channels returns the channels that have listeners, sorted.
func (r *Router) Channels() []string {
	r.mu.RLock()
	channels := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()
	slices.Sort(channels)
	return channels
}

// Reset drops all registrations.
func (r *Router) Reset() {
	r.mu.Lock()
	r.handlers = make(map[string][]Listener)
	r.mu.Unlock()
}

// Dispatch invokes every listener of msg.Channel and returns how many ran.
func (r *Router) Dispatch(msg Message) int {
	r.mu.RLock()
	listeners := r.handlers[msg.Channel]
	r.mu.RUnlock()

	if len(listeners) == 0 {
		logger.Debug("No listeners for channel", "channel", msg.Channel)
		return 0
	}

	for _, listener := range listeners {
		listener(msg.Payload)
	}
	return len(listeners)
}

// Run dispatches messages until the stream is closed.
func (r *Router) Run(messages <-chan Message) {
	for msg := range messages {
		r.Dispatch(msg)
	}
}
