package keyspace

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/fystack/keyspace/pkg/kvstore"
	"github.com/fystack/keyspace/pkg/logger"
	"github.com/fystack/keyspace/pkg/messaging"
)

// RetryPolicy bounds connection attempts: exponential backoff starting at
// InitialDelay and capped at MaxDelay per attempt, at most Attempts tries,
// and no new attempt after MaxElapsed.
type RetryPolicy struct {
	Attempts     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxElapsed   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		MaxElapsed:   30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts == 0 {
		p.Attempts = def.Attempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = def.MaxElapsed
	}
	return p
}

// storeOptions disables transport retries for data commands: only
// connection establishment is retried, by dialWithRetry.
func (p RetryPolicy) storeOptions() kvstore.Options {
	return kvstore.Options{MaxRetries: -1}
}

func (p RetryPolicy) messagingOptions() messaging.Options {
	return messaging.Options{
		MaxRetries:      -1,
		MinRetryBackoff: p.InitialDelay,
		MaxRetryBackoff: p.MaxDelay,
	}
}

// isRetryable reports whether a failed connection attempt may be retried.
// A refused connection means nothing is listening and is not retried.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return false
	case errors.Is(err, kvstore.ErrUnsupportedAddress), errors.Is(err, messaging.ErrUnsupportedAddress):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// dialWithRetry runs dial under the policy and returns the last dial error
// when the policy gives up.
func dialWithRetry(ctx context.Context, p RetryPolicy, what string, dial func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.MaxElapsed)
	defer cancel()

	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = dial(ctx)
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.InitialDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Connection attempt failed, retrying", "target", what, "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil && lastErr != nil && !errors.Is(err, lastErr) {
		return errors.Join(lastErr, err)
	}
	return err
}
