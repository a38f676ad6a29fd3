// Package retry runs storage operations with capped exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx ends. The last error is returned.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		exp.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return fn(ctx)
	}, b, func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Retrying operation")
	})
}
