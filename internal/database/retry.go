package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy is a fixed retry schedule for network failures: at most
// Attempts tries, the wait doubling from BaseDelay between them.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *zap.Logger
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.BaseDelay << uint(max(p.Attempts, 1))
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// RetryNetwork calls fn until it succeeds, returns a non-network error, the
// policy runs out of attempts or ctx is done. The last error is returned.
func RetryNetwork(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsNetworkError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("network error, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	return backoff.RetryNotify(op, backoff.WithContext(p.backOff(), ctx), notify)
}
