package services

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kerbaras/novels/pkg/sources"
)

// RetryPolicy wraps a single fetch with a per-attempt timeout and bounded
// exponential backoff. Only transient failures are retried; terminal,
// auth and cancellation errors surface on the first attempt.
type RetryPolicy struct {
	Attempts  uint
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		Timeout:   15 * time.Second,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}
}

func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			attemptCtx := ctx
			if p.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
				defer cancel()
			}
			return fn(attemptCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(p.BaseDelay),
		retry.RetryIf(sources.IsTransient),
		retry.LastErrorOnly(true),
	)
}
