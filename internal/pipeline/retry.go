package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retrier wraps one unit of work (an embed call, a write call) with bounded
// exponential backoff and jitter. Classification of errors is injected so
// the same machinery serves both legs of the pipeline.
type retrier struct {
	maxAttempts int
	base        time.Duration
	max         time.Duration
	perCall     time.Duration
	cooldown    time.Duration
	gate        *gate

	retryable func(error) bool
	quota     func(error) bool
}

func (r *retrier) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.MaxInterval = r.max
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // attempts are bounded, elapsed time is not
	var bo backoff.BackOff = b
	if r.maxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.maxAttempts-1))
	}
	return backoff.WithContext(bo, ctx)
}

// do runs call until it succeeds, turns terminal, or attempts are exhausted.
// prepare runs before each attempt under the job context (cooldown gate,
// rate limiter); call runs under the per-call timeout. The attempt count
// used is returned alongside the final error.
func (r *retrier) do(ctx context.Context, prepare func(context.Context) error, call func(context.Context) error) (int, error) {
	attempts := 0

	op := func() error {
		if prepare != nil {
			if err := prepare(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempts++

		callCtx := ctx
		if r.perCall > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.perCall)
			defer cancel()
		}

		err := call(callCtx)
		if err == nil {
			return nil
		}
		if r.quota != nil && r.quota(err) {
			// Pool-wide cooldown instead of per-item backoff; the error stays
			// retryable so this item picks back up when the gate opens.
			r.gate.Trip(r.cooldown)
			return err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if r.retryable != nil && !r.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, r.newBackOff(ctx))
	return attempts, err
}
