// Package retry implements the exponential-backoff-with-jitter retry
// policy from spec.md §7: base*2^(attempt-1) + base*jitter*U(0,1), on top
// of cenkalti/backoff/v5's generic Retry driver rather than a hand-rolled
// loop (spec.md §9's re-architecting note: retriability becomes a
// property of the error variant, not a mutable attribute).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/clusterkeeper/pkg/clustererr"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
)

// Policy configures a retry run.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
}

// DefaultPolicy matches spec.md §7's default: 3 attempts, base 5s, jitter 0.3.
var DefaultPolicy = Policy{MaxAttempts: 3, Base: 5 * time.Second, Jitter: 0.3}

// specBackOff implements backoff.BackOff with the exact formula spec.md
// §7 specifies: base*2^(attempt-1) + base*jitter*U(0,1).
type specBackOff struct {
	policy  Policy
	attempt int
}

func (b *specBackOff) NextBackOff() time.Duration {
	b.attempt++
	exp := float64(b.policy.Base) * pow2(b.attempt-1)
	jitter := float64(b.policy.Base) * b.policy.Jitter * rand.Float64()
	return time.Duration(exp + jitter)
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

// Do runs fn, retrying on errors that report Retriable() == true, up to
// p.MaxAttempts times via backoff.Retry. A non-retriable error (per
// clustererr.Retriable) is wrapped in backoff.Permanent so the driver
// stops immediately. Emits RetryAttempt on attempts >= 2 and
// RetryExhausted on final failure, per spec.md §7.
func Do(ctx context.Context, p Policy, emitter metrics.Emitter, dims metrics.Dimensions, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		if attempt >= 2 && emitter != nil {
			emitter.PutMetric(ctx, metrics.RetryAttempt, 1, metrics.UnitCount, dims)
		}

		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !clustererr.Retriable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&specBackOff{policy: p}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
	if err != nil {
		if attempt >= p.MaxAttempts && emitter != nil {
			emitter.PutMetric(ctx, metrics.RetryExhausted, 1, metrics.UnitCount, dims)
		}
		return unwrapPermanent(err)
	}
	return nil
}

// unwrapPermanent returns the original error wrapped by backoff.Permanent,
// so callers see the same error Do's caller produced, not a library
// wrapper type.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
