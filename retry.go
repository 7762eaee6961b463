package adin2111

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds the retries of operations that wait on device settle
// time, such as reset. Zero fields take default values.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Min and Max bound the delay between attempts.
	Min, Max time.Duration
	// Factor multiplies the delay after every failed attempt.
	Factor float64
}

// DefaultRetryPolicy returns the policy used when Config.Retry is zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Min: 10 * time.Millisecond, Max: 200 * time.Millisecond, Factor: 2}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Min <= 0 {
		p.Min = def.Min
	}
	if p.Max < p.Min {
		p.Max = max(def.Max, p.Min)
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	return p
}

// Do calls fn until it succeeds, returns an error retryable rejects or
// MaxAttempts is reached. The last error is returned. attempt starts at 1.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) (err error) {
	p = p.withDefaults()
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: false,
	}
	for attempt := 1; ; attempt++ {
		err = fn(attempt)
		if err == nil || !retryable(err) || attempt >= p.MaxAttempts {
			return err
		}
		t := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
