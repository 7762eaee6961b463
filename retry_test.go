package adin2111

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func always(error) bool { return true }

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Min: time.Millisecond, Max: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), always, func(attempt int) error {
		calls++
		if attempt != calls {
			t.Errorf("attempt %d on call %d", attempt, calls)
		}
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = p.Do(context.Background(), always, func(int) error { calls++; return errFlaky })
	if !errors.Is(err, errFlaky) || calls != 4 {
		t.Errorf("exhausted: err=%v calls=%d", err, calls)
	}

	calls = 0
	fatal := errors.New("fatal")
	err = p.Do(context.Background(), func(err error) bool { return err == errFlaky }, func(int) error {
		calls++
		return fatal
	})
	if err != fatal || calls != 1 {
		t.Errorf("non retryable: err=%v calls=%d", err, calls)
	}
}

func TestRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, Min: time.Hour}
	err := p.Do(ctx, always, func(int) error {
		cancel()
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) {
		t.Error("expected cancellation, got", err)
	}
}

func TestRetryDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p != DefaultRetryPolicy() {
		t.Errorf("zero policy %+v", p)
	}
	p = RetryPolicy{Min: time.Second}.withDefaults()
	if p.Max < p.Min {
		t.Errorf("max %v below min %v", p.Max, p.Min)
	}
}
