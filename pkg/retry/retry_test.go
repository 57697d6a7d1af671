package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond},
	}
}

func TestRetrySucceedsAfterTemporaryFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return apperrors.NewTemporaryError("flaky")
		}
		return nil
	}, fastConfig(5))

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return apperrors.NewUnauthorizedError("expired")
	}, fastConfig(5))

	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return apperrors.NewTimeoutError("slow")
	}, fastConfig(3))

	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected wrapped timeout, got %v", err)
	}

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryHonoursExplicitRetryableList(t *testing.T) {
	sentinel := errors.New("custom")
	cfg := fastConfig(2)
	cfg.RetryableErrors = []error{sentinel}

	calls := 0
	_ = Retry(context.Background(), func() error {
		calls++
		return sentinel
	}, cfg)

	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error { return nil }, fastConfig(3))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExponentialBackoffCapped(t *testing.T) {
	b := &ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}

	if got := b.NextBackoff(1); got != 100*time.Millisecond {
		t.Errorf("attempt 1 = %v", got)
	}

	if got := b.NextBackoff(3); got != 400*time.Millisecond {
		t.Errorf("attempt 3 = %v", got)
	}

	if got := b.NextBackoff(20); got != time.Second {
		t.Errorf("attempt 20 = %v, want cap", got)
	}
}
