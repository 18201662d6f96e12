package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected initial delay of 100ms, got %v", config.InitialDelay)
	}

	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected max delay of 5s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected multiplier of 2.0, got %v", config.Multiplier)
	}

	if config.MaxAttempts != 3 {
		t.Errorf("Expected max attempts of 3, got %v", config.MaxAttempts)
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	err := backoff.Retry(context.Background(), operation)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	err := backoff.Retry(context.Background(), operation)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_ExhaustsAttempts(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	wantErr := errors.New("persistent error")
	operation := func() error {
		attempts++
		return wantErr
	}

	err := backoff.Retry(context.Background(), operation)

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected the last operation error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_NonRetryablePredicateStopsEarly(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	fatal := errors.New("fatal error")
	attempts := 0
	operation := func() error {
		attempts++
		return fatal
	}

	err := backoff.RetryWithPredicate(context.Background(), operation, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	if !errors.Is(err, fatal) {
		t.Errorf("Expected the fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestBackoff_ContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	operation := func() error {
		attempts++
		cancel()
		return errors.New("keep retrying")
	}

	err := backoff.Retry(ctx, operation)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected retry loop to stop after cancellation, got %d attempts", attempts)
	}
}

func TestBackoff_DelayGrowthCappedAtMax(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	if d := backoff.GetNextDelay(1); d != 10*time.Millisecond {
		t.Errorf("Expected first delay of 10ms, got %v", d)
	}
	if d := backoff.GetNextDelay(2); d != 20*time.Millisecond {
		t.Errorf("Expected second delay of 20ms, got %v", d)
	}
	if d := backoff.GetNextDelay(3); d != 25*time.Millisecond {
		t.Errorf("Expected third delay capped at 25ms, got %v", d)
	}
	if d := backoff.GetNextDelay(10); d != 25*time.Millisecond {
		t.Errorf("Expected deep attempts capped at 25ms, got %v", d)
	}
}

func TestBackoff_JitterStaysWithinBounds(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	})

	// +/-25% of the 100ms base
	for i := 0; i < 20; i++ {
		d := backoff.GetNextDelay(1)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("Jittered delay %v outside expected bounds", d)
		}
	}
}
