package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "chatsync/internal/errors"
	"chatsync/internal/models"
)

func fastBackoff(attempts int) *Backoff {
	return NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       false,
	})
}

func retryable(msg string) error {
	return apperrors.WrapRetryable(errors.New(msg), apperrors.ErrCodeRemoteFetch, "remote fetch failed")
}

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	if config.InitialDelay != 200*time.Millisecond {
		t.Errorf("Expected initial delay of 200ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected max delay of 5s, got %v", config.MaxDelay)
	}
	if config.MaxAttempts != 3 {
		t.Errorf("Expected max attempts of 3, got %v", config.MaxAttempts)
	}
	if !config.Jitter {
		t.Error("Expected jitter to be enabled")
	}
}

func TestFromConfig(t *testing.T) {
	config := FromConfig(models.RetryConfig{InitialBackoffMs: 50, MaxBackoffMs: 1000, MaxAttempts: 7})
	if config.InitialDelay != 50*time.Millisecond || config.MaxDelay != time.Second || config.MaxAttempts != 7 {
		t.Errorf("Unexpected config %+v", config)
	}

	defaults := FromConfig(models.RetryConfig{})
	if defaults != DefaultBackoffConfig() {
		t.Errorf("Expected defaults for zero config, got %+v", defaults)
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := fastBackoff(3).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := fastBackoff(3).Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return retryable("503")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	malformed := apperrors.NewMalformedInputError("id", "missing id")
	err := fastBackoff(5).Retry(context.Background(), func() error {
		attempts++
		return malformed
	})

	if !errors.Is(err, malformed) {
		t.Errorf("Expected malformed input error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	attempts := 0
	expected := retryable("persistent")
	err := fastBackoff(2).Retry(context.Background(), func() error {
		attempts++
		return expected
	})

	if !errors.Is(err, expected) {
		t.Errorf("Expected persistent error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestBackoff_RetryWithPredicate(t *testing.T) {
	attempts := 0
	err := fastBackoff(4).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return errors.New("plain error")
	}, func(error) bool { return true })

	if err == nil {
		t.Error("Expected an error")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

func TestBackoff_ContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := backoff.Retry(ctx, func() error {
		attempts++
		return retryable("slow")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_ExponentialIncreaseAndCap(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
	})

	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}
	for i, want := range expected {
		if got := backoff.Delay(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}

	if got := backoff.Delay(0); got != 10*time.Millisecond {
		t.Errorf("Expected attempt 0 to use the initial delay, got %v", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := backoff.Delay(1)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("Delay %v outside jitter bounds", d)
		}
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled, got %v", err)
	}
	if err := Sleep(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled for zero delay on done context, got %v", err)
	}
}
