package util

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(retries int) *RetryConfig {
	return &RetryConfig{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	res := Retry(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.LastError != nil || res.Attempts != 3 {
		t.Errorf("Retry() = %+v", res)
	}
}

func TestRetryExhausts(t *testing.T) {
	res := Retry(context.Background(), fastConfig(2), func() error { return errors.New("down") })
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("LastError = %v", res.LastError)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	denied := errors.New("access denied")
	res := Retry(context.Background(), fastConfig(5), func() error { return MarkNonRetryable(denied) })
	if res.Attempts != 1 || !errors.Is(res.LastError, denied) {
		t.Errorf("Retry() = %+v", res)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxRetries: -1, BaseDelay: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Retry(ctx, cfg, func() error { return errors.New("down") })
	if !errors.Is(res.LastError, ErrContextCanceled) {
		t.Errorf("LastError = %v", res.LastError)
	}
}

func TestCalculateDelayClamps(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	if d := calculateDelay(cfg, 1); d != time.Second {
		t.Errorf("attempt 1 delay = %v", d)
	}
	if d := calculateDelay(cfg, 5); d != 3*time.Second {
		t.Errorf("attempt 5 delay = %v", d)
	}
}

func TestGoTrackedRecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	var ran atomic.Bool
	GoTracked(&wg, "panicky", func() {
		ran.Store(true)
		panic("boom")
	})
	wg.Wait()
	if !ran.Load() {
		t.Error("function did not run")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGoWithName("worker", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
