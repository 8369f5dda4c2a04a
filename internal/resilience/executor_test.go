package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastConfig(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Hour,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) Classification {
		return Classification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, nil)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(fastConfig(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("operation must not run with a cancelled context")
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	errTemp := errors.New("temporary")
	for i := range 2 {
		err := exec.Execute(context.Background(), "analyze", func(context.Context) error {
			return errTemp
		}, nil)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}
	if got := exec.BreakerState("analyze"); got != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	err := exec.Execute(context.Background(), "analyze", func(context.Context) error {
		t.Fatal("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	if got := exec.BreakerState("ask"); got != gobreaker.StateClosed {
		t.Errorf("unrelated operation breaker = %v, want closed", got)
	}
}

func TestUnrecordedFailuresDoNotTrip(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	skip := func(error) Classification { return Classification{} }
	for range 5 {
		_ = exec.Execute(context.Background(), "op", func(context.Context) error {
			return context.Canceled
		}, skip)
	}
	if got := exec.BreakerState("op"); got != gobreaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed", got)
	}
}

func TestCallReturnsValue(t *testing.T) {
	exec := NewExecutor(fastConfig(true), nil)
	got, err := Call(context.Background(), exec, "op", func(context.Context) (string, error) {
		return "done", nil
	}, nil)
	if err != nil || got != "done" {
		t.Fatalf("Call() = %q, %v", got, err)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{RetryInitialBackoff: time.Minute, RetryMaxBackoff: time.Second}.normalize()
	def := DefaultConfig()
	if cfg.RetryMaxAttempts != def.RetryMaxAttempts {
		t.Errorf("RetryMaxAttempts = %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMaxBackoff != time.Minute {
		t.Errorf("RetryMaxBackoff = %v, want raised to initial backoff", cfg.RetryMaxBackoff)
	}
	if cfg.RetryAfterMax != def.RetryAfterMax {
		t.Errorf("RetryAfterMax = %v, want %v", cfg.RetryAfterMax, def.RetryAfterMax)
	}
	if cfg.BreakerFailureRatio != def.BreakerFailureRatio {
		t.Errorf("BreakerFailureRatio = %v", cfg.BreakerFailureRatio)
	}

	low := Config{RetryMaxBackoff: time.Minute, RetryAfterMax: time.Second}.normalize()
	if low.RetryAfterMax != time.Minute {
		t.Errorf("RetryAfterMax = %v, want raised to max backoff", low.RetryAfterMax)
	}
}

func TestExecuteHonoursRetryAfterUpToCap(t *testing.T) {
	cfg := fastConfig(false)
	cfg.RetryMaxAttempts = 2
	cfg.RetryAfterMax = 30 * time.Millisecond
	exec := NewExecutor(cfg, nil)

	var stamps []time.Time
	errSlow := errors.New("slow down")
	_ = exec.Execute(context.Background(), "op", func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errSlow
	}, func(error) Classification {
		return Classification{Retryable: true, RecordFailure: true, RetryAfter: time.Hour}
	})

	if len(stamps) != 2 {
		t.Fatalf("attempts = %d, want 2", len(stamps))
	}
	gap := stamps[1].Sub(stamps[0])
	if gap < 30*time.Millisecond {
		t.Errorf("gap = %v, want at least the capped Retry-After", gap)
	}
	if gap > 5*time.Second {
		t.Errorf("gap = %v, Retry-After was not capped", gap)
	}
}

func TestRetryWait(t *testing.T) {
	cfg := Config{RetryMaxBackoff: 8 * time.Second, RetryAfterMax: 30 * time.Second}
	tests := []struct {
		name       string
		backoff    time.Duration
		retryAfter time.Duration
		want       time.Duration
	}{
		{"no hint", 2 * time.Second, 0, 2 * time.Second},
		{"hint shorter than backoff", 4 * time.Second, time.Second, 4 * time.Second},
		{"hint beyond max backoff", time.Second, 20 * time.Second, 20 * time.Second},
		{"hint beyond cap", time.Second, time.Hour, 30 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := cfg.retryWait(tc.backoff, tc.retryAfter); got != tc.want {
				t.Errorf("retryWait(%v, %v) = %v, want %v", tc.backoff, tc.retryAfter, got, tc.want)
			}
		})
	}
}
