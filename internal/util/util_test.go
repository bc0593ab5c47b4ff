package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	errUnknown := errors.New("unknown symbol")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(errUnknown)
	})

	if !errors.Is(err, errUnknown) {
		t.Fatalf("Retry returned %v, want %v", err, errUnknown)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("boom") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should use the initial token: %v", err)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl != nil {
		t.Fatal("NewRateLimiter(0) should return nil (unlimited)")
	}
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("nil limiter Wait returned %v", err)
		}
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	rl := NewRateLimiter(1200) // one every 50ms
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 waits took %v, want >= ~100ms at 1200/min", elapsed)
	}
}

func TestStaggerRange(t *testing.T) {
	s := NewStagger(30*time.Millisecond, 10*time.Millisecond)
	for i := 0; i < 50; i++ {
		d := s.Next()
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Fatalf("Next() = %v, want within [10ms, 30ms]", d)
		}
	}

	var disabled *Stagger
	if d := disabled.Next(); d != 0 {
		t.Errorf("nil Stagger Next() = %v, want 0", d)
	}
	if d := NewStagger(0, 0).Next(); d != 0 {
		t.Errorf("zero Stagger Next() = %v, want 0", d)
	}
}

func TestCalendarHelpers(t *testing.T) {
	ts := time.Date(2024, 6, 10, 15, 4, 5, 0, time.FixedZone("ET", -4*3600))
	if got := FormatDay(Day(ts)); got != "2024-06-10" {
		t.Errorf("Day() = %s, want 2024-06-10", got)
	}

	d, err := ParseDay("2024-06-10")
	if err != nil {
		t.Fatal(err)
	}
	if got := FormatDay(AddDays(d, -5)); got != "2024-06-05" {
		t.Errorf("AddDays(-5) = %s, want 2024-06-05", got)
	}
	if got := FormatDay(AddDays(d, -10)); got != "2024-05-31" {
		t.Errorf("AddDays(-10) = %s, want 2024-05-31", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", "json", &buf)
	log.Info("hidden")
	log.Warn("shown", "ticker", "AAPL")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"ticker":"AAPL"`) {
		t.Errorf("json output missing ticker attr: %s", out)
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should map to info")
	}
}
