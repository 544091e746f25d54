package processor

import (
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}

	if got := policy.Delay(1); got != 1000*time.Millisecond {
		t.Fatalf("expected first delay 1000ms, got %s", got)
	}
	if got := policy.Delay(2); got != 2000*time.Millisecond {
		t.Fatalf("expected second delay 2000ms, got %s", got)
	}
	if got := policy.Delay(3); got != 4000*time.Millisecond {
		t.Fatalf("expected third delay 4000ms, got %s", got)
	}
}

func TestDelayIsCapped(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}

	if got := policy.Delay(10); got != 5*time.Second {
		t.Fatalf("expected capped delay 5s, got %s", got)
	}
}

func TestDelayHandlesDegenerateInput(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   0,
	}

	if got := policy.Delay(0); got != time.Second {
		t.Fatalf("expected clamp to first delay, got %s", got)
	}
	if got := policy.Delay(5); got != time.Second {
		t.Fatalf("expected flat delay with multiplier below 1, got %s", got)
	}
}
