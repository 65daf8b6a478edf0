package scheduler

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

func TestRetryPolicy_Delay(t *testing.T) {
	// Jitter pinned to its midpoint cancels out.
	p := RetryPolicy{Base: 30 * time.Second, Max: 10 * time.Minute, jitter: func(n int64) int64 { return n / 2 }}

	tests := []struct {
		name    string
		backoff domain.Backoff
		retries int
		want    time.Duration
	}{
		{"fixed first", domain.BackoffFixed, 0, 30 * time.Second},
		{"fixed later", domain.BackoffFixed, 5, 30 * time.Second},
		{"linear first", domain.BackoffLinear, 0, 30 * time.Second},
		{"linear third", domain.BackoffLinear, 2, 90 * time.Second},
		{"linear capped", domain.BackoffLinear, 100, 10 * time.Minute},
		{"exponential first", domain.BackoffExponential, 0, 30 * time.Second},
		{"exponential third", domain.BackoffExponential, 2, 2 * time.Minute},
		{"exponential capped", domain.BackoffExponential, 10, 10 * time.Minute},
		{"unknown is fixed", domain.Backoff("weird"), 3, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.backoff, tt.retries); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	low := RetryPolicy{Base: time.Minute, Max: time.Hour, jitter: func(int64) int64 { return 0 }}
	high := RetryPolicy{Base: time.Minute, Max: time.Hour, jitter: func(n int64) int64 { return n - 1 }}

	if got := low.Delay(domain.BackoffExponential, 1); got != 90*time.Second {
		t.Fatalf("expected -25%% to give 90s, got %s", got)
	}
	if got := high.Delay(domain.BackoffExponential, 1); got > 150*time.Second || got < 149*time.Second {
		t.Fatalf("expected just under +25%% (150s), got %s", got)
	}
	// Jitter never pushes past the cap.
	if got := high.Delay(domain.BackoffExponential, 20); got != time.Hour {
		t.Fatalf("expected cap of 1h, got %s", got)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	var p RetryPolicy
	if got := p.Delay(domain.BackoffFixed, 0); got != 30*time.Second {
		t.Fatalf("expected default base of 30s, got %s", got)
	}
	for i := 0; i < 20; i++ {
		if got := p.Delay(domain.BackoffExponential, 30); got > time.Hour {
			t.Fatalf("expected default cap of 1h, got %s", got)
		}
	}
}
