package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	policy := Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}

	tests := []struct {
		name     string
		attempt  int
		random   float64
		expected time.Duration
	}{
		{"first attempt no jitter", 1, 0, time.Second},
		{"second attempt no jitter", 2, 0, 2 * time.Second},
		{"third attempt no jitter", 3, 0, 4 * time.Second},
		{"first attempt full jitter", 1, 1.0, 1100 * time.Millisecond},
		{"capped at max", 10, 0, 30 * time.Second},
		{"attempt zero clamps to first", 0, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(policy, tt.attempt, tt.random)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestForDelivery(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		expected   time.Duration
	}{
		{"first retry", 1, 5 * time.Second},
		{"second retry", 2, 25 * time.Second},
		{"third retry", 3, 2 * time.Minute},
		{"fourth retry", 4, 10 * time.Minute},
		{"past ladder end repeats last step", 5, 10 * time.Minute},
		{"way past ladder end", 100, 10 * time.Minute},
		{"zero clamps to first step", 0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForDelivery(tt.retryCount)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
