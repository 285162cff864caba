package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRandNoJitter(t *testing.T) {
	p := LLMRetryPolicy()
	got := ComputeWithRand(p, 1, 0)
	if got != 2*time.Second {
		t.Fatalf("expected 2s for attempt 1 with no jitter, got %v", got)
	}
	got = ComputeWithRand(p, 2, 0)
	if got != 4*time.Second {
		t.Fatalf("expected 4s for attempt 2 with no jitter, got %v", got)
	}
	got = ComputeWithRand(p, 3, 0)
	if got != 8*time.Second {
		t.Fatalf("expected 8s for attempt 3 with no jitter, got %v", got)
	}
}

func TestComputeClampsToMax(t *testing.T) {
	p := LLMRetryPolicy()
	got := ComputeWithRand(p, 10, 1)
	if got > 8*time.Second+800*time.Millisecond {
		t.Fatalf("expected clamp near MaxMs plus jitter, got %v", got)
	}
}
