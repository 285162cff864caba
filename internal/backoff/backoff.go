// Package backoff computes exponential retry delays with jitter, used by
// the LLMProvider wrapper for 429/5xx retries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff.
type Policy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// LLMRetryPolicy matches spec §5's default LLM retry schedule: 2s/4s/8s.
func LLMRetryPolicy() Policy {
	return Policy{InitialMs: 2000, MaxMs: 8000, Factor: 2, Jitter: 0.1}
}

// Compute returns the backoff duration for attempt (1-indexed).
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) //nolint:gosec // jitter, not security-sensitive
}

// ComputeWithRand is Compute with an injected random value in [0,1) for
// deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}
