package scheduler

import (
	"math"
	"math/rand"
	"time"

	"github.com/stufio-com/eventsched/internal/domain"
)

// RetryPolicy is the backoff shape for one classification (§7).
type RetryPolicy struct {
	// Retryable reports whether the worker should keep retrying at all.
	// Serialization, validation, and fatal never retry.
	Retryable bool
	// Linear, when true, grows the delay linearly in retryCount instead of
	// exponentially (used for the timeout classification's "limited linear
	// backoff").
	Linear bool
}

// PolicyFor maps a classification to its retry shape (§7's taxonomy table).
func PolicyFor(class domain.Classification) RetryPolicy {
	switch class {
	case domain.ClassTransientTransport, domain.ClassCircuitOpen:
		return RetryPolicy{Retryable: true}
	case domain.ClassTransientContention:
		// No retry this tick — the next natural tick re-scans and retries.
		return RetryPolicy{Retryable: false}
	case domain.ClassTimeout:
		return RetryPolicy{Retryable: true, Linear: true}
	case domain.ClassSerialization, domain.ClassValidation, domain.ClassFatal:
		return RetryPolicy{Retryable: false}
	default:
		return RetryPolicy{Retryable: false}
	}
}

// BackoffConfig carries the retry_base_ms/retry_multiplier/retry_max_ms/
// retry_jitter knobs from config.Config (§6) without an import cycle back to
// the config package.
type BackoffConfig struct {
	BaseMS     int64
	Multiplier float64
	MaxMS      int64
	Jitter     bool
}

// Backoff computes the delay before retry number retryCount+1: exponential
// (linear for the timeout classification), capped at MaxMS, then, when
// Jitter is set, shifted by a random amount in [-25%, +25%) of that delay —
// the same shape as the teacher's
// retryDelay in internal/scheduler/worker.go, generalized to the
// classification-driven policy from §7 instead of a fixed per-job backoff
// kind.
func Backoff(cfg BackoffConfig, class domain.Classification, retryCount int) time.Duration {
	policy := PolicyFor(class)

	base := time.Duration(cfg.BaseMS) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxMS) * time.Millisecond

	var delay time.Duration
	if policy.Linear {
		delay = base * time.Duration(retryCount+1)
	} else {
		mult := cfg.Multiplier
		if mult <= 0 {
			mult = 2
		}
		delay = time.Duration(float64(base) * math.Pow(mult, float64(retryCount)))
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if cfg.Jitter && delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
