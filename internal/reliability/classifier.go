package reliability

import (
	"math/rand/v2"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsAuthFailureStatus reports whether an upstream rejected the presented credential.
func IsAuthFailureStatus(code int) bool {
	return code == 401
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// JitteredBackoff spreads ExponentialBackoff uniformly over [d/2, d].
// jitter receives the half-width and returns a value in [0, n); nil uses math/rand.
func JitteredBackoff(attempt int, base, cap time.Duration, jitter func(n int64) int64) time.Duration {
	d := ExponentialBackoff(attempt, base, cap)
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	if jitter == nil {
		jitter = rand.Int64N
	}
	return time.Duration(half + jitter(half+1))
}
