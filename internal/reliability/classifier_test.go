package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsAuthFailureStatus(t *testing.T) {
	if !IsAuthFailureStatus(401) {
		t.Fatalf("IsAuthFailureStatus(401) = false, want true")
	}
	if IsAuthFailureStatus(403) {
		t.Fatalf("IsAuthFailureStatus(403) = true, want false")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestJitteredBackoffBounds(t *testing.T) {
	base := time.Second
	capDur := 30 * time.Second

	low := JitteredBackoff(3, base, capDur, func(int64) int64 { return 0 })
	if low != 4*time.Second {
		t.Fatalf("min jitter = %v, want %v", low, 4*time.Second)
	}
	high := JitteredBackoff(3, base, capDur, func(n int64) int64 { return n - 1 })
	if high != 8*time.Second {
		t.Fatalf("max jitter = %v, want %v", high, 8*time.Second)
	}

	for i := 0; i < 50; i++ {
		got := JitteredBackoff(20, base, capDur, nil)
		if got < capDur/2 || got > capDur {
			t.Fatalf("JitteredBackoff() = %v, want within [%v, %v]", got, capDur/2, capDur)
		}
	}
}
