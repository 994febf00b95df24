package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/edvoice/internal/reliability"
)

// Provider is the speech cloud capability: bearer tokens, synthesis and recognition.
type Provider interface {
	// FetchToken acquires a fresh bearer token. ExpiresAt is in epoch milliseconds.
	FetchToken(ctx context.Context) (Token, error)
	// Synthesize returns WAV audio for text.
	Synthesize(ctx context.Context, token, text string) ([]byte, error)
	// Recognize forwards audio of a supported content type and returns the provider JSON verbatim.
	Recognize(ctx context.Context, token, contentType string, audio []byte) (json.RawMessage, error)
}

type Token struct {
	AccessToken string
	ExpiresAt   int64
}

// UpstreamError carries a non-2xx provider response.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s upstream returned %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s upstream returned %d: %s", e.Service, e.StatusCode, body)
}

func (e *UpstreamError) Retryable() bool { return reliability.IsRetryableHTTPStatus(e.StatusCode) }

func (e *UpstreamError) Unauthorized() bool { return reliability.IsAuthFailureStatus(e.StatusCode) }

// NormalizeExpiry converts an expires_at value to epoch milliseconds.
// Values below 10^12 are treated as seconds.
func NormalizeExpiry(v int64) int64 {
	if v > 0 && v < 1_000_000_000_000 {
		return v * 1000
	}
	return v
}
