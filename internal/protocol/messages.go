package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Relay content types.
const (
	ContentTypeJSON = "application/json"
	ContentTypeWAV  = "audio/wav"
	ContentTypeMP3  = "audio/mpeg"
)

var (
	ErrMissingText  = errors.New("text is required")
	ErrMissingToken = errors.New("token is required")
)

// TokenResponse is returned by the OAuth endpoint and by the token relay.
// ExpiresAt is in the unit the producer chose; consumers normalize it.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// SynthesizeRequest is the body of POST /api/tts/synthesize.
type SynthesizeRequest struct {
	Text  string `json:"text"`
	Token string `json:"token"`
}

func (r SynthesizeRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrMissingText
	}
	if strings.TrimSpace(r.Token) == "" {
		return ErrMissingToken
	}
	return nil
}

// ErrorResponse is the JSON body every relay failure carries.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// TokenInfo describes the credential held by a token manager.
type TokenInfo struct {
	HasToken    bool  `json:"has_token"`
	Valid       bool  `json:"valid"`
	ExpiresAt   int64 `json:"expires_at,omitempty"`
	ExpiresInMS int64 `json:"expires_in_ms,omitempty"`
}

// PCMContentType describes raw mono PCM16LE audio at the given rate.
func PCMContentType(sampleRate int) string {
	return fmt.Sprintf("audio/x-pcm;bit=16;rate=%d", sampleRate)
}
