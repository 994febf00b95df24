package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
	"github.com/ent0n29/edvoice/internal/speech"
)

const maxResponseBytes = 64 << 20

// Client calls this system's own token, synthesize and recognize relays.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func New(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		logger:  observability.Component(logger, "relayclient"),
	}
}

// FetchToken asks the token relay for a fresh credential. ExpiresAt is returned in epoch ms.
func (c *Client) FetchToken(ctx context.Context) (speech.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts/token", nil)
	if err != nil {
		return speech.Token{}, err
	}
	req.Header.Set("Accept", protocol.ContentTypeJSON)
	body, err := c.do(req, observability.ServiceOAuth)
	if err != nil {
		return speech.Token{}, err
	}
	var tr protocol.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return speech.Token{}, fmt.Errorf("decode token relay response: %w", err)
	}
	if tr.AccessToken == "" {
		return speech.Token{}, errors.New("no token received")
	}
	return speech.Token{AccessToken: tr.AccessToken, ExpiresAt: speech.NormalizeExpiry(tr.ExpiresAt)}, nil
}

func (c *Client) Synthesize(ctx context.Context, token, text string) ([]byte, error) {
	payload, err := json.Marshal(protocol.SynthesizeRequest{Text: text, Token: token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", protocol.ContentTypeJSON)
	return c.do(req, observability.ServiceSynthesize)
}

// Recognize posts raw audio and returns the provider JSON as relayed.
func (c *Client) Recognize(ctx context.Context, contentType string, audio []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tts/recognize", bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", protocol.ContentTypeJSON)
	body, err := c.do(req, observability.ServiceRecognize)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("recognize relay returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

// TokenInfo reports the relay's own credential state.
func (c *Client) TokenInfo(ctx context.Context) (protocol.TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tts/token/info", nil)
	if err != nil {
		return protocol.TokenInfo{}, err
	}
	body, err := c.do(req, "token_info")
	if err != nil {
		return protocol.TokenInfo{}, err
	}
	var info protocol.TokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return protocol.TokenInfo{}, fmt.Errorf("decode token info: %w", err)
	}
	return info, nil
}

func (c *Client) do(req *http.Request, service string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s relay request: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s relay read response: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Str("service", service).Int("status", resp.StatusCode).Msg("relay error")
		return nil, &speech.UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: relayErrorText(body)}
	}
	return body, nil
}

// relayErrorText flattens a {error, details} body into one line.
func relayErrorText(body []byte) string {
	var er protocol.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return string(body)
	}
	if er.Details != "" {
		return er.Error + ": " + er.Details
	}
	return er.Error
}
