package speech

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
)

const maxResponseBytes = 64 << 20

type SaluteConfig struct {
	APIKey     string
	OAuthURL   string
	APIBaseURL string
	Scope      string
	HTTPClient *http.Client
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// SaluteClient talks to the SaluteSpeech OAuth and REST endpoints.
type SaluteClient struct {
	apiKey   string
	oauthURL string
	baseURL  string
	scope    string
	http     *http.Client
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewSaluteClient(cfg SaluteConfig) (*SaluteClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("TTS API key not configured")
	}
	if cfg.Scope == "" {
		cfg.Scope = "SALUTE_SPEECH_PERS"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SaluteClient{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		oauthURL: cfg.OAuthURL,
		baseURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		scope:    cfg.Scope,
		http:     cfg.HTTPClient,
		metrics:  cfg.Metrics,
		logger:   observability.Component(cfg.Logger, "speech"),
	}, nil
}

// NewHTTPClient builds a client that also trusts the PEM bundle at caFile, if set.
func NewHTTPClient(caFile string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if strings.TrimSpace(caFile) == "" {
		return client, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read SPEECH_CA_FILE: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("SPEECH_CA_FILE %s contains no certificates", caFile)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	client.Transport = transport
	return client, nil
}

func (c *SaluteClient) FetchToken(ctx context.Context) (Token, error) {
	form := url.Values{"scope": {c.scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", protocol.ContentTypeJSON)
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	body, err := c.do(req, observability.ServiceOAuth)
	if err != nil {
		return Token{}, err
	}
	var tr protocol.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, errors.New("no token received")
	}
	tok := Token{AccessToken: tr.AccessToken, ExpiresAt: NormalizeExpiry(tr.ExpiresAt)}
	c.logger.Debug().Time("expires_at", time.UnixMilli(tok.ExpiresAt)).Msg("token received")
	return tok, nil
}

func (c *SaluteClient) Synthesize(ctx context.Context, token, text string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/text:synthesize", strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/text")
	return c.do(req, observability.ServiceSynthesize)
}

func (c *SaluteClient) Recognize(ctx context.Context, token, contentType string, audio []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/speech:recognize", bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", protocol.ContentTypeJSON)
	body, err := c.do(req, observability.ServiceRecognize)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("recognize returned invalid JSON")
	}
	return json.RawMessage(body), nil
}

func (c *SaluteClient) do(req *http.Request, service string) ([]byte, error) {
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(service, time.Since(started), "transport")
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveUpstream(service, time.Since(started), "read")
		return nil, fmt.Errorf("%s read response: %w", service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveUpstream(service, time.Since(started), fmt.Sprint(resp.StatusCode))
		c.logger.Warn().Str("service", service).Int("status", resp.StatusCode).Msg("upstream error")
		return nil, &UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	}
	c.metrics.ObserveUpstream(service, time.Since(started), "")
	return body, nil
}
