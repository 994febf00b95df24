package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/edvoice/internal/audio"
)

func newTestClient(t *testing.T, handler http.Handler) *SaluteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewSaluteClient(SaluteConfig{
		APIKey:     "YmFzaWM=",
		OAuthURL:   srv.URL + "/api/v2/oauth",
		APIBaseURL: srv.URL,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestFetchTokenSendsOAuthContract(t *testing.T) {
	var rqUIDs []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/oauth", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Basic YmFzaWM=", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "scope=SALUTE_SPEECH_PERS", string(body))
		rqUIDs = append(rqUIDs, r.Header.Get("RqUID"))
		_, _ = io.WriteString(w, `{"access_token":"abc","expires_at":1700000000}`)
	}))

	for i := 0; i < 2; i++ {
		tok, err := c.FetchToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok.AccessToken)
		assert.Equal(t, int64(1700000000000), tok.ExpiresAt, "seconds are normalized to ms")
	}
	require.Len(t, rqUIDs, 2)
	assert.NotEqual(t, rqUIDs[0], rqUIDs[1], "RqUID is fresh per call")
	_, err := uuid.Parse(rqUIDs[0])
	assert.NoError(t, err)
}

func TestFetchTokenUpstreamError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	_, err := c.FetchToken(context.Background())

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
	assert.True(t, upErr.Unauthorized())
	assert.False(t, upErr.Retryable())
	assert.Contains(t, upErr.Body, "bad credentials")
}

func TestSynthesizeSendsRawText(t *testing.T) {
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 8), 24000)
	require.NoError(t, err)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/text:synthesize", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/text", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "Привет", string(body))
		_, _ = w.Write(wav)
	}))

	got, err := c.Synthesize(context.Background(), "tok", "Привет")
	require.NoError(t, err)
	assert.Equal(t, wav, got)
}

func TestRecognizeReturnsJSONVerbatim(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/rest/v1/speech:recognize", r.URL.Path)
		assert.Equal(t, "audio/ogg;codecs=opus", r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"result":["hello"],"emotions":[]}`)
	}))

	raw, err := c.Recognize(context.Background(), "tok", "audio/ogg;codecs=opus", []byte{1, 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":["hello"],"emotions":[]}`, string(raw))
	assert.EqualValues(t, 1, hits.Load())
}

func TestNewSaluteClientRequiresKey(t *testing.T) {
	_, err := NewSaluteClient(SaluteConfig{})
	assert.Error(t, err)
}

func TestNormalizeExpiry(t *testing.T) {
	assert.Equal(t, int64(1700000000000), NormalizeExpiry(1700000000))
	assert.Equal(t, int64(1700000000123), NormalizeExpiry(1700000000123))
	assert.Equal(t, int64(0), NormalizeExpiry(0))
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	tok, err := p.FetchToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	wav, err := p.Synthesize(context.Background(), tok.AccessToken, "two words")
	require.NoError(t, err)
	pcm, err := audio.WAVDecoder{}.Decode(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, 24000, pcm.SampleRate)
	assert.Equal(t, 12000, pcm.Frames())

	raw, err := p.Recognize(context.Background(), tok.AccessToken, "audio/x-pcm;bit=16;rate=16000", []byte{0, 0})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "simulated voice input")
	assert.Equal(t, 1, p.Calls("synthesize"))
}
