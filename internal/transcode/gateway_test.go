package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/edvoice/internal/audio"
	"github.com/ent0n29/edvoice/internal/speech"
)

type stubTranscoder struct {
	calls int
	err   error
}

func (s *stubTranscoder) Transcode(_ context.Context, data []byte) ([]byte, string, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return append([]byte("mp3:"), data...), "audio/mpeg", nil
}

type stubTokens struct {
	forced int
	plain  int
	err    error
}

func (s *stubTokens) GetToken(_ context.Context, force bool) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if force {
		s.forced++
		return "fresh", nil
	}
	s.plain++
	return "cached", nil
}

type recognizeCall struct {
	token, contentType string
	body               []byte
}

type stubRecognizer struct {
	calls []recognizeCall
	errs  []error
}

func (s *stubRecognizer) Recognize(_ context.Context, token, contentType string, body []byte) (json.RawMessage, error) {
	s.calls = append(s.calls, recognizeCall{token, contentType, body})
	if i := len(s.calls) - 1; i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return json.RawMessage(`{"result":["ok"]}`), nil
}

func TestIsSupported(t *testing.T) {
	cases := map[string]bool{
		"audio/x-pcm;bit=16;rate=16000": true,
		"audio/ogg;codecs=opus":         true,
		"AUDIO/MPEG":                    true,
		"audio/flac":                    true,
		"audio/pcma":                    true,
		"audio/pcmu":                    true,
		"audio/g729":                    true,
		"audio/x-caf":                   false,
		"audio/webm;codecs=opus":        false,
		"audio/wav":                     false,
		"":                              false,
	}
	for ct, want := range cases {
		assert.Equal(t, want, IsSupported(ct), ct)
	}
}

func TestRecognizeTranscodesUnsupportedType(t *testing.T) {
	tc := &stubTranscoder{}
	rec := &stubRecognizer{}
	g := NewGateway(tc, &stubTokens{}, rec, nil, zerolog.Nop())

	raw, err := g.Recognize(context.Background(), "audio/x-caf", []byte("caf"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":["ok"]}`, string(raw))
	assert.Equal(t, 1, tc.calls)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "audio/mpeg", rec.calls[0].contentType)
	assert.Equal(t, []byte("mp3:caf"), rec.calls[0].body)
}

func TestRecognizeBypassesSupportedType(t *testing.T) {
	tc := &stubTranscoder{}
	rec := &stubRecognizer{}
	g := NewGateway(tc, &stubTokens{}, rec, nil, zerolog.Nop())

	_, err := g.Recognize(context.Background(), "audio/flac", []byte("flac"))
	require.NoError(t, err)
	assert.Zero(t, tc.calls)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "audio/flac", rec.calls[0].contentType)
	assert.Equal(t, "cached", rec.calls[0].token)
}

func TestRecognizeMissingContentTypeDefaultsToMPEG(t *testing.T) {
	tc := &stubTranscoder{}
	rec := &stubRecognizer{}
	g := NewGateway(tc, &stubTokens{}, rec, nil, zerolog.Nop())

	_, err := g.Recognize(context.Background(), "", []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, tc.calls)
	assert.Equal(t, "audio/mpeg", rec.calls[0].contentType)
}

func TestRecognizeRetriesOnceOnUnauthorized(t *testing.T) {
	tokens := &stubTokens{}
	rec := &stubRecognizer{errs: []error{&speech.UpstreamError{Service: "recognize", StatusCode: 401}}}
	g := NewGateway(&stubTranscoder{}, tokens, rec, nil, zerolog.Nop())

	_, err := g.Recognize(context.Background(), "audio/mpeg", []byte("x"))
	require.NoError(t, err)
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "cached", rec.calls[0].token)
	assert.Equal(t, "fresh", rec.calls[1].token)
	assert.Equal(t, 1, tokens.forced)
}

func TestRecognizeSurfacesUpstreamError(t *testing.T) {
	upstream := &speech.UpstreamError{Service: "recognize", StatusCode: 400, Body: "bad audio"}
	rec := &stubRecognizer{errs: []error{upstream}}
	g := NewGateway(&stubTranscoder{}, &stubTokens{}, rec, nil, zerolog.Nop())

	_, err := g.Recognize(context.Background(), "audio/mpeg", []byte("x"))
	var upErr *speech.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, 400, upErr.StatusCode)
	assert.Len(t, rec.calls, 1)
}

func TestRecognizeMissingTooling(t *testing.T) {
	tc := &stubTranscoder{err: &ToolingMissingError{Tool: "ffmpeg"}}
	rec := &stubRecognizer{}
	g := NewGateway(tc, &stubTokens{}, rec, nil, zerolog.Nop())

	_, err := g.Recognize(context.Background(), "audio/webm", []byte("x"))
	var missing *ToolingMissingError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, err.Error(), "ffmpeg not found")
	assert.Empty(t, rec.calls)
}

func TestFFmpegMissingBinary(t *testing.T) {
	_, _, err := FFmpeg{Path: "edvoice-missing-ffmpeg"}.Transcode(context.Background(), []byte("x"))
	var missing *audio.ToolingMissingError
	require.True(t, errors.As(err, &missing))
}
