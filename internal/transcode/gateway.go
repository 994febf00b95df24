package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/audio"
	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
	"github.com/ent0n29/edvoice/internal/speech"
)

// ToolingMissingError names the transcoder executable that could not be found.
type ToolingMissingError = audio.ToolingMissingError

// DefaultContentType is assumed when an upload carries no Content-Type.
const DefaultContentType = protocol.ContentTypeMP3

var supportedTypes = []string{
	"audio/x-pcm",
	"audio/ogg",
	"audio/mpeg",
	"audio/flac",
	"audio/pcma",
	"audio/pcmu",
	"audio/g729",
}

// IsSupported reports whether the provider accepts contentType without transcoding.
func IsSupported(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, s := range supportedTypes {
		if strings.HasPrefix(ct, s) {
			return true
		}
	}
	return false
}

// Transcoder converts arbitrary audio into a provider-supported format.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte) ([]byte, string, error)
}

// FFmpeg transcodes to MP3 by piping through an ffmpeg subprocess.
type FFmpeg struct {
	Path    string
	Bitrate string
	Timeout time.Duration
}

func (f FFmpeg) Transcode(ctx context.Context, data []byte) ([]byte, string, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	bitrate := f.Bitrate
	if bitrate == "" {
		bitrate = "192k"
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0", "-f", "mp3", "-b:a", bitrate, "pipe:1"}
	out, err := audio.RunFilter(ctx, path, args, data, f.Timeout)
	if err != nil {
		return nil, "", err
	}
	if len(out) == 0 {
		return nil, "", &audio.DecodeError{Format: "ffmpeg", Details: "transcoder produced no output"}
	}
	return out, protocol.ContentTypeMP3, nil
}

// TokenSource hands out bearer tokens; force skips any cached value.
type TokenSource interface {
	GetToken(ctx context.Context, force bool) (string, error)
}

// Recognizer is the provider's recognition endpoint.
type Recognizer interface {
	Recognize(ctx context.Context, token, contentType string, audio []byte) (json.RawMessage, error)
}

// Gateway bridges uploaded audio to the recognition provider.
type Gateway struct {
	transcoder Transcoder
	tokens     TokenSource
	recognizer Recognizer
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewGateway(transcoder Transcoder, tokens TokenSource, recognizer Recognizer, metrics *observability.Metrics, logger zerolog.Logger) *Gateway {
	return &Gateway{
		transcoder: transcoder,
		tokens:     tokens,
		recognizer: recognizer,
		metrics:    metrics,
		logger:     observability.Component(logger, "transcode"),
	}
}

// Recognize transcodes body when its type is unsupported, then forwards it.
// An upstream 401 triggers one forced token refresh and a single retry.
func (g *Gateway) Recognize(ctx context.Context, contentType string, body []byte) (json.RawMessage, error) {
	if strings.TrimSpace(contentType) == "" {
		contentType = DefaultContentType
	}
	payload, payloadType := body, contentType
	if !IsSupported(contentType) {
		started := time.Now()
		out, outType, err := g.transcoder.Transcode(ctx, body)
		g.metrics.ObserveUpstream(observability.ServiceTranscode, time.Since(started), "")
		if err != nil {
			g.metrics.ObserveTranscode("error")
			g.logger.Error().Err(err).Str("content_type", contentType).Msg("transcoding failed")
			return nil, err
		}
		g.metrics.ObserveTranscode("ok")
		g.logger.Debug().Str("from", contentType).Str("to", outType).Int("bytes", len(out)).Msg("transcoded upload")
		payload, payloadType = out, outType
	}

	token, err := g.tokens.GetToken(ctx, false)
	if err != nil {
		return nil, err
	}
	result, err := g.recognizer.Recognize(ctx, token, payloadType, payload)
	var upErr *speech.UpstreamError
	if err != nil && errors.As(err, &upErr) && upErr.Unauthorized() {
		g.logger.Info().Msg("recognize rejected token, refreshing once")
		token, err = g.tokens.GetToken(ctx, true)
		if err != nil {
			return nil, err
		}
		result, err = g.recognizer.Recognize(ctx, token, payloadType, payload)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
