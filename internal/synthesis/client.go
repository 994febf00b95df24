package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/ttscache"
)

// TokenSource hands out bearer tokens; force bypasses the cached one.
type TokenSource interface {
	GetToken(ctx context.Context, force bool) (string, error)
}

// Synthesizer turns text into audio using a bearer token.
type Synthesizer interface {
	Synthesize(ctx context.Context, token, text string) ([]byte, error)
}

// AudioStore is the cache capability.
type AudioStore interface {
	Get(ctx context.Context, text string) ([]byte, bool)
	Put(ctx context.Context, text string, audio []byte) (ttscache.Entry, error)
}

// AuthFailure is implemented by errors that mean the token was rejected.
type AuthFailure interface {
	Unauthorized() bool
}

// SynthesisError reports a synthesis that failed, after the single auth retry if one applied.
type SynthesisError struct {
	Text string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type Result struct {
	Audio     []byte
	FromCache bool
}

// Client resolves text to audio through the cache, then the provider.
type Client struct {
	tokens TokenSource
	synth  Synthesizer
	cache  AudioStore
	logger zerolog.Logger
}

func NewClient(tokens TokenSource, synth Synthesizer, cache AudioStore, logger zerolog.Logger) *Client {
	return &Client{
		tokens: tokens,
		synth:  synth,
		cache:  cache,
		logger: observability.Component(logger, "synthesis"),
	}
}

// Synthesize returns audio for text. A 401 from the provider forces one token
// refresh and one retry; the second failure is returned as *SynthesisError.
func (c *Client) Synthesize(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &SynthesisError{Text: text, Err: errors.New("text is empty")}
	}
	if c.cache != nil {
		if audio, ok := c.cache.Get(ctx, text); ok {
			c.logger.Debug().Int("bytes", len(audio)).Msg("cache hit")
			return Result{Audio: audio, FromCache: true}, nil
		}
	}

	token, err := c.tokens.GetToken(ctx, false)
	if err != nil {
		return Result{}, err
	}
	audio, err := c.synth.Synthesize(ctx, token, text)
	if err != nil && isAuthFailure(err) {
		c.logger.Info().Msg("synthesis rejected token, refreshing once")
		token, err = c.tokens.GetToken(ctx, true)
		if err != nil {
			return Result{}, err
		}
		audio, err = c.synth.Synthesize(ctx, token, text)
	}
	if err != nil {
		return Result{}, &SynthesisError{Text: text, Err: err}
	}
	if len(audio) == 0 {
		return Result{}, &SynthesisError{Text: text, Err: errors.New("provider returned no audio")}
	}

	if c.cache != nil {
		if _, err := c.cache.Put(ctx, text, audio); err != nil {
			c.logger.Warn().Err(err).Msg("cache write failed")
		}
	}
	return Result{Audio: audio, FromCache: false}, nil
}

func isAuthFailure(err error) bool {
	var af AuthFailure
	return errors.As(err, &af) && af.Unauthorized()
}
