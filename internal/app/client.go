package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/audio"
	"github.com/ent0n29/edvoice/internal/config"
	"github.com/ent0n29/edvoice/internal/playback"
	"github.com/ent0n29/edvoice/internal/recognition"
	"github.com/ent0n29/edvoice/internal/relayclient"
	"github.com/ent0n29/edvoice/internal/store"
	"github.com/ent0n29/edvoice/internal/synthesis"
	"github.com/ent0n29/edvoice/internal/tokens"
	"github.com/ent0n29/edvoice/internal/ttscache"
)

// Client is the voice stack used by the CLI: it talks to the relay and plays locally.
type Client struct {
	Config      config.Config
	Store       store.Store
	Relay       *relayclient.Client
	Tokens      *tokens.Manager
	Cache       *ttscache.Cache
	Synthesis   *synthesis.Client
	Playback    *playback.Controller
	Recognition *recognition.Controller
	Decoder     audio.Decoder
}

type ClientOptions struct {
	// Player overrides the audio device; nil uses the oto player.
	Player playback.Player
	// Capture overrides the microphone; nil uses CAPTURE_COMMAND.
	Capture recognition.Capture
	// StartMonitor runs the proactive token renewal loop.
	StartMonitor bool
	// SkipPrune leaves expired cache entries in place at startup.
	SkipPrune bool
}

func BuildClient(ctx context.Context, cfg config.Config, opts ClientOptions, logger zerolog.Logger) (*Client, error) {
	kv, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.ClientStateFile())
	if err != nil {
		return nil, fmt.Errorf("state store init failed: %w", err)
	}

	relay := relayclient.New(cfg.RelayURL, &http.Client{Timeout: cfg.SpeechHTTPTimeout * 2}, logger)
	manager := tokens.NewManager(tokens.Options{
		Store:              kv,
		Fetcher:            relay,
		RefreshBuffer:      cfg.TokenRefreshBuffer,
		ProactiveThreshold: cfg.TokenProactiveThreshold,
		MonitorInterval:    cfg.TokenMonitorInterval,
		FetchTimeout:       cfg.SpeechHTTPTimeout,
		Logger:             logger,
	})
	if err := manager.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("token restore failed")
	}
	if opts.StartMonitor && cfg.TokenMonitorEnabled {
		manager.Start(ctx)
	}

	cache := ttscache.New(ttscache.Options{
		Store:    kv,
		MaxItems: cfg.CacheMaxItems,
		MaxBytes: cfg.CacheMaxBytes,
		MaxAge:   cfg.CacheMaxAge,
		Logger:   logger,
	})
	if !opts.SkipPrune {
		if _, err := cache.PruneExpired(ctx); err != nil {
			logger.Warn().Err(err).Msg("cache prune failed")
		}
	}

	decoder := audio.DefaultDecoder(cfg.FFmpegPath, cfg.TranscodeTimeout)
	synth := synthesis.NewClient(manager, relay, cache, logger)

	player := opts.Player
	if player == nil {
		player = playback.NewOtoPlayer(cfg.PlaybackSampleRate, decoder)
	}
	capture := opts.Capture
	if capture == nil && cfg.CaptureCommand != "" {
		capture = recognition.NewCommandCapture(cfg.CaptureCommand, cfg.CaptureMIME, logger)
	}

	return &Client{
		Config:      cfg,
		Store:       kv,
		Relay:       relay,
		Tokens:      manager,
		Cache:       cache,
		Synthesis:   synth,
		Playback:    playback.NewController(synth, player, 0, logger),
		Recognition: recognition.NewController(capture, decoder, relay, logger),
		Decoder:     decoder,
	}, nil
}

// Close releases playback, any recording, the token monitor and the store.
func (c *Client) Close() error {
	c.Playback.Stop()
	c.Recognition.Cancel()
	c.Tokens.Close()
	return errors.Join(c.Store.Close())
}
