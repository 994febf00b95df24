package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/config"
	"github.com/ent0n29/edvoice/internal/httpapi"
	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/store"
	"github.com/ent0n29/edvoice/internal/tokens"
	"github.com/ent0n29/edvoice/internal/transcode"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Tokens   *tokens.Manager
	Gateway  *transcode.Gateway
	Metrics  *observability.Metrics
	Provider string
	Detail   string

	// Cleanup stops the token monitor and closes the store.
	Cleanup func() error
}

// Build wires the relay server. The token manager is restored from the store and monitored until Cleanup.
func Build(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*BuildResult, error) {
	setup, err := resolveSpeechProvider(cfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("speech provider init failed: %w", err)
	}

	kv, err := store.NewStore(ctx, cfg.DatabaseURL, cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("state store init failed: %w", err)
	}

	manager := tokens.NewManager(tokens.Options{
		Store:              kv,
		Fetcher:            setup.provider,
		RefreshBuffer:      cfg.TokenRefreshBuffer,
		ProactiveThreshold: cfg.TokenProactiveThreshold,
		MonitorInterval:    cfg.TokenMonitorInterval,
		FetchTimeout:       cfg.SpeechHTTPTimeout,
		Metrics:            metrics,
		Logger:             logger,
	})
	if err := manager.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("token restore failed")
	}
	if cfg.TokenMonitorEnabled {
		manager.Start(ctx)
	}

	gateway := transcode.NewGateway(
		transcode.FFmpeg{Path: cfg.FFmpegPath, Bitrate: cfg.TranscodeBitrate, Timeout: cfg.TranscodeTimeout},
		manager,
		setup.provider,
		metrics,
		logger,
	)

	api := httpapi.New(cfg, setup.provider, gateway, manager, readyCheck(kv), metrics, logger)

	cleanup := func() error {
		manager.Close()
		var errs []error
		if err := kv.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Tokens:   manager,
		Gateway:  gateway,
		Metrics:  metrics,
		Provider: setup.resolvedProvider,
		Detail:   setup.detail,
		Cleanup:  cleanup,
	}, nil
}

func readyCheck(kv store.Store) httpapi.ReadyCheck {
	pinger, ok := kv.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}
