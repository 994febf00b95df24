package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/config"
	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/speech"
)

type providerSetup struct {
	provider         speech.Provider
	resolvedProvider string
	detail           string
}

func resolveSpeechProvider(cfg config.Config, metrics *observability.Metrics, logger zerolog.Logger) (providerSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if mode == "" {
		mode = "auto"
	}

	trySalute := func() (providerSetup, error) {
		httpClient, err := speech.NewHTTPClient(cfg.SpeechCAFile, cfg.SpeechHTTPTimeout)
		if err != nil {
			return providerSetup{}, err
		}
		p, err := speech.NewSaluteClient(speech.SaluteConfig{
			APIKey:     cfg.SpeechAPIKey,
			OAuthURL:   cfg.SpeechOAuthURL,
			APIBaseURL: cfg.SpeechAPIBaseURL,
			Scope:      cfg.SpeechScope,
			HTTPClient: httpClient,
			Metrics:    metrics,
			Logger:     logger,
		})
		if err != nil {
			return providerSetup{}, err
		}
		return providerSetup{provider: p, resolvedProvider: "salute", detail: "salute speech (" + cfg.SpeechAPIBaseURL + ")"}, nil
	}
	mock := providerSetup{provider: speech.NewMockProvider(), resolvedProvider: "mock", detail: "mock (generated tones)"}

	switch mode {
	case "salute":
		return trySalute()
	case "mock":
		return mock, nil
	case "auto":
		if strings.TrimSpace(cfg.SpeechAPIKey) == "" {
			mock.detail = "mock (TTS_API_KEY not set)"
			return mock, nil
		}
		return trySalute()
	default:
		return providerSetup{}, fmt.Errorf("invalid SPEECH_PROVIDER: %q (expected auto|salute|mock)", cfg.SpeechProvider)
	}
}
