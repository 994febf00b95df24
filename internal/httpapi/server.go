package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/audio"
	"github.com/ent0n29/edvoice/internal/config"
	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
	"github.com/ent0n29/edvoice/internal/speech"
	"github.com/ent0n29/edvoice/internal/tokens"
)

// Provider is the subset of the speech provider the relays proxy directly.
type Provider interface {
	FetchToken(ctx context.Context) (speech.Token, error)
	Synthesize(ctx context.Context, token, text string) ([]byte, error)
}

// Recognizer transcodes when needed and forwards audio to the provider.
type Recognizer interface {
	Recognize(ctx context.Context, contentType string, body []byte) (json.RawMessage, error)
}

// TokenInfoSource reports the relay's own credential state.
type TokenInfoSource interface {
	Info() protocol.TokenInfo
}

// ReadyCheck reports whether backing stores are reachable.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	cfg        config.Config
	provider   Provider
	recognizer Recognizer
	tokenInfo  TokenInfoSource
	ready      ReadyCheck
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func New(cfg config.Config, provider Provider, recognizer Recognizer, tokenInfo TokenInfoSource, ready ReadyCheck, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		provider:   provider,
		recognizer: recognizer,
		tokenInfo:  tokenInfo,
		ready:      ready,
		metrics:    metrics,
		logger:     observability.Component(logger, "httpapi"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/perf/latency", s.handlePerfLatency)

	r.Route("/api/tts", func(r chi.Router) {
		r.Post("/token", s.instrument("token", s.handleToken))
		r.Get("/token/info", s.handleTokenInfo)
		r.Post("/synthesize", s.instrument("synthesize", s.handleSynthesize))
		r.Post("/recognize", s.instrument("recognize", s.handleRecognize))
	})
	return r
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRelayRequest(route, status)
		s.logger.Debug().
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(started)).
			Msg("relay request")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.cfg.ResolvedProvider(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"provider": s.cfg.ResolvedProvider(),
	})
}

// handleToken proxies a fresh OAuth acquisition per request.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.provider.FetchToken(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("token generation failed")
		respondError(w, http.StatusInternalServerError, "token_failed", "Failed to generate token: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, protocol.TokenResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, _ *http.Request) {
	if s.tokenInfo == nil {
		respondJSON(w, http.StatusOK, protocol.TokenInfo{})
		return
	}
	respondJSON(w, http.StatusOK, s.tokenInfo.Info())
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req protocol.SynthesizeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Text and token are required")
		return
	}

	audioData, err := s.provider.Synthesize(r.Context(), req.Token, req.Text)
	if err != nil {
		var upErr *speech.UpstreamError
		if errors.As(err, &upErr) && upErr.Unauthorized() {
			respondErrorDetails(w, http.StatusUnauthorized, "unauthorized", "TTS request unauthorized", upErr.Body)
			return
		}
		s.logger.Error().Err(err).Msg("synthesis failed")
		respondError(w, http.StatusInternalServerError, "synthesis_failed", "Failed to synthesize speech")
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeWAV)
	w.Header().Set("Content-Length", strconv.Itoa(len(audioData)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audioData)
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "audio upload exceeds "+strconv.FormatInt(limit, 10)+" bytes")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "audio body is required")
		return
	}

	result, err := s.recognizer.Recognize(r.Context(), r.Header.Get("Content-Type"), body)
	if err != nil {
		s.respondRecognizeError(w, err)
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (s *Server) respondRecognizeError(w http.ResponseWriter, err error) {
	var (
		missing  *audio.ToolingMissingError
		decode   *audio.DecodeError
		upErr    *speech.UpstreamError
		tokenErr *tokens.TokenAcquisitionError
	)
	switch {
	case errors.As(err, &missing):
		s.logger.Error().Str("tool", missing.Tool).Msg("transcoder missing")
		respondError(w, http.StatusInternalServerError, "tooling_missing", missing.Error())
	case errors.As(err, &decode):
		respondErrorDetails(w, http.StatusInternalServerError, "transcode_failed", "Transcoding failed", decode.Details)
	case errors.As(err, &tokenErr):
		s.logger.Error().Err(err).Msg("recognize token acquisition failed")
		respondErrorDetails(w, http.StatusInternalServerError, "token_failed", "Failed to get token", tokenErr.Error())
	case errors.As(err, &upErr):
		respondErrorDetails(w, http.StatusBadGateway, "recognition_failed", "Recognition failed", upErr.Body)
	default:
		s.logger.Error().Err(err).Msg("recognize failed")
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", protocol.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Details: details, Code: code})
}
