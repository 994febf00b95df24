package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay server and the CLI client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string
	MaxUploadBytes   int64

	SpeechProvider    string
	SpeechAPIKey      string
	SpeechOAuthURL    string
	SpeechAPIBaseURL  string
	SpeechScope       string
	SpeechCAFile      string
	SpeechHTTPTimeout time.Duration

	FFmpegPath       string
	TranscodeBitrate string
	TranscodeTimeout time.Duration

	DatabaseURL string
	StateFile   string

	TokenRefreshBuffer      time.Duration
	TokenProactiveThreshold time.Duration
	TokenMonitorInterval    time.Duration
	TokenMonitorEnabled     bool

	CacheMaxItems int
	CacheMaxBytes int64
	CacheMaxAge   time.Duration

	RelayURL           string
	ChatWSURL          string
	ChatAuthToken      string
	PlaybackSampleRate int
	CaptureCommand     string
	CaptureMIME        string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "edvoice"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "console"),
		MaxUploadBytes:   25 << 20,
		SpeechProvider:   strings.ToLower(envOrDefault("SPEECH_PROVIDER", "auto")),
		SpeechAPIKey:     stringsTrimSpace("TTS_API_KEY"),
		SpeechOAuthURL:   envOrDefault("SPEECH_OAUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
		SpeechAPIBaseURL: strings.TrimRight(envOrDefault("SPEECH_API_BASE_URL", "https://smartspeech.sber.ru"), "/"),
		SpeechScope:      envOrDefault("SPEECH_SCOPE", "SALUTE_SPEECH_PERS"),
		SpeechCAFile:     stringsTrimSpace("SPEECH_CA_FILE"),
		FFmpegPath:       envOrDefault("FFMPEG_PATH", "ffmpeg"),
		TranscodeBitrate: envOrDefault("TRANSCODE_BITRATE", "192k"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		StateFile:        stringsTrimSpace("STATE_FILE"),
		CacheMaxItems:    100,
		CacheMaxBytes:    50 << 20,
		RelayURL:         strings.TrimRight(envOrDefault("RELAY_URL", "http://localhost:8080"), "/"),
		ChatWSURL:        envOrDefault("CHAT_WS_URL", "ws://localhost:8000/api/ai/"),
		ChatAuthToken:    stringsTrimSpace("CHAT_AUTH_TOKEN"),
		// Opus in ogg keeps the capture stream small and is accepted by the provider as is.
		CaptureCommand:          envOrDefault("CAPTURE_COMMAND", "ffmpeg -hide_banner -loglevel error -f pulse -i default -c:a libopus -f ogg pipe:1"),
		CaptureMIME:             envOrDefault("CAPTURE_MIME", "audio/ogg;codecs=opus"),
		PlaybackSampleRate:      24000,
		ShutdownTimeout:         15 * time.Second,
		SpeechHTTPTimeout:       30 * time.Second,
		TranscodeTimeout:        60 * time.Second,
		TokenRefreshBuffer:      2 * time.Minute,
		TokenProactiveThreshold: 5 * time.Minute,
		TokenMonitorInterval:    30 * time.Second,
		TokenMonitorEnabled:     true,
		CacheMaxAge:             7 * 24 * time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes, err = int64FromEnv("APP_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechHTTPTimeout, err = durationFromEnv("SPEECH_HTTP_TIMEOUT", cfg.SpeechHTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscodeTimeout, err = durationFromEnv("TRANSCODE_TIMEOUT", cfg.TranscodeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenRefreshBuffer, err = durationFromEnv("TOKEN_REFRESH_BUFFER", cfg.TokenRefreshBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenProactiveThreshold, err = durationFromEnv("TOKEN_PROACTIVE_THRESHOLD", cfg.TokenProactiveThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenMonitorInterval, err = durationFromEnv("TOKEN_MONITOR_INTERVAL", cfg.TokenMonitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenMonitorEnabled, err = boolFromEnv("TOKEN_MONITOR_ENABLED", cfg.TokenMonitorEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxItems, err = intFromEnv("CACHE_MAX_ITEMS", cfg.CacheMaxItems)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxBytes, err = int64FromEnv("CACHE_MAX_BYTES", cfg.CacheMaxBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMaxAge, err = durationFromEnv("CACHE_MAX_AGE", cfg.CacheMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackSampleRate, err = intFromEnv("PLAYBACK_SAMPLE_RATE", cfg.PlaybackSampleRate)
	if err != nil {
		return Config{}, err
	}

	switch cfg.SpeechProvider {
	case "auto", "salute", "mock":
	default:
		return Config{}, fmt.Errorf("SPEECH_PROVIDER must be one of auto, salute, mock")
	}
	if cfg.SpeechProvider == "salute" && cfg.SpeechAPIKey == "" {
		return Config{}, fmt.Errorf("TTS_API_KEY is required when SPEECH_PROVIDER=salute")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.TokenRefreshBuffer < 0 {
		return Config{}, fmt.Errorf("TOKEN_REFRESH_BUFFER must be >= 0")
	}
	if cfg.TokenMonitorInterval < time.Second {
		return Config{}, fmt.Errorf("TOKEN_MONITOR_INTERVAL must be at least 1s")
	}
	if cfg.CacheMaxItems <= 0 {
		return Config{}, fmt.Errorf("CACHE_MAX_ITEMS must be positive")
	}
	if cfg.CacheMaxBytes <= 0 {
		return Config{}, fmt.Errorf("CACHE_MAX_BYTES must be positive")
	}
	if cfg.PlaybackSampleRate < 8000 {
		return Config{}, fmt.Errorf("PLAYBACK_SAMPLE_RATE must be at least 8000")
	}

	return cfg, nil
}

// ResolvedProvider maps "auto" to a concrete provider name.
func (c Config) ResolvedProvider() string {
	if c.SpeechProvider != "auto" {
		return c.SpeechProvider
	}
	if c.SpeechAPIKey != "" {
		return "salute"
	}
	return "mock"
}

// ClientStateFile returns STATE_FILE or the per-user default used by the CLI.
func (c Config) ClientStateFile() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "edvoice", "state.json")
	}
	return filepath.Join(home, ".edvoice", "state.json")
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
