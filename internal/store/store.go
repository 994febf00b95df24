package store

import (
	"context"
	"strings"
)

// Fixed keys shared by the token manager and the audio cache.
const (
	KeyToken     = "tts_token"
	KeyExpiresAt = "tts_expires_at"
	KeyCache     = "tts_audio_cache"
)

// Store is a durable string key-value capability.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewStore picks postgres when databaseURL is set, then a JSON file, then memory.
func NewStore(ctx context.Context, databaseURL, filePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(filePath) != "" {
		return NewFileStore(filePath)
	}
	return NewInMemoryStore(), nil
}
