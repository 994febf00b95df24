package ttscache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/store"
)

const (
	DefaultMaxItems = 100
	DefaultMaxBytes = 50 << 20
	DefaultMaxAge   = 7 * 24 * time.Hour
)

// Entry is one synthesized clip as persisted under store.KeyCache.
type Entry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AudioData string `json:"audioData"`
	CreatedAt int64  `json:"createdAt"`
	Size      int64  `json:"size"`
}

type Stats struct {
	TotalItems int   `json:"totalItems"`
	TotalSize  int64 `json:"totalSize"`
	MaxSize    int64 `json:"maxSize"`
	MaxItems   int   `json:"maxItems"`
}

type Options struct {
	Store    store.Store
	MaxItems int
	MaxBytes int64
	MaxAge   time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Cache maps text to synthesized audio. Entries are kept newest first and
// evicted from the tail when the count or byte bound is exceeded.
type Cache struct {
	mu       sync.Mutex
	store    store.Store
	maxItems int
	maxBytes int64
	maxAge   time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func New(opts Options) *Cache {
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:    opts.Store,
		maxItems: opts.MaxItems,
		maxBytes: opts.MaxBytes,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
		logger:   observability.Component(opts.Logger, "ttscache"),
	}
}

// ContentID is "tts_" followed by the base36 magnitude of a 32-bit
// h = h*31 + unit hash over the UTF-16 code units of text.
func ContentID(text string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(text)) {
		h = (h << 5) - h + int32(u)
	}
	mag := int64(h)
	if mag < 0 {
		mag = -mag
	}
	return "tts_" + strconv.FormatInt(mag, 36)
}

// Get returns the cached audio for text. A corrupt payload is purged and reported as a miss.
func (c *Cache) Get(ctx context.Context, text string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load(ctx)
	id := ContentID(text)
	for i, e := range entries {
		if e.ID != id {
			continue
		}
		if e.Text != text || e.AudioData == "" {
			return nil, false
		}
		data, err := base64.StdEncoding.DecodeString(e.AudioData)
		if err != nil {
			c.logger.Warn().Str("id", id).Err(err).Msg("purging corrupt cache entry")
			entries = append(entries[:i:i], entries[i+1:]...)
			_ = c.save(ctx, entries)
			return nil, false
		}
		return data, true
	}
	return nil, false
}

// Put stores audio for text at the head, replacing any entry with the same id, then evicts.
func (c *Cache) Put(ctx context.Context, text string, audio []byte) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		ID:        ContentID(text),
		Text:      text,
		AudioData: base64.StdEncoding.EncodeToString(audio),
		CreatedAt: c.now().UnixMilli(),
		Size:      int64(len(audio)),
	}
	entries := c.load(ctx)
	next := make([]Entry, 0, len(entries)+1)
	next = append(next, entry)
	for _, e := range entries {
		if e.ID != entry.ID {
			next = append(next, e)
		}
	}
	next = c.evict(next)
	return entry, c.save(ctx, next)
}

func (c *Cache) evict(entries []Entry) []Entry {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	for len(entries) > 0 && (len(entries) > c.maxItems || total > c.maxBytes) {
		last := entries[len(entries)-1]
		entries = entries[:len(entries)-1]
		total -= last.Size
	}
	return entries
}

// PruneExpired drops entries older than the configured maximum age.
func (c *Cache) PruneExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load(ctx)
	cutoff := c.now().Add(-c.maxAge).UnixMilli()
	kept := entries[:0:0]
	for _, e := range entries {
		if e.CreatedAt >= cutoff {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	c.logger.Info().Int("removed", removed).Msg("pruned expired cache entries")
	return removed, c.save(ctx, kept)
}

func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load(ctx)
	s := Stats{TotalItems: len(entries), MaxSize: c.maxBytes, MaxItems: c.maxItems}
	for _, e := range entries {
		s.TotalSize += e.Size
	}
	return s
}

// Clear removes every cached entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, store.KeyCache)
}

func (c *Cache) load(ctx context.Context) []Entry {
	raw, ok, err := c.store.Get(ctx, store.KeyCache)
	if err != nil {
		c.logger.Error().Err(err).Msg("read cache")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.logger.Error().Err(err).Msg("decode cache")
		return nil
	}
	return entries
}

// save persists entries. When the write fails the stored cache is dropped entirely.
func (c *Cache) save(ctx context.Context, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err == nil {
		err = c.store.Set(ctx, store.KeyCache, string(raw))
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("write cache, clearing")
		if delErr := c.store.Delete(ctx, store.KeyCache); delErr != nil {
			c.logger.Error().Err(delErr).Msg("clear cache")
		}
		return err
	}
	return nil
}
