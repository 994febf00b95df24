package speech

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/edvoice/internal/audio"
)

const mockSampleRate = 24000

// MockProvider is a local fallback used when no API key is configured.
// It synthesizes a short tone and always recognizes the same phrase.
type MockProvider struct {
	mu    sync.Mutex
	now   func() time.Time
	calls map[string]int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{now: time.Now, calls: make(map[string]int)}
}

func (p *MockProvider) FetchToken(context.Context) (Token, error) {
	p.count("token")
	return Token{
		AccessToken: "mock-" + p.now().UTC().Format("20060102T150405.000"),
		ExpiresAt:   p.now().Add(30 * time.Minute).UnixMilli(),
	}, nil
}

func (p *MockProvider) Synthesize(_ context.Context, _ string, text string) ([]byte, error) {
	p.count("synthesize")
	return audio.EncodeWAVPCM16LE(audio.EncodePCM16LE(tone(text)), mockSampleRate)
}

func (p *MockProvider) Recognize(_ context.Context, _ string, _ string, data []byte) (json.RawMessage, error) {
	p.count("recognize")
	if len(data) == 0 {
		return json.RawMessage(`{"result":[]}`), nil
	}
	return json.RawMessage(`{"result":["simulated voice input"]}`), nil
}

// Calls reports how many times op ("token", "synthesize", "recognize") was invoked.
func (p *MockProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *MockProvider) count(op string) {
	p.mu.Lock()
	p.calls[op]++
	p.mu.Unlock()
}

// tone renders a 440 Hz beep whose length grows with the word count.
func tone(text string) []float32 {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	seconds := math.Min(0.25*float64(words), 5)
	n := int(seconds * mockSampleRate)
	out := make([]float32, n)
	fade := mockSampleRate / 100
	for i := range out {
		amp := 0.3
		if i < fade {
			amp *= float64(i) / float64(fade)
		} else if n-i < fade {
			amp *= float64(n-i) / float64(fade)
		}
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/mockSampleRate))
	}
	return out
}
