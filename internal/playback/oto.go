//go:build !nocgo

package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ent0n29/edvoice/internal/audio"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		select {
		case <-ready:
			otoCtx, otoRate = ctx, sampleRate
		case <-time.After(5 * time.Second):
			otoErr = errors.New("audio context initialization timeout")
		}
	})
	return otoCtx, otoErr
}

// OtoPlayer decodes audio and plays it as mono PCM16LE on the default output device.
type OtoPlayer struct {
	sampleRate int
	decoder    audio.Decoder
}

func NewOtoPlayer(sampleRate int, decoder audio.Decoder) *OtoPlayer {
	return &OtoPlayer{sampleRate: sampleRate, decoder: decoder}
}

func (p *OtoPlayer) Load(ctx context.Context, data []byte) (Media, error) {
	octx, err := sharedContext(p.sampleRate)
	if err != nil {
		return nil, err
	}
	pcm, err := p.decoder.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	mono := audio.Downmix(audio.Resample(pcm, otoRate))
	if mono.Frames() == 0 {
		return nil, &audio.DecodeError{Details: "clip has no samples"}
	}
	raw := audio.EncodePCM16LE(mono.Channels[0])
	reader := &countingReader{r: bytes.NewReader(raw)}
	return &otoMedia{
		player:     octx.NewPlayer(reader),
		reader:     reader,
		total:      int64(len(raw)),
		bytesPerMS: float64(otoRate*2) / 1000,
		done:       make(chan error, 1),
		closed:     make(chan struct{}),
	}, nil
}

type countingReader struct {
	r    *bytes.Reader
	read atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read.Add(int64(n))
	return n, err
}

type otoMedia struct {
	player     *oto.Player
	reader     *countingReader
	total      int64
	bytesPerMS float64

	mu        sync.Mutex
	paused    bool
	watching  bool
	done      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (m *otoMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.player.Play()
	if !m.watching {
		m.watching = true
		go m.watch()
	}
	return nil
}

func (m *otoMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.player.Pause()
	return nil
}

func (m *otoMedia) Position() time.Duration {
	played := m.reader.read.Load() - int64(m.player.BufferedSize())
	if played < 0 {
		played = 0
	}
	return time.Duration(float64(played)/m.bytesPerMS) * time.Millisecond
}

func (m *otoMedia) Duration() time.Duration {
	return time.Duration(float64(m.total)/m.bytesPerMS) * time.Millisecond
}

func (m *otoMedia) Done() <-chan error { return m.done }

func (m *otoMedia) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		err = m.player.Close()
	})
	return err
}

// watch reports completion once the player has drained every byte.
func (m *otoMedia) watch() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			m.mu.Lock()
			paused := m.paused
			m.mu.Unlock()
			if paused || m.player.IsPlaying() {
				continue
			}
			if err := m.player.Err(); err != nil {
				m.done <- err
				return
			}
			if m.reader.read.Load() >= m.total && m.player.BufferedSize() == 0 {
				m.done <- nil
				return
			}
		}
	}
}
