package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/synthesis"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

var (
	ErrInvalidTransition = errors.New("invalid playback transition")
	ErrSuperseded        = errors.New("playback superseded by a newer request")
)

// Synthesizer resolves message text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (synthesis.Result, error)
}

// Player turns audio bytes into a playable media resource.
type Player interface {
	Load(ctx context.Context, audio []byte) (Media, error)
}

// Media is one loaded clip. Done delivers nil on natural completion or the playback error.
type Media interface {
	Play() error
	Pause() error
	Position() time.Duration
	Duration() time.Duration
	Done() <-chan error
	Close() error
}

type Snapshot struct {
	State     State   `json:"state"`
	MessageID string  `json:"message_id,omitempty"`
	LoadingID string  `json:"loading_id,omitempty"`
	Progress  float64 `json:"progress"`
}

type Event struct {
	Snapshot
	FromCache bool
	Err       error
}

// Controller drives at most one playback session at a time.
type Controller struct {
	synth            Synthesizer
	player           Player
	progressInterval time.Duration
	logger           zerolog.Logger

	mu        sync.Mutex
	state     State
	messageID string
	loadingID string
	progress  float64
	media     Media
	stop      chan struct{}
	gen       uint64

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func NewController(synth Synthesizer, player Player, progressInterval time.Duration, logger zerolog.Logger) *Controller {
	if progressInterval <= 0 {
		progressInterval = 100 * time.Millisecond
	}
	return &Controller{
		synth:            synth,
		player:           player,
		progressInterval: progressInterval,
		logger:           observability.Component(logger, "playback"),
		state:            StateIdle,
		subs:             make(map[int]func(Event)),
	}
}

// Subscribe registers fn for state changes. Notification order across subscribers is unspecified.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Play tears down any current session, synthesizes text and starts playback.
// It returns ErrSuperseded when a newer Play or Stop arrived while synthesizing.
func (c *Controller) Play(ctx context.Context, messageID, text string) error {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.state = StateLoading
	c.loadingID = messageID
	c.messageID = ""
	c.progress = 0
	loading := Event{Snapshot: c.snapshotLocked()}
	c.mu.Unlock()
	c.emit(loading)

	res, err := c.synth.Synthesize(ctx, text)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug().Str("message_id", messageID).Msg("discarding stale synthesis result")
		return ErrSuperseded
	}
	if err != nil {
		ev := c.failLocked(err)
		c.mu.Unlock()
		c.emit(ev)
		return err
	}

	media, err := c.player.Load(ctx, res.Audio)
	if err == nil {
		if err = media.Play(); err != nil {
			_ = media.Close()
		}
	}
	if err != nil {
		err = fmt.Errorf("start playback: %w", err)
		ev := c.failLocked(err)
		c.mu.Unlock()
		c.emit(ev)
		return err
	}

	stop := make(chan struct{})
	c.media = media
	c.stop = stop
	c.state = StatePlaying
	c.messageID = messageID
	c.loadingID = ""
	playing := Event{Snapshot: c.snapshotLocked(), FromCache: res.FromCache}
	c.mu.Unlock()

	c.emit(playing)
	go c.watch(gen, media, stop)
	return nil
}

// Pause is valid only while playing; the media resource is kept.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying || c.media == nil {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if err := c.media.Pause(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StatePaused
	ev := Event{Snapshot: c.snapshotLocked()}
	c.mu.Unlock()
	c.emit(ev)
	return nil
}

// Resume continues a paused session for messageID in place.
func (c *Controller) Resume(messageID string) error {
	c.mu.Lock()
	if c.state != StatePaused || c.media == nil || c.messageID != messageID {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if err := c.media.Play(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StatePlaying
	ev := Event{Snapshot: c.snapshotLocked()}
	c.mu.Unlock()
	c.emit(ev)
	return nil
}

// Toggle pauses, resumes or starts playback of messageID depending on the current session.
func (c *Controller) Toggle(ctx context.Context, messageID, text string) error {
	snap := c.Snapshot()
	switch {
	case snap.State == StatePlaying && snap.MessageID == messageID:
		return c.Pause()
	case snap.State == StatePaused && snap.MessageID == messageID:
		return c.Resume(messageID)
	default:
		return c.Play(ctx, messageID, text)
	}
}

// Stop releases any session and supersedes in-flight synthesis.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle
	c.teardownLocked()
	c.gen++
	c.state = StateIdle
	ev := Event{Snapshot: c.snapshotLocked()}
	c.mu.Unlock()
	if !wasIdle {
		c.emit(ev)
	}
}

func (c *Controller) watch(gen uint64, media Media, stop <-chan struct{}) {
	ticker := time.NewTicker(c.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case err := <-media.Done():
			c.mu.Lock()
			if gen != c.gen || c.media != media {
				c.mu.Unlock()
				return
			}
			c.teardownLocked()
			c.state = StateIdle
			ev := Event{Snapshot: c.snapshotLocked(), Err: err}
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Msg("playback error")
			}
			c.emit(ev)
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen != c.gen || c.state != StatePlaying {
				c.mu.Unlock()
				continue
			}
			c.progress = progressOf(media)
			ev := Event{Snapshot: c.snapshotLocked()}
			c.mu.Unlock()
			c.emit(ev)
		}
	}
}

func progressOf(m Media) float64 {
	d := m.Duration()
	if d <= 0 {
		return 0
	}
	p := float64(m.Position()) / float64(d)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (c *Controller) failLocked(err error) Event {
	c.teardownLocked()
	c.state = StateIdle
	c.loadingID = ""
	return Event{Snapshot: c.snapshotLocked(), Err: err}
}

// teardownLocked releases the held media resource, if any.
func (c *Controller) teardownLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.media != nil {
		if err := c.media.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close media")
		}
		c.media = nil
	}
	c.messageID = ""
	c.loadingID = ""
	c.progress = 0
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		MessageID: c.messageID,
		LoadingID: c.loadingID,
		Progress:  c.progress,
	}
}

func (c *Controller) emit(ev Event) {
	c.subMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
