package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/edvoice/internal/audio"
	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
)

// Recognizer posts raw audio to the recognition relay.
type Recognizer interface {
	Recognize(ctx context.Context, contentType string, audio []byte) (json.RawMessage, error)
}

// Controller runs one recording at a time and turns it into a transcript.
type Controller struct {
	capture    Capture
	decoder    audio.Decoder
	recognizer Recognizer
	logger     zerolog.Logger

	mu  sync.Mutex
	rec *recording
}

type recording struct {
	mime      string
	stream    Stream
	chunks    [][]byte
	collected chan struct{}
}

// NewController accepts a nil capture for hosts without a microphone; Start then fails.
func NewController(capture Capture, decoder audio.Decoder, recognizer Recognizer, logger zerolog.Logger) *Controller {
	return &Controller{
		capture:    capture,
		decoder:    decoder,
		recognizer: recognizer,
		logger:     observability.Component(logger, "recognition"),
	}
}

// Start begins capturing and returns the selected encoding.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec != nil {
		return "", ErrAlreadyRecording
	}
	if c.capture == nil {
		return "", &CaptureUnavailableError{Reason: "no capture device on this host"}
	}
	mime := SelectMIMEType(c.capture)
	stream, err := c.capture.Start(ctx, mime)
	if err != nil {
		var unavailable *CaptureUnavailableError
		if errors.As(err, &unavailable) {
			return "", err
		}
		return "", &CaptureUnavailableError{Err: err}
	}
	rec := &recording{mime: mime, stream: stream, collected: make(chan struct{})}
	go func() {
		defer close(rec.collected)
		for chunk := range stream.Chunks() {
			if len(chunk) > 0 {
				rec.chunks = append(rec.chunks, chunk)
			}
		}
	}()
	c.rec = rec
	c.logger.Info().Str("mime", mime).Msg("recording started")
	return mime, nil
}

// Recording reports whether a capture is active.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Stop ends the recording and returns its transcript. An unrecognized response yields "".
func (c *Controller) Stop(ctx context.Context) (string, error) {
	data, err := c.Finish()
	if err != nil {
		return "", err
	}
	return c.Transcribe(ctx, data)
}

// Finish ends the recording and returns the captured container bytes without posting them.
func (c *Controller) Finish() ([]byte, error) {
	rec, err := c.finish()
	if err != nil {
		return nil, err
	}
	data := bytes.Join(rec.chunks, nil)
	c.logger.Debug().Int("bytes", len(data)).Int("chunks", len(rec.chunks)).Msg("recording stopped")
	return data, nil
}

// Cancel discards the active recording, if any.
func (c *Controller) Cancel() {
	if _, err := c.finish(); err != nil && !errors.Is(err, ErrNotRecording) {
		c.logger.Warn().Err(err).Msg("cancel recording")
	}
}

func (c *Controller) finish() (*recording, error) {
	c.mu.Lock()
	rec := c.rec
	c.rec = nil
	c.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}
	stopErr := rec.stream.Stop()
	<-rec.collected
	if stopErr != nil {
		return nil, &RecognitionError{Stage: "capture", Err: stopErr}
	}
	return rec, nil
}

// Transcribe converts recorded audio to 16 kHz mono PCM16LE, posts it and parses the transcript.
func (c *Controller) Transcribe(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &RecognitionError{Stage: "capture", Err: errors.New("no audio captured")}
	}
	pcm, err := audio.ToRecognitionPCM(ctx, c.decoder, data)
	if err != nil {
		return "", &RecognitionError{Stage: "decode", Err: err}
	}
	raw, err := c.recognizer.Recognize(ctx, protocol.PCMContentType(audio.RecognitionSampleRate), pcm)
	if err != nil {
		return "", &RecognitionError{Stage: "relay", Err: err}
	}
	transcript := protocol.ParseTranscript(raw)
	c.logger.Debug().Int("chars", len(transcript)).Msg("transcript received")
	return transcript, nil
}
