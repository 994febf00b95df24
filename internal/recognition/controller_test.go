package recognition

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/edvoice/internal/audio"
)

type fakeStream struct {
	chunks  chan []byte
	stopErr error
	once    sync.Once
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	s.once.Do(func() { close(s.chunks) })
	return s.stopErr
}

type fakeCapture struct {
	supported map[string]bool
	stream    *fakeStream
	startErr  error
	startMIME string
}

func (c *fakeCapture) IsTypeSupported(mime string) bool { return c.supported[mime] }

func (c *fakeCapture) Start(_ context.Context, mime string) (Stream, error) {
	c.startMIME = mime
	if c.startErr != nil {
		return nil, c.startErr
	}
	return c.stream, nil
}

type fakeRecognizer struct {
	contentType string
	audio       []byte
	response    string
	err         error
}

func (r *fakeRecognizer) Recognize(_ context.Context, contentType string, data []byte) (json.RawMessage, error) {
	r.contentType = contentType
	r.audio = data
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.response), nil
}

func toneWAV(t *testing.T, rate, frames int) []byte {
	t.Helper()
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = 0.25
	}
	data, err := audio.EncodeWAVPCM16LE(audio.EncodePCM16LE(samples), rate)
	require.NoError(t, err)
	return data
}

func TestSelectMIMETypePreferenceOrder(t *testing.T) {
	c := &fakeCapture{supported: map[string]bool{"audio/webm": true, "audio/mpeg": true}}
	assert.Equal(t, "audio/webm", SelectMIMEType(c))

	none := &fakeCapture{supported: map[string]bool{}}
	assert.Equal(t, PlatformDefaultMIME, SelectMIMEType(none))
}

func TestStartStopTranscribes(t *testing.T) {
	stream := &fakeStream{chunks: make(chan []byte, 4)}
	capture := &fakeCapture{supported: map[string]bool{"audio/ogg;codecs=opus": true}, stream: stream}
	rec := &fakeRecognizer{response: `{"result":["привет","мир"]}`}
	c := NewController(capture, audio.WAVDecoder{}, rec, zerolog.Nop())

	mime, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg;codecs=opus", mime)
	assert.True(t, c.Recording())

	wav := toneWAV(t, 8000, 800)
	stream.chunks <- wav[:20]
	stream.chunks <- wav[20:]

	transcript, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "привет мир", transcript)
	assert.False(t, c.Recording())
	assert.Equal(t, "audio/x-pcm;bit=16;rate=16000", rec.contentType)
	// 800 frames at 8 kHz is 1600 frames at 16 kHz.
	require.Len(t, rec.audio, 3200)
	assert.InDelta(t, 8192, int16(binary.LittleEndian.Uint16(rec.audio[1600:])), 4)
}

func TestStartTwiceFails(t *testing.T) {
	capture := &fakeCapture{stream: &fakeStream{chunks: make(chan []byte)}}
	c := NewController(capture, audio.WAVDecoder{}, &fakeRecognizer{}, zerolog.Nop())

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	c.Cancel()
	assert.False(t, c.Recording())
}

func TestStopWithoutRecording(t *testing.T) {
	c := NewController(&fakeCapture{}, audio.WAVDecoder{}, &fakeRecognizer{}, zerolog.Nop())
	_, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestCaptureUnavailable(t *testing.T) {
	c := NewController(nil, audio.WAVDecoder{}, &fakeRecognizer{}, zerolog.Nop())
	_, err := c.Start(context.Background())
	var unavailable *CaptureUnavailableError
	require.ErrorAs(t, err, &unavailable)

	c = NewController(&fakeCapture{startErr: errors.New("permission denied")}, audio.WAVDecoder{}, &fakeRecognizer{}, zerolog.Nop())
	_, err = c.Start(context.Background())
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorContains(t, err, "permission denied")
	assert.False(t, c.Recording())
}

func TestTranscribeErrorsAreRecoverable(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("relay down")}
	c := NewController(nil, audio.WAVDecoder{}, rec, zerolog.Nop())

	_, err := c.Transcribe(context.Background(), []byte("not audio"))
	var recErr *RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "decode", recErr.Stage)

	_, err = c.Transcribe(context.Background(), toneWAV(t, 16000, 160))
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "relay", recErr.Stage)

	_, err = c.Transcribe(context.Background(), nil)
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "capture", recErr.Stage)
}

func TestTranscribeUnknownShapeIsEmpty(t *testing.T) {
	c := NewController(nil, audio.WAVDecoder{}, &fakeRecognizer{response: `{"status":"ok"}`}, zerolog.Nop())
	transcript, err := c.Transcribe(context.Background(), toneWAV(t, 16000, 160))
	require.NoError(t, err)
	assert.Empty(t, transcript)
}

func TestCommandCaptureMissingExecutable(t *testing.T) {
	c := NewCommandCapture("definitely-not-a-recorder-binary -f ogg", "audio/ogg;codecs=opus", zerolog.Nop())
	assert.True(t, c.IsTypeSupported("audio/OGG;codecs=opus"))
	assert.False(t, c.IsTypeSupported("audio/webm"))

	_, err := c.Start(context.Background(), "audio/ogg;codecs=opus")
	var unavailable *CaptureUnavailableError
	require.ErrorAs(t, err, &unavailable)
}
