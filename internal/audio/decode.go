package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/faiface/beep/mp3"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Decoder turns a container or compressed audio buffer into PCM.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (PCM, error)
}

// WAVDecoder decodes integer PCM WAV files.
type WAVDecoder struct{}

func (WAVDecoder) Decode(_ context.Context, data []byte) (PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return PCM{}, &DecodeError{Format: "wav", Details: "not a valid WAV file"}
	}
	if d.WavAudioFormat != 1 && d.WavAudioFormat != 0xFFFE {
		return PCM{}, &DecodeError{Format: "wav", Details: "unsupported WAV encoding " + strconv.Itoa(int(d.WavAudioFormat))}
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, &DecodeError{Format: "wav", Err: err}
	}
	return pcmFromIntBuffer(buf, int(d.BitDepth))
}

// pcmFromIntBuffer normalizes interleaved integer samples to planar floats.
func pcmFromIntBuffer(buf *goaudio.IntBuffer, depth int) (PCM, error) {
	if buf == nil || buf.Format == nil {
		return PCM{}, &DecodeError{Format: "wav", Details: "missing format chunk"}
	}
	channels := buf.Format.NumChannels
	if channels <= 0 || depth <= 0 || depth > 32 {
		return PCM{}, &DecodeError{Format: "wav", Details: fmt.Sprintf("unsupported layout: %d channels, %d bits", channels, depth)}
	}

	frames := len(buf.Data) / channels
	out := PCM{SampleRate: buf.Format.SampleRate, Channels: make([][]float32, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	full := float64(int64(1) << (depth - 1))
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := buf.Data[i*channels+c]
			if depth == 8 {
				// 8-bit WAV samples are unsigned.
				v -= 128
			}
			out.Channels[c][i] = float32(float64(v) / full)
		}
	}
	return out, nil
}

// MP3Decoder decodes MPEG layer III audio.
type MP3Decoder struct{}

func (MP3Decoder) Decode(ctx context.Context, data []byte) (PCM, error) {
	stream, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return PCM{}, &DecodeError{Format: "mp3", Err: err}
	}
	defer stream.Close()

	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		channels = 2
	}
	out := PCM{SampleRate: int(format.SampleRate), Channels: make([][]float32, channels)}
	buf := make([][2]float64, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return PCM{}, err
		}
		n, ok := stream.Stream(buf)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				out.Channels[c] = append(out.Channels[c], float32(buf[i][c]))
			}
		}
		if !ok || n == 0 {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return PCM{}, &DecodeError{Format: "mp3", Err: err}
	}
	if out.Frames() == 0 {
		return PCM{}, &DecodeError{Format: "mp3", Details: "no audio frames"}
	}
	return out, nil
}

// CommandDecoder asks ffmpeg to decode anything it understands into mono PCM16LE.
type CommandDecoder struct {
	Path       string
	SampleRate int
	Timeout    time.Duration
}

func (d CommandDecoder) Decode(ctx context.Context, data []byte) (PCM, error) {
	path := d.Path
	if path == "" {
		path = "ffmpeg"
	}
	rate := d.SampleRate
	if rate <= 0 {
		rate = RecognitionSampleRate
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"pipe:1",
	}
	raw, err := RunFilter(ctx, path, args, data, d.Timeout)
	if err != nil {
		return PCM{}, err
	}
	if len(raw) < 2 {
		return PCM{}, &DecodeError{Format: "ffmpeg", Details: "decoder produced no audio"}
	}
	return DecodePCM16LE(raw, rate, 1), nil
}

// ChainDecoder tries each decoder in order and returns the first success.
type ChainDecoder []Decoder

// DefaultDecoder covers WAV and MP3 natively and falls back to ffmpeg.
func DefaultDecoder(ffmpegPath string, timeout time.Duration) ChainDecoder {
	return ChainDecoder{
		WAVDecoder{},
		MP3Decoder{},
		CommandDecoder{Path: ffmpegPath, Timeout: timeout},
	}
}

func (c ChainDecoder) Decode(ctx context.Context, data []byte) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, &DecodeError{Details: "empty audio buffer"}
	}
	var errs []error
	for _, dec := range c {
		pcm, err := dec.Decode(ctx, data)
		if err == nil {
			return pcm, nil
		}
		if ctx.Err() != nil {
			return PCM{}, ctx.Err()
		}
		errs = append(errs, err)
	}
	var missing *ToolingMissingError
	for _, err := range errs {
		if errors.As(err, &missing) {
			return PCM{}, &DecodeError{Details: "no native decoder matched and " + missing.Error(), Err: errors.Join(errs...)}
		}
	}
	return PCM{}, &DecodeError{Details: "no decoder accepted the audio", Err: errors.Join(errs...)}
}
