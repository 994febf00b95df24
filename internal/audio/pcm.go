package audio

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/faiface/beep"
)

// RecognitionSampleRate is the rate the recognition relay expects for raw PCM.
const RecognitionSampleRate = 16000

// resampleQuality is the beep interpolation window; 4 is beep's recommended default.
const resampleQuality = 4

// PCM holds planar float samples in [-1, 1].
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the per-channel sample count.
func (p PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Resample converts p to target. Inputs within 1 Hz of target are returned unchanged.
func Resample(p PCM, target int) PCM {
	if target <= 0 || p.SampleRate <= 0 || abs(p.SampleRate-target) <= 1 {
		return p
	}
	out := PCM{SampleRate: target, Channels: make([][]float32, len(p.Channels))}
	for i, ch := range p.Channels {
		out.Channels[i] = resampleChannel(ch, p.SampleRate, target)
	}
	return out
}

func resampleChannel(samples []float32, from, to int) []float32 {
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if len(samples) == 0 || want == 0 {
		return []float32{}
	}
	src := &channelStreamer{samples: samples}
	r := beep.Resample(resampleQuality, beep.SampleRate(from), beep.SampleRate(to), src)

	out := make([]float32, 0, want)
	buf := make([][2]float64, 512)
	for len(out) < want {
		n, ok := r.Stream(buf)
		for i := 0; i < n && len(out) < want; i++ {
			out = append(out, float32(buf[i][0]))
		}
		if !ok || n == 0 {
			break
		}
	}
	// The interpolation window can end the stream a few samples early.
	for len(out) < want {
		out = append(out, 0)
	}
	return out
}

// channelStreamer feeds one planar channel to beep as a dual-mono stream.
type channelStreamer struct {
	samples []float32
	pos     int
}

func (s *channelStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos])
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *channelStreamer) Err() error { return nil }

// Downmix averages all channels into one. Mono input is returned unchanged.
func Downmix(p PCM) PCM {
	if len(p.Channels) <= 1 {
		return p
	}
	frames := p.Frames()
	for _, ch := range p.Channels[1:] {
		if len(ch) < frames {
			frames = len(ch)
		}
	}
	mono := make([]float32, frames)
	scale := 1 / float32(len(p.Channels))
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range p.Channels {
			sum += ch[i]
		}
		mono[i] = sum * scale
	}
	return PCM{SampleRate: p.SampleRate, Channels: [][]float32{mono}}
}

// EncodePCM16LE clamps samples to [-1, 1] and writes signed 16-bit little-endian PCM.
// Negative samples scale by 32768 and the rest by 32767, so -1 and 1 map to the int16 limits.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16LE converts raw interleaved PCM16LE bytes to planar PCM.
func DecodePCM16LE(data []byte, sampleRate, channels int) PCM {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / (2 * channels)
	out := PCM{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			out.Channels[c][i] = int16ToFloat(int(v))
		}
	}
	return out
}

// ToRecognitionPCM decodes data and returns mono 16 kHz PCM16LE bytes.
func ToRecognitionPCM(ctx context.Context, dec Decoder, data []byte) ([]byte, error) {
	pcm, err := dec.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	mono := Downmix(Resample(pcm, RecognitionSampleRate))
	if len(mono.Channels) == 0 {
		return []byte{}, nil
	}
	return EncodePCM16LE(mono.Channels[0]), nil
}

func int16ToFloat(v int) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
