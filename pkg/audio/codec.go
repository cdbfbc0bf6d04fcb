package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedAudio is returned by [DecodeAudio] for input that is not
	// valid base64.
	ErrMalformedAudio = errors.New("audio: malformed base64 payload")

	// ErrMisalignedPCM is returned by [DecodePCM] when the byte length is not
	// a whole number of interleaved int16 frames.
	ErrMisalignedPCM = errors.New("audio: pcm length not aligned to frame size")
)

// EncodeAudio encodes raw bytes as standard base64 for the wire.
func EncodeAudio(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeAudio is the inverse of [EncodeAudio].
func DecodeAudio(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return b, nil
}

// DecodePCM converts interleaved little-endian int16 PCM into a channel-planar
// [Buffer], scaling each sample by 1/32768.
func DecodePCM(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("audio: decode pcm: invalid channel count %d", channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("audio: decode pcm: invalid sample rate %d", sampleRate)
	}
	if len(b)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrMisalignedPCM, len(b), channels)
	}

	frames := len(b) / 2 / channels
	buf := &Buffer{SampleRate: sampleRate, Data: make([][]float32, channels)}
	for c := range buf.Data {
		buf.Data[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			off := (i*channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(b[off:]))
			buf.Data[c][i] = float32(s) / 32768
		}
	}
	return buf, nil
}

// FloatToPCM16 converts float samples to little-endian int16 PCM. Values are
// scaled by 32768 and clipped to the int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clip16(float64(s)*32768)))
	}
	return out
}

// PCM16ToFloat converts little-endian int16 PCM to float samples. A trailing
// odd byte is ignored.
func PCM16ToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

func clip16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
