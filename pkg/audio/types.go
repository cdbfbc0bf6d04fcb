package audio

import "time"

// Sample rates fixed by the live endpoint's wire format.
const (
	// CaptureSampleRate is the rate microphone audio is captured and sent at.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of audio returned by the endpoint.
	PlaybackSampleRate = 24000
)

// AudioFrame is a chunk of interleaved little-endian int16 PCM. Frames are the
// unit devices hand to the pipeline before conversion to float samples.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is decoded, channel-planar float audio ready for playback.
// Data[c][i] is sample i of channel c, in the range [-1, 1).
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the number of channels in the buffer.
func (b *Buffer) Channels() int { return len(b.Data) }

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}
