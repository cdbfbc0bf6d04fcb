package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// CaptureFormat is the format the endpoint expects from the microphone.
var CaptureFormat = Format{SampleRate: CaptureSampleRate, Channels: 1}

// FormatConverter brings frames from an arbitrary device format to Target.
// Channels are downmixed before resampling so that only one channel is
// interpolated. It is not safe for concurrent use; create one per stream.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as is. Frames whose length is not a whole number of
// int16 frames yield an empty frame.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src.Channels < 1 || len(frame.Data)%(2*src.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: dropping misaligned pcm frame", "bytes", len(frame.Data), "format", src.String())
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if src == c.Target {
		return frame
	}
	c.warnedMismatch.Do(func() {
		slog.Info("audio: converting device format", "from", src.String(), "to", c.Target.String())
	})

	pcm := frame.Data
	channels := src.Channels
	if c.Target.Channels == 1 && channels > 1 {
		pcm = Downmix16(pcm, channels)
		channels = 1
	}
	if src.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, src.SampleRate, c.Target.SampleRate)
	}
	if c.Target.Channels == 2 && channels == 1 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}
	return AudioFrame{Data: pcm, SampleRate: c.Target.SampleRate, Channels: channels, Timestamp: frame.Timestamp}
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// Downmix16 averages every interleaved frame of an n-channel int16 stream
// into a single mono sample.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*stride + c*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples interleaved int16 PCM from srcRate to dstRate using
// linear interpolation per channel, rounding to the nearest sample. Invalid rates return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels < 1 || srcRate == dstRate {
		return pcm
	}
	stride := 2 * channels
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		off := frame*stride + ch*2
		return float64(int16(pcm[off]) | int16(pcm[off+1])<<8)
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			v := int16(math.Round(sample(idx, c)*(1-frac) + sample(next, c)*frac))
			off := i*stride + c*2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}
