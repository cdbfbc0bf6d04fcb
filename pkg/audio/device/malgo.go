// Package device provides concrete [audio.Microphone] and [audio.Output]
// implementations: sound-card capture through miniaudio (malgo), sound-card
// playback through oto, and pipe devices for raw PCM over any io.Reader or
// io.Writer (files, ffmpeg/ffplay, tests).
package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/liveinterview/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone  = (*MalgoMicrophone)(nil)
	_ audio.InputStream = (*malgoStream)(nil)
)

// MalgoMicrophone captures the default input device at 16 kHz mono float32.
// miniaudio performs any resampling from the hardware rate.
type MalgoMicrophone struct {
	// PeriodMillis is the device callback period. Zero selects 20 ms.
	PeriodMillis uint32
}

// Acquire implements [audio.Microphone]. Failure to open the capture device is
// reported as [audio.ErrPermissionDenied]: on desktop systems a declined
// permission surfaces as a device initialisation failure.
func (m *MalgoMicrophone) Acquire(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: malgo init context: %w", err)
	}

	period := m.PeriodMillis
	if period == 0 {
		period = 20
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = audio.CaptureSampleRate
	cfg.PeriodSizeInMilliseconds = period

	s := &malgoStream{ctx: mctx}
	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	s.dev = dev
	return s, nil
}

type malgoStream struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu        sync.Mutex
	onSamples func([]float32)
	scratch   []float32
	closed    bool
}

func (s *malgoStream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrClosed
	}
	s.onSamples = onSamples
	s.mu.Unlock()

	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("device: start capture: %w", err)
	}
	return nil
}

// onData runs on the miniaudio thread.
func (s *malgoStream) onData(_, input []byte, frames uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onSamples == nil {
		return
	}
	n := min(int(frames), len(input)/4)
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	s.onSamples(samples)
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.dev.Stop()
	s.dev.Uninit()
	err := s.ctx.Uninit()
	s.ctx.Free()
	return err
}
