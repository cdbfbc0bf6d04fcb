// Package audio defines the audio types, codecs and device abstractions used
// by a live interview session.
//
// The two device abstractions are:
//
//   - [Microphone] grants an exclusive [InputStream] of 16 kHz mono samples.
//   - [Output] opens a [Playback] graph: a 24 kHz output with a single gain
//     stage, a playback clock and sample-accurate scheduling of [Buffer]s.
//
// Concrete devices live in audio/device; a software graph that any sink can
// pull from lives in audio/playback. This package lives under pkg/ because
// embedders are expected to supply their own devices.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Microphone.Acquire] when access to
	// the capture device was declined.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrClosed is returned by operations on a closed stream or graph.
	ErrClosed = errors.New("audio: closed")
)

// Microphone grants access to a capture device.
type Microphone interface {
	// Acquire opens an exclusive input stream. It blocks until access is
	// granted or declined; a declined request returns an error wrapping
	// [ErrPermissionDenied].
	Acquire(ctx context.Context) (InputStream, error)
}

// InputStream is a live capture stream delivering mono float samples at
// [CaptureSampleRate]. Devices with a different native format convert before
// delivery.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Start begins delivery. onSamples is called sequentially from a device
	// goroutine with chunks of arbitrary length and must not block. The slice
	// is only valid for the duration of the call.
	Start(onSamples func(samples []float32)) error

	// Close stops the device. It is idempotent.
	Close() error
}

// Output opens playback graphs.
type Output interface {
	Open(ctx context.Context) (Playback, error)
}

// Playback is an output graph with a playback clock.
//
// CurrentTime advances only while audio is being rendered and the graph is
// not suspended. Scheduled buffers start exactly at their start time on that
// clock, so back-to-back scheduling is gapless.
//
// Implementations must be safe for concurrent use. onEnded callbacks must be
// invoked without internal locks held.
type Playback interface {
	// CurrentTime returns the playback clock in seconds.
	CurrentTime() float64

	// Schedule plays buf starting at the given clock time. Start times in the
	// past begin immediately. onEnded, if non-nil, is called once when the
	// buffer finishes playing naturally; it is not called for stopped sources.
	Schedule(buf *Buffer, at float64, onEnded func()) (Source, error)

	// RampGain moves the output gain linearly to target over d.
	RampGain(target float32, d time.Duration)

	// SetGain sets the output gain immediately.
	SetGain(v float32)

	// Suspend freezes the clock and silences output without discarding
	// scheduled sources. Resume continues from where Suspend left off.
	Suspend() error
	Resume() error

	// Close stops all sources and releases the output. It is idempotent.
	Close() error
}

// Source is a scheduled buffer on a [Playback] graph.
type Source interface {
	// Stop cancels the source whether or not it has started. It is idempotent
	// and suppresses the onEnded callback.
	Stop()
}
