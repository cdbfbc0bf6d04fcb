// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.InputStream], [audio.Output] and [audio.Playback] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.InputStream{}
//	mic := &mock.Microphone{Stream: stream}
//	pb := &mock.Playback{}
//	out := &mock.Output{Playback: pb}
//	// ... run the code under test, then
//	stream.Push(make([]float32, 4096))
//	pb.SetTime(1.5)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*InputStream)(nil)
	_ audio.Output      = (*Output)(nil)
	_ audio.Playback    = (*Playback)(nil)
	_ audio.Source      = (*Source)(nil)
)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Acquire when Err is nil.
	Stream *InputStream

	// Err is returned by Acquire.
	Err error

	// CallCountAcquire records how many times Acquire was called.
	CallCountAcquire int
}

// Acquire implements [audio.Microphone].
func (m *Microphone) Acquire(_ context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountAcquire++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Stream == nil {
		m.Stream = &InputStream{}
	}
	return m.Stream, nil
}

// ─── InputStream ─────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream]. Tests feed samples with Push.
type InputStream struct {
	mu sync.Mutex

	// StartErr is returned by Start.
	StartErr error

	onSamples func([]float32)

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [audio.InputStream].
func (s *InputStream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	s.onSamples = onSamples
	return nil
}

// Push delivers samples to the registered callback, as a device thread would.
// It is a no-op before Start or after Close.
func (s *InputStream) Push(samples []float32) {
	s.mu.Lock()
	fn := s.onSamples
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.onSamples = nil
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Output is a mock [audio.Output].
type Output struct {
	mu sync.Mutex

	// Playback is returned by Open when Err is nil.
	Playback *Playback

	// Err is returned by Open.
	Err error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.Output].
func (o *Output) Open(_ context.Context) (audio.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpen++
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Playback == nil {
		o.Playback = &Playback{}
	}
	return o.Playback, nil
}

// ─── Playback ────────────────────────────────────────────────────────────────

// ScheduleCall records a single Schedule invocation.
type ScheduleCall struct {
	Buffer  *audio.Buffer
	At      float64
	OnEnded func()
	Source  *Source
}

// GainRampCall records a single RampGain invocation.
type GainRampCall struct {
	Target   float32
	Duration time.Duration
}

// Playback is a mock [audio.Playback] with a manually driven clock.
type Playback struct {
	mu sync.Mutex

	now float64

	// ScheduleErr is returned by Schedule.
	ScheduleErr error

	// ScheduleCalls records every successful Schedule call in order.
	ScheduleCalls []ScheduleCall

	// GainRampCalls records every RampGain call in order.
	GainRampCalls []GainRampCall

	// GainSetCalls records every SetGain value in order.
	GainSetCalls []float32

	// Suspended reflects the last Suspend/Resume call.
	Suspended bool

	// CallCountSuspend, CallCountResume and CallCountClose count calls.
	CallCountSuspend int
	CallCountResume  int
	CallCountClose   int
}

// SetTime moves the playback clock.
func (p *Playback) SetTime(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = t
}

// CurrentTime implements [audio.Playback].
func (p *Playback) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Schedule implements [audio.Playback]. The effective start is returned in the
// recorded call as max(at, now).
func (p *Playback) Schedule(buf *audio.Buffer, at float64, onEnded func()) (audio.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScheduleErr != nil {
		return nil, p.ScheduleErr
	}
	src := &Source{}
	p.ScheduleCalls = append(p.ScheduleCalls, ScheduleCall{Buffer: buf, At: max(at, p.now), OnEnded: onEnded, Source: src})
	return src, nil
}

// Scheduled returns a copy of the recorded Schedule calls.
func (p *Playback) Scheduled() []ScheduleCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ScheduleCall(nil), p.ScheduleCalls...)
}

// End fires the onEnded callback of the i-th scheduled source, as the graph
// would when it finishes playing naturally.
func (p *Playback) End(i int) {
	p.mu.Lock()
	call := p.ScheduleCalls[i]
	p.mu.Unlock()
	if call.OnEnded != nil && !call.Source.Stopped() {
		call.OnEnded()
	}
}

// RampGain implements [audio.Playback].
func (p *Playback) RampGain(target float32, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GainRampCalls = append(p.GainRampCalls, GainRampCall{Target: target, Duration: d})
}

// SetGain implements [audio.Playback].
func (p *Playback) SetGain(v float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GainSetCalls = append(p.GainSetCalls, v)
}

// Suspend implements [audio.Playback].
func (p *Playback) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountSuspend++
	p.Suspended = true
	return nil
}

// Resume implements [audio.Playback].
func (p *Playback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountResume++
	p.Suspended = false
	return nil
}

// Close implements [audio.Playback].
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// Source is a mock [audio.Source].
type Source struct {
	mu      sync.Mutex
	stopped int
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped > 0
}
