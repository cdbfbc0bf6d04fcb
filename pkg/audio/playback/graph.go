package playback

import (
	"container/heap"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Playback = (*Graph)(nil)

// Graph is a mono software output graph. Scheduled buffers are mixed, passed
// through a single gain stage and rendered as little-endian int16 PCM by
// [Graph.Read]. The playback clock is the number of samples rendered while
// not suspended.
//
// All exported methods are safe for concurrent use.
type Graph struct {
	rate int

	mu        sync.Mutex
	pos       int64 // rendered samples; the playback clock
	seq       uint64
	queued    pending
	active    []*source
	gain      gainRamp
	suspended bool
	closed    bool
}

// New returns a graph rendering at sampleRate with unity gain.
func New(sampleRate int) *Graph {
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	return &Graph{rate: sampleRate, gain: gainRamp{from: 1, to: 1}}
}

// SampleRate returns the output rate in Hz.
func (g *Graph) SampleRate() int { return g.rate }

// CurrentTime implements [audio.Playback].
func (g *Graph) CurrentTime() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.pos) / float64(g.rate)
}

// Schedule implements [audio.Playback]. Multi-channel buffers are downmixed.
// The buffer's sample rate must match the graph.
func (g *Graph) Schedule(buf *audio.Buffer, at float64, onEnded func()) (audio.Source, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("playback: schedule: empty buffer")
	}
	if buf.SampleRate != g.rate {
		return nil, fmt.Errorf("playback: schedule: buffer rate %d does not match graph rate %d", buf.SampleRate, g.rate)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, audio.ErrClosed
	}

	start := max(int64(math.Round(at*float64(g.rate))), g.pos)
	g.seq++
	s := &source{
		graph:   g,
		start:   start,
		seq:     g.seq,
		data:    downmix(buf),
		onEnded: onEnded,
	}
	heap.Push(&g.queued, s)
	return s, nil
}

// RampGain implements [audio.Playback]. The ramp is measured on the playback
// clock, so it holds while the graph is suspended.
func (g *Graph) RampGain(target float32, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	samples := int64(d.Seconds() * float64(g.rate))
	g.gain = gainRamp{
		from:  g.gain.at(g.pos),
		to:    target,
		start: g.pos,
		end:   g.pos + samples,
	}
}

// SetGain implements [audio.Playback].
func (g *Graph) SetGain(v float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gain = gainRamp{from: v, to: v}
}

// Gain returns the gain that applies to the next rendered sample.
func (g *Graph) Gain() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain.at(g.pos)
}

// Suspend implements [audio.Playback].
func (g *Graph) Suspend() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return audio.ErrClosed
	}
	g.suspended = true
	return nil
}

// Resume implements [audio.Playback].
func (g *Graph) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return audio.ErrClosed
	}
	g.suspended = false
	return nil
}

// Suspended reports whether the clock is frozen.
func (g *Graph) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}

// Active returns the number of sources that are scheduled or playing.
func (g *Graph) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active) + g.queued.Len()
}

// Close implements [audio.Playback]. Pending sources are dropped without
// their onEnded callbacks and further reads return [io.EOF].
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	for _, s := range g.active {
		s.stopped = true
	}
	for _, s := range g.queued {
		s.stopped = true
	}
	g.active = nil
	g.queued = nil
	return nil
}

// Read renders len(p)/2 samples of int16 PCM into p. While suspended it
// renders silence without advancing the clock. It implements [io.Reader] so
// the graph can feed pull-based sinks directly.
func (g *Graph) Read(p []byte) (int, error) {
	n := len(p) / 2
	samples := make([]float32, n)
	ended, err := g.render(samples)
	if err != nil {
		return 0, err
	}
	for i, s := range samples {
		v := clip16(float64(s) * 32768)
		p[i*2] = byte(v)
		p[i*2+1] = byte(v >> 8)
	}
	for _, fn := range ended {
		fn()
	}
	return n * 2, nil
}

// Render mixes len(out) float samples into out and returns after firing any
// onEnded callbacks. It is the float counterpart of [Graph.Read].
func (g *Graph) Render(out []float32) error {
	ended, err := g.render(out)
	for _, fn := range ended {
		fn()
	}
	return err
}

// render fills out and returns the onEnded callbacks of sources that
// finished, to be invoked after the lock is released.
func (g *Graph) render(out []float32) ([]func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, io.EOF
	}
	clear(out)
	if g.suspended {
		return nil, nil
	}

	var ended []func()
	for i := range out {
		t := g.pos + int64(i)
		for g.queued.Len() > 0 && g.queued[0].start <= t {
			g.active = append(g.active, heap.Pop(&g.queued).(*source))
		}
		var sum float32
		for _, s := range g.active {
			if idx := t - s.start; idx < int64(len(s.data)) {
				sum += s.data[idx]
			}
		}
		out[i] = sum * g.gain.at(t)

		// Retire finished sources in place.
		kept := g.active[:0]
		for _, s := range g.active {
			if t+1-s.start >= int64(len(s.data)) {
				s.stopped = true
				if s.onEnded != nil {
					ended = append(ended, s.onEnded)
				}
				continue
			}
			kept = append(kept, s)
		}
		clear(g.active[len(kept):])
		g.active = kept
	}
	g.pos += int64(len(out))
	return ended, nil
}

// remove drops s from the graph. Caller holds g.mu.
func (g *Graph) remove(s *source) {
	for i, a := range g.active {
		if a == s {
			g.active = append(g.active[:i], g.active[i+1:]...)
			return
		}
	}
	for i, q := range g.queued {
		if q == s {
			heap.Remove(&g.queued, i)
			return
		}
	}
}

// source is a buffer scheduled on a Graph.
type source struct {
	graph   *Graph
	start   int64
	seq     uint64
	data    []float32
	onEnded func()
	stopped bool
}

// Stop implements [audio.Source].
func (s *source) Stop() {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	g.remove(s)
}

// gainRamp is a linear gain automation between two clock positions.
type gainRamp struct {
	from, to   float32
	start, end int64
}

func (r gainRamp) at(pos int64) float32 {
	if pos >= r.end || r.end <= r.start {
		return r.to
	}
	if pos <= r.start {
		return r.from
	}
	frac := float32(pos-r.start) / float32(r.end-r.start)
	return r.from + (r.to-r.from)*frac
}

func downmix(buf *audio.Buffer) []float32 {
	if buf.Channels() == 1 {
		return buf.Data[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(buf.Channels())
	for _, ch := range buf.Data {
		for i, v := range ch {
			out[i] += v * scale
		}
	}
	return out
}

func clip16(v float64) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
