package audio

import "sync"

// DefaultFrameSize is the number of samples per capture frame.
const DefaultFrameSize = 4096

// CaptureGraph accumulates samples from an [InputStream] into fixed-size
// frames and hands each full frame to a processing callback. Delivery stops
// once the graph is closed; the stream itself is owned by the caller.
type CaptureGraph struct {
	size    int
	onFrame func(frame []float32)

	mu     sync.Mutex
	buf    []float32
	closed bool
}

// NewCaptureGraph starts stream and returns a graph delivering frames of
// frameSize samples (DefaultFrameSize when <= 0). onFrame is called
// sequentially and receives a fresh slice per frame.
func NewCaptureGraph(stream InputStream, frameSize int, onFrame func(frame []float32)) (*CaptureGraph, error) {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	g := &CaptureGraph{
		size:    frameSize,
		onFrame: onFrame,
		buf:     make([]float32, 0, frameSize),
	}
	if err := stream.Start(g.push); err != nil {
		return nil, err
	}
	return g, nil
}

// push is the stream callback.
func (g *CaptureGraph) push(samples []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for len(samples) > 0 && !g.closed {
		n := min(g.size-len(g.buf), len(samples))
		g.buf = append(g.buf, samples[:n]...)
		samples = samples[n:]
		if len(g.buf) == g.size {
			frame := g.buf
			g.buf = make([]float32, 0, g.size)
			g.onFrame(frame)
		}
	}
}

// Close stops frame delivery and discards any partial frame. It is idempotent.
func (g *CaptureGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.buf = nil
	return nil
}
