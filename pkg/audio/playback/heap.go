// Package playback provides a software [audio.Playback] graph. The graph
// mixes scheduled buffers sample-accurately onto a mono clock that only
// advances as output is rendered, so any PCM sink that pulls from it (a sound
// card, a pipe, a test) drives the clock.
package playback

// pending orders sources that have not started yet by start sample, with FIFO
// tie-breaking on seq.
type pending []*source

func (h pending) Len() int { return len(h) }

func (h pending) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h pending) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push is called by [container/heap.Push]; callers must not invoke it directly.
func (h *pending) Push(x any) { *h = append(*h, x.(*source)) }

// Pop is called by [container/heap.Pop]; callers must not invoke it directly.
func (h *pending) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}
