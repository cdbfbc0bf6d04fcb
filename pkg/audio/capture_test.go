package audio_test

import (
	"testing"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/mock"
)

func TestCaptureGraph_FixedFrames(t *testing.T) {
	stream := &mock.InputStream{}
	var frames [][]float32
	g, err := audio.NewCaptureGraph(stream, 4, func(f []float32) { frames = append(frames, f) })
	if err != nil {
		t.Fatal(err)
	}

	stream.Push([]float32{1, 2, 3})
	if len(frames) != 0 {
		t.Fatalf("got %d frames before a full frame was buffered", len(frames))
	}
	stream.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, want := range [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		for j := range want {
			if frames[i][j] != want[j] {
				t.Fatalf("frame %d = %v, want %v", i, frames[i], want)
			}
		}
	}

	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	stream.Push([]float32{10, 11, 12, 13})
	if len(frames) != 2 {
		t.Errorf("got %d frames after Close, want 2", len(frames))
	}
}

func TestCaptureGraph_DefaultFrameSize(t *testing.T) {
	stream := &mock.InputStream{}
	var got int
	if _, err := audio.NewCaptureGraph(stream, 0, func(f []float32) { got = len(f) }); err != nil {
		t.Fatal(err)
	}
	stream.Push(make([]float32, audio.DefaultFrameSize))
	if got != audio.DefaultFrameSize {
		t.Errorf("frame size = %d, want %d", got, audio.DefaultFrameSize)
	}
}
