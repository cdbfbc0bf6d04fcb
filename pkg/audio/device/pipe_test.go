package device_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/device"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// syncBuffer is a bytes.Buffer safe for the pump goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestPipeMicrophone_DeliversCaptureFormat(t *testing.T) {
	in := make([]int16, 0, 3200)
	for range 1600 {
		in = append(in, 16384, 16384)
	}
	mic := &device.PipeMicrophone{
		Reader: bytes.NewReader(pcm(in...)),
		Format: audio.Format{SampleRate: 32000, Channels: 2},
	}
	stream, err := mic.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Close()

	var (
		mu    sync.Mutex
		total int
		bad   bool
	)
	done := make(chan struct{})
	err = stream.Start(func(samples []float32) {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range samples {
			if s != 0.5 {
				bad = true
			}
		}
		total += len(samples)
		if total >= 800 {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for samples")
	}
	mu.Lock()
	defer mu.Unlock()
	if total != 800 {
		t.Errorf("delivered %d samples, want 800 (50 ms at 16 kHz)", total)
	}
	if bad {
		t.Error("expected every converted sample to be 0.5")
	}
}

func TestPipeMicrophone_AcquireOnce(t *testing.T) {
	mic := &device.PipeMicrophone{Reader: bytes.NewReader(nil)}
	if _, err := mic.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := mic.Acquire(context.Background()); err == nil {
		t.Error("second Acquire succeeded, want error")
	}
}

func TestPipeOutput_PumpsInRealTime(t *testing.T) {
	var sink syncBuffer
	out := &device.PipeOutput{Writer: &sink, Period: 5 * time.Millisecond}
	pb, err := out.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pb.CurrentTime() < 0.02 {
		if time.Now().After(deadline) {
			t.Fatal("playback clock did not advance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := pb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.Len() == 0 {
		t.Error("expected pcm written to the sink")
	}
	if sink.Len()%2 != 0 {
		t.Errorf("sink holds %d bytes, want whole int16 samples", sink.Len())
	}
}
