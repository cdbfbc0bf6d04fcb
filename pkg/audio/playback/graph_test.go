package playback_test

import (
	"errors"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/playback"
)

const rate = 1000

func constBuffer(v float32, frames int) *audio.Buffer {
	data := make([]float32, frames)
	for i := range data {
		data[i] = v
	}
	return &audio.Buffer{SampleRate: rate, Data: [][]float32{data}}
}

func render(t *testing.T, g *playback.Graph, n int) []float32 {
	t.Helper()
	out := make([]float32, n)
	if err := g.Render(out); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestGraph_ClockAdvancesWithRendering(t *testing.T) {
	g := playback.New(rate)
	if got := g.CurrentTime(); got != 0 {
		t.Fatalf("initial time = %v, want 0", got)
	}
	render(t, g, 250)
	if got := g.CurrentTime(); got != 0.25 {
		t.Errorf("time after 250 samples = %v, want 0.25", got)
	}
}

func TestGraph_GaplessScheduling(t *testing.T) {
	g := playback.New(rate)
	var ended atomic.Int32
	onEnded := func() { ended.Add(1) }

	first := constBuffer(0.25, 100)
	second := constBuffer(0.5, 50)
	if _, err := g.Schedule(first, 0, onEnded); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Schedule(second, first.Duration(), onEnded); err != nil {
		t.Fatal(err)
	}

	out := render(t, g, 200)
	for i := range 100 {
		if out[i] != 0.25 {
			t.Fatalf("sample %d = %v, want 0.25", i, out[i])
		}
	}
	for i := 100; i < 150; i++ {
		if out[i] != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, out[i])
		}
	}
	for i := 150; i < 200; i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %v, want silence", i, out[i])
		}
	}
	if got := ended.Load(); got != 2 {
		t.Errorf("onEnded calls = %d, want 2", got)
	}
	if g.Active() != 0 {
		t.Errorf("Active = %d, want 0", g.Active())
	}
}

func TestGraph_PastStartPlaysImmediately(t *testing.T) {
	g := playback.New(rate)
	render(t, g, 100)
	if _, err := g.Schedule(constBuffer(0.5, 10), 0.01, nil); err != nil {
		t.Fatal(err)
	}
	if out := render(t, g, 1); out[0] != 0.5 {
		t.Errorf("first sample = %v, want 0.5", out[0])
	}
}

func TestGraph_StopSuppressesOnEnded(t *testing.T) {
	g := playback.New(rate)
	var ended atomic.Bool
	src, err := g.Schedule(constBuffer(0.5, 100), 0, func() { ended.Store(true) })
	if err != nil {
		t.Fatal(err)
	}
	render(t, g, 10)
	src.Stop()
	src.Stop()

	out := render(t, g, 100)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v after stop, want silence", i, v)
		}
	}
	if ended.Load() {
		t.Error("onEnded called for a stopped source")
	}
}

func TestGraph_StopBeforeStart(t *testing.T) {
	g := playback.New(rate)
	src, err := g.Schedule(constBuffer(0.5, 10), 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	src.Stop()
	if g.Active() != 0 {
		t.Errorf("Active = %d, want 0", g.Active())
	}
}

func TestGraph_SuspendFreezesClock(t *testing.T) {
	g := playback.New(rate)
	if _, err := g.Schedule(constBuffer(0.5, 100), 0, nil); err != nil {
		t.Fatal(err)
	}
	render(t, g, 40)
	if err := g.Suspend(); err != nil {
		t.Fatal(err)
	}
	out := render(t, g, 500)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v while suspended, want silence", i, v)
		}
	}
	if got := g.CurrentTime(); got != 0.04 {
		t.Errorf("time while suspended = %v, want 0.04", got)
	}
	if err := g.Resume(); err != nil {
		t.Fatal(err)
	}
	out = render(t, g, 60)
	for i, v := range out {
		if v != 0.5 {
			t.Fatalf("sample %d = %v after resume, want 0.5", i, v)
		}
	}
}

func TestGraph_GainRamp(t *testing.T) {
	g := playback.New(rate)
	if _, err := g.Schedule(constBuffer(1, 1000), 0, nil); err != nil {
		t.Fatal(err)
	}
	g.RampGain(0, 100*time.Millisecond)

	out := render(t, g, 120)
	if out[0] != 1 {
		t.Errorf("gain at ramp start = %v, want 1", out[0])
	}
	if math.Abs(float64(out[50])-0.5) > 1e-6 {
		t.Errorf("gain at ramp midpoint = %v, want 0.5", out[50])
	}
	if out[110] != 0 {
		t.Errorf("gain after ramp = %v, want 0", out[110])
	}

	g.SetGain(1)
	if got := g.Gain(); got != 1 {
		t.Errorf("Gain after SetGain = %v, want 1", got)
	}
}

func TestGraph_ReadPCM(t *testing.T) {
	g := playback.New(rate)
	if _, err := g.Schedule(constBuffer(0.5, 2), 0, nil); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 6)
	n, err := g.Read(p)
	if err != nil || n != 6 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	want := []byte{0x00, 0x40, 0x00, 0x40, 0x00, 0x00}
	for i := range want {
		if p[i] != want[i] {
			t.Fatalf("pcm = %x, want %x", p, want)
		}
	}
}

func TestGraph_Close(t *testing.T) {
	g := playback.New(rate)
	var ended atomic.Bool
	if _, err := g.Schedule(constBuffer(0.5, 10), 0, func() { ended.Store(true) }); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := g.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Close err = %v, want io.EOF", err)
	}
	if _, err := g.Schedule(constBuffer(0.5, 10), 0, nil); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Schedule after Close err = %v, want ErrClosed", err)
	}
	if ended.Load() {
		t.Error("onEnded called on Close")
	}
}

func TestGraph_ScheduleRejectsRateMismatch(t *testing.T) {
	g := playback.New(rate)
	buf := &audio.Buffer{SampleRate: rate * 2, Data: [][]float32{{0.1}}}
	if _, err := g.Schedule(buf, 0, nil); err == nil {
		t.Error("expected error for mismatched sample rate")
	}
}
