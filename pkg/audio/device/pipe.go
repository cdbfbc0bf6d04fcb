package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*PipeMicrophone)(nil)
	_ audio.Output     = (*PipeOutput)(nil)
)

// PipeMicrophone reads interleaved s16le PCM in Format from a reader and
// delivers it converted to the capture format. It can be acquired once.
type PipeMicrophone struct {
	Reader io.Reader

	// Format of the PCM on Reader. The zero value means the capture format.
	Format audio.Format

	// Paced throttles reads to real time, for readers that are not themselves
	// real-time sources such as files.
	Paced bool

	// Chunk is the read size. Zero selects 20 ms.
	Chunk time.Duration

	mu       sync.Mutex
	acquired bool
}

// Acquire implements [audio.Microphone].
func (m *PipeMicrophone) Acquire(ctx context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired {
		return nil, fmt.Errorf("device: pipe microphone already acquired")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.acquired = true

	format := m.Format
	if format.SampleRate == 0 {
		format = audio.CaptureFormat
	}
	chunk := m.Chunk
	if chunk <= 0 {
		chunk = 20 * time.Millisecond
	}
	return &pipeStream{
		r:      m.Reader,
		format: format,
		paced:  m.Paced,
		chunk:  chunk,
		conv:   &audio.FormatConverter{Target: audio.CaptureFormat},
		done:   make(chan struct{}),
	}, nil
}

type pipeStream struct {
	r      io.Reader
	format audio.Format
	paced  bool
	chunk  time.Duration
	conv   *audio.FormatConverter

	once    sync.Once
	started bool
	mu      sync.Mutex
	done    chan struct{}
}

func (s *pipeStream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return audio.ErrClosed
	default:
	}
	if s.started {
		return fmt.Errorf("device: pipe stream already started")
	}
	s.started = true
	go s.loop(onSamples)
	return nil
}

func (s *pipeStream) loop(onSamples func([]float32)) {
	frameBytes := 2 * s.format.Channels
	buf := make([]byte, int(s.chunk.Seconds()*float64(s.format.SampleRate))*frameBytes)

	var tick <-chan time.Time
	if s.paced {
		t := time.NewTicker(s.chunk)
		defer t.Stop()
		tick = t.C
	}

	for {
		if tick != nil {
			select {
			case <-s.done:
				return
			case <-tick:
			}
		}
		n, err := io.ReadFull(s.r, buf)
		n -= n % frameBytes
		select {
		case <-s.done:
			return
		default:
		}
		if n > 0 {
			frame := s.conv.Convert(audio.AudioFrame{Data: buf[:n], SampleRate: s.format.SampleRate, Channels: s.format.Channels})
			if len(frame.Data) > 0 {
				onSamples(audio.PCM16ToFloat(frame.Data))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("device: pipe microphone read failed", "err", err)
			}
			return
		}
	}
}

func (s *pipeStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			_ = c.Close()
		}
	})
	return nil
}

// PipeOutput renders playback in real time into Writer as 24 kHz mono s16le.
// A nil Writer discards the audio and only runs the clock.
type PipeOutput struct {
	Writer io.Writer

	// Period is the render quantum. Zero selects [playback.DefaultPumpPeriod].
	Period time.Duration
}

// Open implements [audio.Output]. The pump runs until the returned graph is
// closed.
func (o *PipeOutput) Open(ctx context.Context) (audio.Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := playback.New(audio.PlaybackSampleRate)
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &pumpedPlayback{Graph: g, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if err := playback.Pump(pctx, g, o.Writer, o.Period); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("device: playback pump stopped", "err", err)
		}
	}()
	return p, nil
}

type pumpedPlayback struct {
	*playback.Graph
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *pumpedPlayback) Close() error {
	err := p.Graph.Close()
	p.cancel()
	<-p.done
	return err
}
