package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ audio.Output = (*Speaker)(nil)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Speaker plays through the default sound card. Each Open returns a fresh
// [playback.Graph] pulled by an oto player, so the playback clock follows the
// sound card.
type Speaker struct {
	// BufferSize is oto's device buffer. Zero lets oto choose.
	BufferSize time.Duration
}

// Open implements [audio.Output].
func (s *Speaker) Open(ctx context.Context) (audio.Playback, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.PlaybackSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   s.BufferSize,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("device: open speaker: %w", otoErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := playback.New(audio.PlaybackSampleRate)
	player := otoCtx.NewPlayer(g)
	player.Play()
	return &speakerPlayback{Graph: g, player: player}, nil
}

type speakerPlayback struct {
	*playback.Graph
	player *oto.Player
	once   sync.Once
}

func (p *speakerPlayback) Close() error {
	var err error
	p.once.Do(func() {
		_ = p.Graph.Close()
		err = p.player.Close()
	})
	return err
}
