package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultPumpPeriod is how much audio [Pump] renders per tick.
const DefaultPumpPeriod = 20 * time.Millisecond

// Pump renders g in real time, writing PCM to w on every tick of period.
// A nil w discards the audio and only advances the clock. Pump returns nil
// when the graph is closed and ctx.Err() when ctx is cancelled.
func Pump(ctx context.Context, g *Graph, w io.Writer, period time.Duration) error {
	if period <= 0 {
		period = DefaultPumpPeriod
	}
	samples := int(period.Seconds() * float64(g.SampleRate()))
	buf := make([]byte, samples*2)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := g.Read(buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if w == nil {
			continue
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("playback: pump write: %w", err)
		}
	}
}
