package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/liveinterview/pkg/live"
)

var _ live.Dialer = (*FailoverDialer)(nil)

// ErrAllFailed wraps the last dial error once every transport has failed.
var ErrAllFailed = errors.New("resilience: all transports failed")

type entry struct {
	name    string
	dialer  live.Dialer
	breaker *Breaker
}

// FailoverDialer dials a primary transport and falls back to the next healthy
// one when it fails. Each transport sits behind its own [Breaker], so one that
// keeps failing is skipped until its cooldown has passed.
type FailoverDialer struct {
	entries []entry
	cfg     BreakerConfig
	log     *slog.Logger
}

// NewFailoverDialer returns a dialer trying primary first. cfg.Name is
// replaced by each transport's name.
func NewFailoverDialer(name string, primary live.Dialer, cfg BreakerConfig) *FailoverDialer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	f := &FailoverDialer{cfg: cfg, log: log}
	f.Add(name, primary)
	return f
}

// Add appends a fallback transport. It must not be called concurrently with
// Dial.
func (f *FailoverDialer) Add(name string, d live.Dialer) {
	cfg := f.cfg
	cfg.Name = name
	f.entries = append(f.entries, entry{name: name, dialer: d, breaker: NewBreaker(cfg)})
}

// Dial implements [live.Dialer]. Cancellation is returned as is and never
// counts against a transport. When every breaker is open the error reports
// the endpoint as unavailable, so callers retrying on that status back off
// until a breaker lets a probe through.
func (f *FailoverDialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	var (
		lastErr error
		skipped int
	)
	for i := range f.entries {
		e := &f.entries[i]
		var conn live.Conn
		err := e.breaker.Do(func() error {
			c, err := e.dialer.Dial(ctx, setup)
			conn = c
			return err
		}, countsAsFailure)
		switch {
		case err == nil:
			if i > 0 {
				f.log.Warn("connected through fallback transport", "transport", e.name)
			}
			return conn, nil
		case ctx.Err() != nil:
			return nil, err
		case errors.Is(err, ErrCircuitOpen):
			skipped++
			f.log.Debug("skipping transport, circuit open", "transport", e.name)
		default:
			lastErr = err
			f.log.Warn("transport failed", "transport", e.name, "error", err)
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, &live.APIError{
			Code:    http.StatusServiceUnavailable,
			Status:  live.StatusUnavailable,
			Message: fmt.Sprintf("all %d transports are cooling down", skipped),
		})
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Names lists the transports in dial order.
func (f *FailoverDialer) Names() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// States reports the breaker state of every transport by name.
func (f *FailoverDialer) States() map[string]State {
	m := make(map[string]State, len(f.entries))
	for _, e := range f.entries {
		m[e.name] = e.breaker.State()
	}
	return m
}

// countsAsFailure keeps cancellation out of the failure count.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
