// Package resilience guards live endpoints with circuit breakers and fails
// over between transports.
//
// A [Breaker] stops sending dials to a transport that keeps failing and lets
// a few probes through once its cooldown has passed. [FailoverDialer] puts
// one breaker in front of every transport and dials them in order.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen lets a bounded number of probes through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// again. Default: 1.
	Probes int

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker is open. Errors for which counts returns
// false are passed through without being recorded as failures; a nil counts
// records every error.
func (b *Breaker) Do(fn func() error, counts func(error) bool) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err == nil, err != nil && (counts == nil || counts(err)))
	return err
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.passed >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe, ok, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
		if b.state != StateHalfOpen {
			return
		}
		switch {
		case failed:
			b.trip()
		case ok:
			b.passed++
			if b.passed >= b.cfg.Probes {
				b.transition(StateClosed)
			}
		}
		return
	}

	switch {
	case failed:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case ok:
		b.failures = 0
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.cfg.Now()
	b.transition(StateOpen)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.cfg.Logger.Info("circuit breaker state change",
		"name", b.cfg.Name,
		"from", b.state,
		"to", to,
		"failures", b.failures,
	)
	b.state = to
	b.inFlight = 0
	b.passed = 0
	if to == StateClosed {
		b.failures = 0
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
}
