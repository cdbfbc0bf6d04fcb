package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/liveinterview/internal/resilience"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(clock *fakeClock) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Cooldown:    time.Minute,
		Probes:      2,
		Now:         clock.Now,
	})
}

func fail() error { return errBoom }
func pass() error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{})
	_ = b.Do(fail, nil)
	if got := b.State(); got != resilience.StateClosed {
		t.Fatalf("state after one failure = %v, want closed", got)
	}
	_ = b.Do(fail, nil)
	if got := b.State(); got != resilience.StateOpen {
		t.Fatalf("state after two failures = %v, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil }, nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Do on open breaker = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{})
	_ = b.Do(fail, nil)
	_ = b.Do(pass, nil)
	_ = b.Do(fail, nil)
	if got := b.State(); got != resilience.StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_UncountedErrorsPassThrough(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{})
	ignore := func(err error) bool { return !errors.Is(err, context.Canceled) }
	for range 5 {
		if err := b.Do(func() error { return context.Canceled }, ignore); !errors.Is(err, context.Canceled) {
			t.Fatalf("Do = %v, want context.Canceled", err)
		}
	}
	if got := b.State(); got != resilience.StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_HalfOpenProbes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func() error
		want   resilience.State
	}{
		{name: "enough successes close", probes: []func() error{pass, pass}, want: resilience.StateClosed},
		{name: "one success stays half-open", probes: []func() error{pass}, want: resilience.StateHalfOpen},
		{name: "failure reopens", probes: []func() error{pass, fail}, want: resilience.StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := &fakeClock{}
			b := newBreaker(clock)
			_ = b.Do(fail, nil)
			_ = b.Do(fail, nil)
			clock.Advance(time.Minute)
			if got := b.State(); got != resilience.StateHalfOpen {
				t.Fatalf("state after cooldown = %v, want half-open", got)
			}
			for _, fn := range tt.probes {
				_ = b.Do(fn, nil)
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	b := newBreaker(clock)
	_ = b.Do(fail, nil)
	_ = b.Do(fail, nil)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(func() error { started <- struct{}{}; <-release; return nil }, nil)
		}()
	}
	<-started
	<-started

	if err := b.Do(pass, nil); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("third probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()
	if got := b.State(); got != resilience.StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{})
	_ = b.Do(fail, nil)
	_ = b.Do(fail, nil)
	b.Reset()
	if got := b.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := b.Do(pass, nil); err != nil {
		t.Errorf("Do after Reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[resilience.State]string{
		resilience.StateClosed:   "closed",
		resilience.StateOpen:     "open",
		resilience.StateHalfOpen: "half-open",
		resilience.State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
