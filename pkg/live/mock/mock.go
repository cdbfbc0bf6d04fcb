// Package mock provides test doubles for the live package interfaces.
//
// Use Dialer to verify Dial calls and hand out controlled connections. Use
// Conn to push server events and inspect what the session sent.
//
// Example:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conns: []*mock.Conn{conn}}
//	// ... start the code under test, then
//	conn.Push(live.Event{OutputTranscript: "Hello"})
//	conn.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/liveinterview/pkg/live"
)

// Compile-time interface assertions.
var (
	_ live.Dialer = (*Dialer)(nil)
	_ live.Conn   = (*Conn)(nil)
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Setup is the configuration passed to Dial.
	Setup live.Setup
}

// Dialer is a mock implementation of live.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Errs are returned by successive Dial calls; the n-th call returns Errs[n]
	// when it is non-nil. Calls beyond len(Errs) succeed.
	Errs []error

	// Conns are returned by successive successful Dial calls. When exhausted,
	// a fresh Conn is created.
	Conns []*Conn

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall

	// OnDial, if set, is called at the start of every Dial, before any result
	// is chosen. Tests use it to block or observe dialing.
	OnDial func(ctx context.Context)

	next int
}

// Dial records the call and returns the next configured result.
func (d *Dialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	d.mu.Lock()
	hook := d.OnDial
	d.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.DialCalls)
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Setup: setup})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < len(d.Errs) && d.Errs[n] != nil {
		return nil, d.Errs[n]
	}
	if d.next < len(d.Conns) {
		c := d.Conns[d.next]
		d.next++
		return c, nil
	}
	return NewConn(), nil
}

// Calls returns a copy of the recorded Dial calls.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.DialCalls...)
}

// Conn is a mock implementation of live.Conn.
type Conn struct {
	mu sync.Mutex

	events chan live.Event
	err    error
	ended  bool

	// SendErr, if non-nil, is returned by SendAudio and SendText.
	SendErr error

	// Audio records every chunk passed to SendAudio.
	Audio [][]byte

	// Texts records every message passed to SendText.
	Texts []string

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// sent is signalled after every recorded send.
	sent chan struct{}
}

// NewConn returns a Conn with a buffered event channel.
func NewConn() *Conn {
	return &Conn{
		events: make(chan live.Event, 256),
		sent:   make(chan struct{}, 1024),
	}
}

// Push delivers ev to the consumer. It is a no-op after Finish.
func (c *Conn) Push(ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.events <- ev
}

// Finish ends the event stream with err as the connection error.
func (c *Conn) Finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	c.err = err
	close(c.events)
}

// Sent returns a channel that receives a value after every recorded send.
func (c *Conn) Sent() <-chan struct{} { return c.sent }

// SendAudio records the chunk.
func (c *Conn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Audio = append(c.Audio, append([]byte(nil), pcm...))
	c.signal()
	return nil
}

// SendText records the message.
func (c *Conn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Texts = append(c.Texts, text)
	c.signal()
	return nil
}

func (c *Conn) signal() {
	select {
	case c.sent <- struct{}{}:
	default:
	}
}

// SentTexts returns a copy of the recorded text messages.
func (c *Conn) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Texts...)
}

// SentAudio returns a copy of the recorded audio chunks.
func (c *Conn) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.Audio...)
}

// Events returns the event channel.
func (c *Conn) Events() <-chan live.Event { return c.events }

// Err returns the error passed to Finish.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close records the call and ends the event stream cleanly.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.CloseCallCount++
	c.mu.Unlock()
	c.Finish(nil)
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount > 0
}
