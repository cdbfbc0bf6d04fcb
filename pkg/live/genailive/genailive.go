// Package genailive implements [live.Dialer] on top of the official
// google.golang.org/genai SDK. It speaks the same protocol as live/gemini
// but lets the SDK own the wire format, authentication and endpoint
// selection, including Vertex AI backends.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/liveinterview/pkg/live"
)

// Compile-time interface assertions.
var (
	_ live.Dialer = (*Dialer)(nil)
	_ live.Conn   = (*conn)(nil)
)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	eventBuffer  = 64
)

// Dialer opens Gemini Live sessions through a [genai.Client].
type Dialer struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithModel sets the default model used when [live.Setup.Model] is empty.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithLogger sets the logger for skipped messages.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.log = l }
}

// New creates a Dialer backed by the Gemini API with the given key.
func New(ctx context.Context, apiKey string, opts ...Option) (*Dialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genailive: new client: %w", err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient creates a Dialer around an existing client.
func NewWithClient(client *genai.Client, opts ...Option) *Dialer {
	d := &Dialer{client: client, model: defaultModel, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [live.Dialer].
func (d *Dialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	model := setup.Model
	if model == "" {
		model = d.model
	}
	sess, err := d.client.Live.Connect(ctx, model, connectConfig(setup))
	if err != nil {
		return nil, classify(err)
	}

	c := &conn{
		sess:   sess,
		events: make(chan live.Event, eventBuffer),
		log:    d.log,
		done:   make(chan struct{}),
	}

	// The SDK does not wait for the setup acknowledgement; do it here so
	// that setup rejections surface from Dial.
	type result struct {
		msg *genai.LiveServerMessage
		err error
	}
	first := make(chan result, 1)
	go func() {
		msg, err := sess.Receive()
		first <- result{msg, err}
	}()
	select {
	case <-ctx.Done():
		_ = sess.Close()
		return nil, ctx.Err()
	case r := <-first:
		if r.err != nil {
			_ = sess.Close()
			return nil, classify(r.err)
		}
		if r.msg.SetupComplete == nil {
			_ = sess.Close()
			return nil, fmt.Errorf("genailive: expected setupComplete as first message")
		}
	}
	c.events <- live.Event{SetupComplete: true}

	go c.receiveLoop()
	return c, nil
}

func connectConfig(setup live.Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(setup.SystemInstruction)}}
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	return cfg
}

// classify maps SDK and websocket errors onto *live.APIError.
func classify(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return &live.APIError{Code: ae.Code, Status: ae.Status, Message: ae.Message}
	}
	var aep *genai.APIError
	if errors.As(err, &aep) {
		return &live.APIError{Code: aep.Code, Status: aep.Status, Message: aep.Message}
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return live.FromClose(ce.Code, ce.Text)
	}
	return fmt.Errorf("genailive: %w", err)
}

type conn struct {
	sess   *genai.Session
	events chan live.Event
	log    *slog.Logger

	sendMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
	done   chan struct{}
}

func (c *conn) receiveLoop() {
	defer close(c.events)
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if c.isClosed() {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				return
			}
			c.setErr(classify(err))
			return
		}
		if msg.ServerContent == nil {
			continue
		}
		ev := toEvent(msg.ServerContent)
		if ev.Empty() {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func toEvent(sc *genai.LiveServerContent) live.Event {
	ev := live.Event{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted}
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				ev.Audio = append(ev.Audio, p.InlineData.Data)
			}
		}
	}
	return ev
}

func (c *conn) SendAudio(pcm []byte) error {
	if c.isClosed() {
		return live.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: live.InputMIMEType, Data: pcm},
	})
}

func (c *conn) SendText(text string) error {
	if c.isClosed() {
		return live.ErrClosed
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (c *conn) Events() <-chan live.Event { return c.events }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.sess.Close()
}
