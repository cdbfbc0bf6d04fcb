// Package gemini implements [live.Dialer] for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is transmitted as base64-encoded PCM chunks; model audio and
// both transcription streams are surfaced as [live.Event] values.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// Compile-time assertions that Dialer and conn satisfy the live interfaces.
var _ live.Dialer = (*Dialer)(nil)
var _ live.Conn = (*conn)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the default model used when [live.Setup.Model] is empty.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithLogger sets the logger for dropped frames and keepalive failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) { d.log = l }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements live.Dialer for Google's Gemini Live API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger
}

// New creates a new Gemini Live Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial connects, sends the setup message and blocks until the server
// acknowledges it. Setup rejections and close frames are returned as
// *live.APIError.
func (d *Dialer) Dial(ctx context.Context, setup live.Setup) (live.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, url.QueryEscape(d.apiKey),
	)

	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, handshakeError(resp)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(-1)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		log:    d.log,
	}

	model := setup.Model
	if model == "" {
		model = d.model
	}
	if err := c.sendSetup(model, setup); err != nil {
		c.abort("setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := c.awaitSetupComplete(ctx); err != nil {
		c.abort("setup not acknowledged")
		return nil, err
	}

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []blob `json:"mediaChunks,omitempty"`
	Text        string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func (e *geminiError) apiError() *live.APIError {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &live.APIError{Code: e.Code, Status: e.Status, Message: msg}
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws     *websocket.Conn
	events chan live.Event
	log    *slog.Logger

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message with both
// transcription streams enabled.
func (c *conn) sendSetup(model string, setup live.Setup) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if setup.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: setup.SystemInstruction}}}
	}
	if setup.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	return c.writeJSON(msg)
}

// awaitSetupComplete reads until the server acknowledges setup, then queues
// the acknowledgement as the first event.
func (c *conn) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return closeError(err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("gemini: skipping malformed frame during setup", "err", err)
			continue
		}
		if msg.Error != nil {
			return msg.Error.apiError()
		}
		if msg.SetupComplete != nil {
			c.events <- live.Event{SetupComplete: true}
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (c *conn) receiveLoop() {
	defer c.closeEvents()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			// If the connection was closed locally, exit cleanly.
			if c.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			c.setErr(closeError(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}
		if msg.Error != nil {
			c.setErr(msg.Error.apiError())
			return
		}
		if msg.ServerContent == nil {
			continue
		}

		ev := c.toEvent(msg.ServerContent)
		if ev.Empty() {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) toEvent(sc *serverContent) live.Event {
	ev := live.Event{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := audio.DecodeAudio(p.InlineData.Data)
			if err != nil {
				c.log.Warn("gemini: dropping undecodable audio chunk", "err", err)
				continue
			}
			ev.Audio = append(ev.Audio, pcm)
		}
	}
	return ev
}

// closeError converts a read error into a *live.APIError when the server
// closed the connection with a status.
func closeError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return live.FromClose(int(ce.Code), ce.Reason)
	}
	return fmt.Errorf("gemini: read: %w", err)
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				c.log.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *conn) closeEvents() {
	c.closeOnce.Do(func() { close(c.events) })
}

// abort tears down a connection that never became usable.
func (c *conn) abort(reason string) {
	c.cancel()
	_ = c.ws.Close(websocket.StatusInternalError, reason)
}

// ── live.Conn methods ──────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the model.
func (c *conn) SendAudio(pcm []byte) error {
	if c.isClosed() {
		return live.ErrClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []blob{{MIMEType: live.InputMIMEType, Data: audio.EncodeAudio(pcm)}},
		},
	}
	return c.writeJSON(msg)
}

// SendText sends a user text turn as realtime input.
func (c *conn) SendText(text string) error {
	if c.isClosed() {
		return live.ErrClosed
	}
	return c.writeJSON(realtimeInputMessage{RealtimeInput: realtimeInput{Text: text}})
}

// Events returns the channel on which server events arrive.
func (c *conn) Events() <-chan live.Event { return c.events }

// Err returns the first non-nil error that caused the connection to terminate.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close terminates the connection and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

// handshakeError maps a rejected websocket upgrade to an APIError carrying the
// canonical status for the codes sessions act on.
func handshakeError(resp *http.Response) *live.APIError {
	ae := &live.APIError{Code: resp.StatusCode, Message: "handshake rejected: " + resp.Status}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		ae.Status = live.StatusResourceExhausted
		ae.Message = "quota exceeded, handshake rejected: " + resp.Status
	case http.StatusServiceUnavailable:
		ae.Status = live.StatusUnavailable
	}
	return ae
}
