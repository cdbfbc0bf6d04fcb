// Package session runs one live interview: it owns the microphone capture,
// the playback graph, the live connection and the turn synchronizer, and
// drives them through the interview lifecycle.
//
// A [Session] is used once. [Session.Start] blocks until the connection is
// open or has failed; afterwards the session runs on its own goroutines until
// [Session.End] is called, the endpoint closes the connection, or a fatal
// error occurs. Progress is reported through [Callbacks].
//
// All session state is guarded by a single mutex. Capture callbacks, the
// receive loop, clock drivers, playback end notifications and commands all
// take it before touching state, which gives the session the ordering of a
// single event loop. Callbacks are invoked with that mutex held and must not
// call back into the Session synchronously.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/liveinterview/internal/observe"
	"github.com/MrWong99/liveinterview/internal/script"
	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// Sentinel errors.
var (
	// ErrSessionUsed is returned by Start on a session that was started or
	// ended before.
	ErrSessionUsed = errors.New("session: already used")

	// ErrEnded is returned by Start when End was called while starting.
	ErrEnded = errors.New("session: ended during start")

	// ErrNotRunning is returned by SendText outside a running session.
	ErrNotRunning = errors.New("session: not running")
)

// Messages reported through Callbacks.OnError for local failures.
const (
	MsgOutputUnavailable = "could not initialize audio output"
	MsgMicrophoneDenied  = "microphone permission denied"
	MsgMicrophoneFailed  = "could not start microphone"
	MsgConnectionClosed  = "connection to the interview service was lost"
)

// Error kinds reported through Callbacks.OnError.
const (
	ErrorKindQuota   = "quota"
	ErrorKindGeneric = "generic"
)

const (
	gainRamp           = 100 * time.Millisecond
	defaultOutboundCap = 64
)

// Callbacks receive session progress. Any field may be nil.
type Callbacks struct {
	// OnUpdate receives every change of displayed transcript. text is the
	// full text of the current turn of src.
	OnUpdate func(text string, final bool, src turn.Source)

	// OnStateChange receives every state transition except into StateError.
	OnStateChange func(State)

	// OnError is called once when the session fails. kind is ErrorKindQuota
	// when the endpoint's usage quota is exhausted and ErrorKindGeneric
	// otherwise.
	OnError func(message, kind string)
}

// StartOptions configure a single run.
type StartOptions struct {
	MicMuted     bool
	SpeakerMuted bool

	// History is an earlier conversation to resume. Its final entries are
	// folded into the system instruction.
	History []transcript.Entry
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithLogger sets the base logger. A session_id attribute is added.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithScript sets the interview script.
func WithScript(sc script.Script) Option {
	return func(s *Session) { s.script = sc }
}

// WithModel sets the model requested at setup. Empty leaves the choice to
// the dialer.
func WithModel(model string) Option {
	return func(s *Session) { s.model = model }
}

// WithVoice sets the prebuilt voice requested at setup.
func WithVoice(voice string) Option {
	return func(s *Session) { s.voice = voice }
}

// WithRetry sets the dial retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(s *Session) { s.retry = p }
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(n int) Option {
	return func(s *Session) { s.frameSize = n }
}

// WithTickIntervals overrides the clock driver periods for normal and muted
// playback.
func WithTickIntervals(normal, muted time.Duration) Option {
	return func(s *Session) {
		if normal > 0 {
			s.frameInterval = normal
		}
		if muted > 0 {
			s.mutedInterval = muted
		}
	}
}

// WithOutboundLimit bounds the number of microphone frames waiting to be
// sent. Frames beyond the limit are dropped.
func WithOutboundLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.outboundCap = n
		}
	}
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one interview run.
type Session struct {
	id      string
	dialer  live.Dialer
	mic     audio.Microphone
	output  audio.Output
	cb      Callbacks
	log     *slog.Logger
	metrics *observe.Metrics

	script        script.Script
	model         string
	voice         string
	retry         RetryPolicy
	frameSize     int
	frameInterval time.Duration
	mutedInterval time.Duration
	outboundCap   int

	// Read by the capture callback without the lock.
	micMuted atomic.Bool
	paused   atomic.Bool

	mu           sync.Mutex
	state        State
	err          error
	speakerMuted bool
	cancelDial   context.CancelFunc
	link         *link
	conn         live.Conn
	stream       audio.InputStream
	capture      *audio.CaptureGraph
	playback     audio.Playback
	driver       *clockDriver
	sources      map[audio.Source]struct{}
	nextStart    float64
	sync         *turn.Synchronizer
	counted      bool
	released     bool

	wg sync.WaitGroup
}

// New returns an idle Session.
func New(d live.Dialer, mic audio.Microphone, out audio.Output, cb Callbacks, opts ...Option) *Session {
	s := &Session{
		id:            uuid.NewString(),
		dialer:        d,
		mic:           mic,
		output:        out,
		cb:            cb,
		log:           slog.Default(),
		script:        script.Default(script.English),
		retry:         DefaultRetry,
		frameSize:     audio.DefaultFrameSize,
		frameInterval: DefaultFrameInterval,
		mutedInterval: DefaultMutedInterval,
		outboundCap:   defaultOutboundCap,
		sources:       make(map[audio.Source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = s.log.With("session_id", s.id)
	s.sync = turn.New(s.emit)
	s.link = newLink(s.outboundCap, s.log)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session into StateError, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens audio output, acquires the microphone and connects. It returns
// once the connection is open; failures are also reported through
// Callbacks.OnError and leave the session in StateError.
//
// ctx bounds the start-up only. The running session is stopped with End.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelDial = cancel
	s.micMuted.Store(opts.MicMuted)
	s.paused.Store(false)
	s.speakerMuted = opts.SpeakerMuted
	s.setState(StateStarting)
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.counted = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.link.run()
	}()
	s.mu.Unlock()

	// Output first: it does not depend on the network.
	pb, err := s.output.Open(ctx)
	if err := s.afterStep(err, MsgOutputUnavailable, func() { s.attachPlayback(pb) }, pb); err != nil {
		return err
	}

	stream, err := s.mic.Acquire(ctx)
	msg := MsgMicrophoneFailed
	if errors.Is(err, audio.ErrPermissionDenied) {
		msg = MsgMicrophoneDenied
	}
	if err := s.afterStep(err, msg, func() { s.stream = stream }, stream); err != nil {
		return err
	}

	history := transcript.Finals(opts.History)
	setup := live.Setup{
		Model:             s.model,
		SystemInstruction: s.script.SystemInstruction(history),
		Voice:             s.voice,
	}
	conn, err := dial(ctx, s.dialer, setup, s.retry, s.metrics, s.log)
	if err != nil {
		s.mu.Lock()
		if s.state != StateStarting {
			s.mu.Unlock()
			return ErrEnded
		}
		closers := s.fail(errorMessage(err, ""), err)
		s.mu.Unlock()
		s.release(closers)
		return fmt.Errorf("session: connect: %w", err)
	}

	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrEnded
	}
	s.conn = conn
	s.cancelDial = nil
	s.setState(StateOpen)

	capture, err := audio.NewCaptureGraph(s.stream, s.frameSize, s.onCaptureFrame)
	if err != nil {
		closers := s.fail(MsgMicrophoneFailed, err)
		s.mu.Unlock()
		s.release(closers)
		return fmt.Errorf("session: start capture: %w", err)
	}
	s.capture = capture
	s.link.attach(conn, s.script.Kickoff(len(history) > 0))
	s.wg.Add(1)
	go s.receive(conn)
	s.mu.Unlock()

	s.log.Info("session started", "mic_muted", opts.MicMuted, "speaker_muted", opts.SpeakerMuted, "history", len(history))
	return nil
}

// afterStep finishes a blocking start-up step. On err the session fails with
// msg. If the session was ended meanwhile, res is closed and ErrEnded
// returned. Otherwise apply runs under the lock.
func (s *Session) afterStep(err error, msg string, apply func(), res interface{ Close() error }) error {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		if err == nil {
			_ = res.Close()
		}
		return ErrEnded
	}
	if err != nil {
		closers := s.fail(msg, err)
		s.mu.Unlock()
		s.release(closers)
		return fmt.Errorf("session: %s: %w", msg, err)
	}
	apply()
	s.mu.Unlock()
	return nil
}

// attachPlayback must be called with s.mu held.
func (s *Session) attachPlayback(pb audio.Playback) {
	s.playback = pb
	if s.speakerMuted {
		pb.SetGain(0)
	} else {
		pb.SetGain(1)
	}
	s.restartDriver()
}

// End stops the session and releases every resource. It is idempotent and
// may be called in any state, including before Start.
func (s *Session) End() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.mu.Unlock()
		s.link.close()
		return
	case StateEnding, StateClosed:
		s.mu.Unlock()
		return
	}

	errored := s.state == StateError
	if !errored {
		s.setState(StateEnding)
	}
	closers := s.teardown()
	if !errored {
		s.setState(StateClosed)
	}
	s.mu.Unlock()

	s.release(closers)
	s.wg.Wait()
	s.log.Info("session ended")
}

// Pause suspends playback and stops sending microphone audio.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.paused.Store(true)
	if err := s.playback.Suspend(); err != nil {
		s.log.Warn("failed to suspend playback", "error", err)
	}
	s.setState(StatePaused)
}

// Resume reverses Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.paused.Store(false)
	if err := s.playback.Resume(); err != nil {
		s.log.Warn("failed to resume playback", "error", err)
	}
	s.setState(StateActive)
}

// MuteMicrophone stops sending microphone audio.
func (s *Session) MuteMicrophone() { s.micMuted.Store(true) }

// UnmuteMicrophone resumes sending microphone audio.
func (s *Session) UnmuteMicrophone() { s.micMuted.Store(false) }

// MuteSpeaker fades playback out and switches transcript reveal to reading
// pace. Scheduled audio keeps playing silently. It is idempotent.
func (s *Session) MuteSpeaker() { s.setSpeakerMuted(true) }

// UnmuteSpeaker reverses MuteSpeaker. It is idempotent.
func (s *Session) UnmuteSpeaker() { s.setSpeakerMuted(false) }

func (s *Session) setSpeakerMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speakerMuted == muted || s.state.Terminal() || s.state == StateEnding {
		return
	}
	s.speakerMuted = muted
	if s.playback == nil {
		return
	}
	target := float32(1)
	if muted {
		target = 0
	}
	s.playback.RampGain(target, gainRamp)
	s.restartDriver()
}

// SendText sends a typed user turn. If the model is speaking it is cut off
// first. The message is shown as a final user turn immediately and sent as
// soon as the connection is open. Blank messages are ignored.
func (s *Session) SendText(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.running() {
		return ErrNotRunning
	}
	if s.sync.InFlight() || len(s.sources) > 0 {
		s.interrupt("text")
	}
	s.sync.ClearTranscripts()
	s.emit(msg, true, turn.SourceUser)
	s.link.sendText(msg)
	return nil
}

// ── internals ──────────────────────────────────────────────────────────────────

// setState must be called with s.mu held.
func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Debug("state change", "from", s.state, "to", st)
	s.state = st
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(st)
	}
}

// emit is the synchronizer's emitter. It runs with s.mu held.
func (s *Session) emit(text string, final bool, src turn.Source) {
	if final {
		s.metrics.RecordTurnFinalized(context.Background(), src.String())
	}
	if s.cb.OnUpdate != nil {
		s.cb.OnUpdate(text, final, src)
	}
}

// fail latches err, reports msg and tears down. It must be called with s.mu
// held; the returned closers must be run after unlocking.
func (s *Session) fail(msg string, err error) []func() {
	if s.state == StateError {
		return nil
	}
	s.err = err
	s.state = StateError
	kind := ErrorKindGeneric
	if live.IsQuotaExceeded(err) || live.IsQuotaMessage(msg) {
		kind = ErrorKindQuota
	}
	s.metrics.RecordSessionError(context.Background(), kind)
	s.log.Error("session failed", "reason", msg, "kind", kind, "error", err)
	if s.cb.OnError != nil {
		s.cb.OnError(msg, kind)
	}
	return s.teardown()
}

// teardown stops drivers, capture and playback and detaches the connection.
// It must be called with s.mu held and is idempotent. Closing the connection
// and the input device can block, so they are returned as closers.
func (s *Session) teardown() []func() {
	if s.released {
		return nil
	}
	s.released = true

	var closers []func()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.driver.stop()
	s.driver = nil
	s.paused.Store(false)

	if s.capture != nil {
		_ = s.capture.Close()
		s.capture = nil
	}
	if stream := s.stream; stream != nil {
		closers = append(closers, func() { _ = stream.Close() })
		s.stream = nil
	}
	if pb := s.playback; pb != nil {
		pb.SetGain(0)
		s.stopSources()
		// A pumped graph waits for its render goroutine, which may be
		// blocked on s.mu in an onEnded callback.
		closers = append(closers, func() {
			if err := pb.Close(); err != nil {
				s.log.Warn("failed to close playback", "error", err)
			}
		})
		s.playback = nil
	}
	s.link.close()
	if conn := s.conn; conn != nil {
		closers = append(closers, func() { _ = conn.Close() })
		s.conn = nil
	}
	s.sync.Reset()
	if s.counted {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.counted = false
	}
	return closers
}

func (s *Session) release(closers []func()) {
	for _, c := range closers {
		c()
	}
}

// stopSources must be called with s.mu held.
func (s *Session) stopSources() {
	for src := range s.sources {
		src.Stop()
	}
	clear(s.sources)
	s.nextStart = 0
}

// interrupt cuts the model's turn short. It must be called with s.mu held.
func (s *Session) interrupt(cause string) {
	s.stopSources()
	s.sync.Interrupt()
	s.metrics.RecordInterruption(context.Background(), cause)
}

// restartDriver replaces the clock driver for the current speaker mode. It
// must be called with s.mu held.
func (s *Session) restartDriver() {
	s.driver.stop()
	if s.speakerMuted {
		s.driver = startDriver(s.mutedInterval, true, s.tick)
	} else {
		s.driver = startDriver(s.frameInterval, false, s.tick)
	}
}

// tick advances the synchronizer. Normal mode follows the playback clock;
// muted mode reveals one fragment per tick and stands still while paused.
func (s *Session) tick(d *clockDriver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != d || s.playback == nil {
		return
	}
	now := s.playback.CurrentTime()
	if !d.muted {
		s.sync.Tick(now)
		return
	}
	if s.state == StatePaused {
		return
	}
	s.sync.TickOne(now)
}

// onCaptureFrame runs on the capture device goroutine. It never takes s.mu.
func (s *Session) onCaptureFrame(frame []float32) {
	ctx := context.Background()
	switch {
	case s.paused.Load():
		s.metrics.RecordFrameDropped(ctx, "paused")
	case s.micMuted.Load():
		s.metrics.RecordFrameDropped(ctx, "muted")
	case !s.link.offerAudio(audio.FloatToPCM16(frame)):
		s.metrics.RecordFrameDropped(ctx, "backpressure")
	default:
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// errorMessage returns the endpoint's message for err, or fallback when err
// carries none. An empty fallback selects err.Error().
func errorMessage(err error, fallback string) string {
	var ae *live.APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if fallback != "" {
		return fallback
	}
	return err.Error()
}
