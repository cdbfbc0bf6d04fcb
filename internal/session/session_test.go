package session_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/liveinterview/internal/script"
	"github.com/MrWong99/liveinterview/internal/session"
	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
	"github.com/MrWong99/liveinterview/pkg/audio"
	amock "github.com/MrWong99/liveinterview/pkg/audio/mock"
	"github.com/MrWong99/liveinterview/pkg/live"
	lmock "github.com/MrWong99/liveinterview/pkg/live/mock"
)

// ── helpers ────────────────────────────────────────────────────────────────────

type update struct {
	Text  string
	Final bool
	Src   turn.Source
}

// recorder captures callbacks. Callbacks run under the session lock, so it
// only appends.
type recorder struct {
	mu      sync.Mutex
	updates []update
	states  []session.State
	errors  []string
	kinds   []string
}

func (r *recorder) callbacks() session.Callbacks {
	return session.Callbacks{
		OnUpdate: func(text string, final bool, src turn.Source) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, update{text, final, src})
		},
		OnStateChange: func(st session.State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, st)
		},
		OnError: func(msg, kind string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, msg)
			r.kinds = append(r.kinds, kind)
		},
	}
}

func (r *recorder) Updates() []update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.updates...)
}

func (r *recorder) States() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.State(nil), r.states...)
}

func (r *recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

// indexOf returns the position of the first update equal to u, or -1.
func (r *recorder) indexOf(u update) int {
	for i, got := range r.Updates() {
		if got == u {
			return i
		}
	}
	return -1
}

func (r *recorder) hasUpdate(u update) bool {
	for _, got := range r.Updates() {
		if got == u {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// chunk returns silent 24 kHz PCM of the given duration in tenths of a second.
func chunk(tenths int) []byte {
	return make([]byte, tenths*audio.PlaybackSampleRate/10*2)
}

type harness struct {
	s      *session.Session
	rec    *recorder
	stream *amock.InputStream
	mic    *amock.Microphone
	pb     *amock.Playback
	out    *amock.Output
	dialer *lmock.Dialer
	conn   *lmock.Conn
}

func testScript() script.Script {
	sc := script.Default(script.English)
	sc.Instructions = "INSTRUCTIONS"
	return sc
}

func newHarness(t *testing.T, opts ...session.Option) *harness {
	t.Helper()
	h := &harness{
		rec:    &recorder{},
		stream: &amock.InputStream{},
		pb:     &amock.Playback{},
		conn:   lmock.NewConn(),
	}
	h.mic = &amock.Microphone{Stream: h.stream}
	h.out = &amock.Output{Playback: h.pb}
	h.dialer = &lmock.Dialer{Conns: []*lmock.Conn{h.conn}}

	base := []session.Option{
		session.WithScript(testScript()),
		session.WithModel("test-model"),
		session.WithTickIntervals(time.Millisecond, 2*time.Millisecond),
		session.WithRetry(session.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}),
		session.WithFrameSize(4096),
	}
	h.s = session.New(h.dialer, h.mic, h.out, h.rec.callbacks(), append(base, opts...)...)
	t.Cleanup(h.s.End)
	return h
}

func (h *harness) start(t *testing.T, opts session.StartOptions) {
	t.Helper()
	if err := h.s.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// activate starts the session and delivers the setup acknowledgement.
func (h *harness) activate(t *testing.T, opts session.StartOptions) {
	t.Helper()
	h.start(t, opts)
	h.conn.Push(live.Event{SetupComplete: true})
	waitFor(t, "active state", func() bool { return h.s.State() == session.StateActive })
}

func assertStates(t *testing.T, got []session.State, want ...session.State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

// ── start-up ───────────────────────────────────────────────────────────────────

func TestStart_NewInterview(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	assertStates(t, h.rec.States(), session.StateStarting, session.StateOpen, session.StateActive)

	calls := h.dialer.Calls()
	if len(calls) != 1 {
		t.Fatalf("Dial called %d times, want 1", len(calls))
	}
	if got := calls[0].Setup; got.Model != "test-model" || got.SystemInstruction != "INSTRUCTIONS" {
		t.Errorf("setup = %+v", got)
	}
	waitFor(t, "kickoff", func() bool { return len(h.conn.SentTexts()) == 1 })
	if got := h.conn.SentTexts()[0]; got != "Please begin the interview." {
		t.Errorf("kickoff = %q", got)
	}
	if h.s.ID() == "" {
		t.Error("empty session ID")
	}
}

func TestStart_ResumeWithHistory(t *testing.T) {
	h := newHarness(t)
	history := []transcript.Entry{
		{Source: turn.SourceAI, Text: "What do you think about AI?", Final: true},
		{Source: turn.SourceUser, Text: "It helps.", Final: true},
	}
	h.start(t, session.StartOptions{History: history})

	setup := h.dialer.Calls()[0].Setup
	if !strings.HasPrefix(setup.SystemInstruction, "INSTRUCTIONS\n") ||
		!strings.Contains(setup.SystemInstruction, "Noa: What do you think about AI?\nUser: It helps.\n--- END HISTORY ---") {
		t.Errorf("history not folded: %q", setup.SystemInstruction)
	}
	waitFor(t, "kickoff", func() bool { return len(h.conn.SentTexts()) == 1 })
	if got := h.conn.SentTexts()[0]; !strings.HasPrefix(got, "Please welcome me back") {
		t.Errorf("kickoff = %q", got)
	}
}

func TestStart_OutputFailure(t *testing.T) {
	h := newHarness(t)
	h.out.Err = errors.New("no device")

	err := h.s.Start(context.Background(), session.StartOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := h.rec.Errors(); len(got) != 1 || got[0] != session.MsgOutputUnavailable {
		t.Errorf("errors = %v", got)
	}
	if h.s.State() != session.StateError {
		t.Errorf("state = %v, want error", h.s.State())
	}
	if h.mic.CallCountAcquire != 0 || len(h.dialer.Calls()) != 0 {
		t.Error("continued after output failure")
	}
	assertStates(t, h.rec.States(), session.StateStarting)
}

func TestStart_MicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	h.mic.Err = audio.ErrPermissionDenied

	err := h.s.Start(context.Background(), session.StartOptions{})
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := h.rec.Errors(); len(got) != 1 || got[0] != session.MsgMicrophoneDenied {
		t.Errorf("errors = %v", got)
	}
	if h.pb.CallCountClose != 1 {
		t.Errorf("playback closed %d times, want 1", h.pb.CallCountClose)
	}
	if len(h.dialer.Calls()) != 0 {
		t.Error("dialled after permission failure")
	}
}

func TestStart_Retry(t *testing.T) {
	unavailable := &live.APIError{Code: 503, Status: live.StatusUnavailable, Message: "The service is currently unavailable."}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
		wantKind  string
	}{
		{name: "succeeds after transient failures", errs: []error{unavailable, unavailable}, wantCalls: 3},
		{name: "gives up after max attempts", errs: []error{unavailable, unavailable, unavailable, unavailable, unavailable}, wantCalls: 5, wantErr: true, wantKind: session.ErrorKindGeneric},
		{name: "does not retry other errors", errs: []error{&live.APIError{Code: 400, Message: "bad request"}}, wantCalls: 1, wantErr: true, wantKind: session.ErrorKindGeneric},
		{name: "rejected handshake over quota", errs: []error{&live.APIError{Code: 429, Message: "handshake rejected: 429 Too Many Requests"}}, wantCalls: 1, wantErr: true, wantKind: session.ErrorKindQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.dialer.Errs = tt.errs

			err := h.s.Start(context.Background(), session.StartOptions{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := len(h.dialer.Calls()); got != tt.wantCalls {
				t.Errorf("Dial called %d times, want %d", got, tt.wantCalls)
			}
			if tt.wantErr {
				if h.s.State() != session.StateError {
					t.Errorf("state = %v, want error", h.s.State())
				}
				if len(h.rec.Errors()) != 1 {
					t.Errorf("errors = %v, want exactly one", h.rec.Errors())
				}
				if kinds := h.rec.Kinds(); len(kinds) != 1 || kinds[0] != tt.wantKind {
					t.Errorf("error kinds = %v, want [%s]", kinds, tt.wantKind)
				}
				if !h.stream.Closed() {
					t.Error("microphone not released")
				}
			}
		})
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t)
	h.start(t, session.StartOptions{})
	if err := h.s.Start(context.Background(), session.StartOptions{}); !errors.Is(err, session.ErrSessionUsed) {
		t.Errorf("second Start = %v, want ErrSessionUsed", err)
	}
}

func TestEnd_DuringDial(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	h.dialer.OnDial = func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
	}

	errc := make(chan error, 1)
	go func() { errc <- h.s.Start(context.Background(), session.StartOptions{}) }()
	<-entered
	h.s.End()

	if err := <-errc; !errors.Is(err, session.ErrEnded) {
		t.Errorf("Start = %v, want ErrEnded", err)
	}
	assertStates(t, h.rec.States(), session.StateStarting, session.StateEnding, session.StateClosed)
	if len(h.rec.Errors()) != 0 {
		t.Errorf("unexpected errors: %v", h.rec.Errors())
	}
}

// ── playback and transcript ────────────────────────────────────────────────────

func TestAudio_GaplessScheduling(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{Audio: [][]byte{chunk(1), chunk(2)}})
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "three chunks", func() bool { return len(h.pb.Scheduled()) == 3 })

	want := []float64{0, 0.1, 0.3}
	for i, call := range h.pb.Scheduled() {
		if !approx(call.At, want[i]) {
			t.Errorf("chunk %d starts at %v, want %v", i, call.At, want[i])
		}
	}
}

func TestAudio_LateChunkStartsNow(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "first chunk", func() bool { return len(h.pb.Scheduled()) == 1 })
	h.pb.SetTime(2)
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "second chunk", func() bool { return len(h.pb.Scheduled()) == 2 })

	if got := h.pb.Scheduled()[1].At; !approx(got, 2) {
		t.Errorf("late chunk starts at %v, want 2", got)
	}
}

func TestAudio_DecodeErrorIsDropped(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{Audio: [][]byte{{0x01, 0x02, 0x03}}})
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "valid chunk", func() bool { return len(h.pb.Scheduled()) == 1 })

	if h.s.State() != session.StateActive {
		t.Errorf("state = %v after bad chunk", h.s.State())
	}
}

func TestTranscript_FollowsPlaybackClock(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{OutputTranscript: "Hello ", Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: "there", Audio: [][]byte{chunk(1)}})
	waitFor(t, "first fragment", func() bool { return h.rec.hasUpdate(update{"Hello ", false, turn.SourceAI}) })

	time.Sleep(20 * time.Millisecond)
	if h.rec.hasUpdate(update{"Hello there", false, turn.SourceAI}) {
		t.Fatal("second fragment revealed before its audio started")
	}

	h.pb.SetTime(0.1)
	waitFor(t, "second fragment", func() bool { return h.rec.hasUpdate(update{"Hello there", false, turn.SourceAI}) })

	h.conn.Push(live.Event{TurnComplete: true})
	time.Sleep(20 * time.Millisecond)
	if h.rec.hasUpdate(update{"Hello there", true, turn.SourceAI}) {
		t.Fatal("finalized before audio finished")
	}
	h.pb.SetTime(0.2)
	waitFor(t, "final turn", func() bool { return h.rec.hasUpdate(update{"Hello there", true, turn.SourceAI}) })
}

func TestTranscript_UserSpeech(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{InputTranscript: "I think "})
	h.conn.Push(live.Event{InputTranscript: "so"})
	h.conn.Push(live.Event{TurnComplete: true})

	waitFor(t, "final user turn", func() bool { return h.rec.hasUpdate(update{"I think so", true, turn.SourceUser}) })
}

func TestInterrupted(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{OutputTranscript: "Let me explain ", Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: "in detail", Audio: [][]byte{chunk(1)}})
	waitFor(t, "first fragment", func() bool { return h.rec.hasUpdate(update{"Let me explain ", false, turn.SourceAI}) })

	h.conn.Push(live.Event{Interrupted: true})
	want := update{"Let me explain " + turn.TruncationMarker, true, turn.SourceAI}
	waitFor(t, "truncated turn", func() bool { return h.rec.hasUpdate(want) })

	for i, call := range h.pb.Scheduled() {
		if !call.Source.Stopped() {
			t.Errorf("source %d not stopped", i)
		}
	}

	// Audio after the interruption starts from the clock, not the old queue.
	h.pb.SetTime(0.05)
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "new chunk", func() bool { return len(h.pb.Scheduled()) == 3 })
	if got := h.pb.Scheduled()[2].At; !approx(got, 0.05) {
		t.Errorf("chunk after interrupt starts at %v, want 0.05", got)
	}

	h.pb.SetTime(5)
	time.Sleep(20 * time.Millisecond)
	for _, u := range h.rec.Updates() {
		if strings.Contains(u.Text, "in detail") {
			t.Errorf("discarded text was shown: %+v", u)
		}
	}
}

func TestInterrupted_WithUserSpeech(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{OutputTranscript: "Let me explain ", Audio: [][]byte{chunk(1)}})
	waitFor(t, "model text", func() bool { return h.rec.hasUpdate(update{"Let me explain ", false, turn.SourceAI}) })

	h.conn.Push(live.Event{InputTranscript: "Wait", Interrupted: true})
	truncated := update{"Let me explain " + turn.TruncationMarker, true, turn.SourceAI}
	user := update{"Wait", false, turn.SourceUser}
	waitFor(t, "user speech", func() bool { return h.rec.hasUpdate(user) })

	ti, ui := h.rec.indexOf(truncated), h.rec.indexOf(user)
	if ti < 0 || ti > ui {
		t.Fatalf("updates = %+v, want truncated model turn before user speech", h.rec.Updates())
	}
	if h.rec.hasUpdate(update{"Let me explain ", true, turn.SourceAI}) {
		t.Errorf("model turn finalized without marker: %+v", h.rec.Updates())
	}
	if !h.pb.Scheduled()[0].Source.Stopped() {
		t.Error("source not stopped")
	}
}

func TestSendText_WhileModelSpeaks(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Push(live.Event{OutputTranscript: "So tell me", Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: " more", Audio: [][]byte{chunk(1)}})
	waitFor(t, "model text", func() bool { return h.rec.hasUpdate(update{"So tell me", false, turn.SourceAI}) })

	if err := h.s.SendText("Actually, one question"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	got := h.rec.Updates()
	n := len(got)
	if n < 2 {
		t.Fatalf("updates = %+v", got)
	}
	if got[n-2] != (update{"So tell me...", true, turn.SourceAI}) {
		t.Errorf("model turn = %+v", got[n-2])
	}
	if got[n-1] != (update{"Actually, one question", true, turn.SourceUser}) {
		t.Errorf("user turn = %+v", got[n-1])
	}
	for i, call := range h.pb.Scheduled() {
		if !call.Source.Stopped() {
			t.Errorf("source %d still playing", i)
		}
	}
	waitFor(t, "text sent", func() bool { return len(h.conn.SentTexts()) == 2 })
	if texts := h.conn.SentTexts(); texts[1] != "Actually, one question" {
		t.Errorf("sent texts = %q", texts)
	}
}

func TestSendText_BeforeModelTextShown(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	// The clock stays at 0, so the fragment bound to the second chunk is
	// still queued while the first chunk plays.
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: "Hello there", Audio: [][]byte{chunk(1)}})
	waitFor(t, "audio scheduled", func() bool { return len(h.pb.Scheduled()) == 2 })

	if err := h.s.SendText("typed answer"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	for i, call := range h.pb.Scheduled() {
		if !call.Source.Stopped() {
			t.Errorf("source %d still playing", i)
		}
	}

	h.pb.SetTime(1)
	time.Sleep(20 * time.Millisecond)
	got := h.rec.Updates()
	if len(got) == 0 || got[len(got)-1] != (update{"typed answer", true, turn.SourceUser}) {
		t.Fatalf("updates = %+v, want the typed answer last", got)
	}
	for _, u := range got {
		if u.Src == turn.SourceAI {
			t.Errorf("queued model text was shown: %+v", u)
		}
	}
}

func TestSendText_Idle(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	if err := h.s.SendText("   "); err != nil {
		t.Errorf("blank SendText = %v", err)
	}
	if err := h.s.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	got := h.rec.Updates()
	if len(got) != 1 || got[0] != (update{"hello", true, turn.SourceUser}) {
		t.Errorf("updates = %+v", got)
	}
	waitFor(t, "text sent", func() bool { return len(h.conn.SentTexts()) == 2 })
}

func TestSendText_BeforeOpenIsQueued(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	h.dialer.OnDial = func(context.Context) {
		close(entered)
		<-release
	}

	errc := make(chan error, 1)
	go func() { errc <- h.s.Start(context.Background(), session.StartOptions{}) }()
	<-entered

	if err := h.s.SendText("early"); err != nil {
		t.Fatalf("SendText while starting: %v", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "queued text", func() bool { return len(h.conn.SentTexts()) == 2 })
	texts := h.conn.SentTexts()
	if texts[0] != "Please begin the interview." || texts[1] != "early" {
		t.Errorf("sent texts = %q", texts)
	}
}

func TestSendText_NotRunning(t *testing.T) {
	h := newHarness(t)
	if err := h.s.SendText("hi"); !errors.Is(err, session.ErrNotRunning) {
		t.Errorf("SendText before Start = %v", err)
	}
}

// ── microphone ─────────────────────────────────────────────────────────────────

func TestMicrophone_FramesAndMute(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.stream.Push(make([]float32, 4096))
	waitFor(t, "first frame", func() bool { return len(h.conn.SentAudio()) == 1 })
	if got := len(h.conn.SentAudio()[0]); got != 8192 {
		t.Errorf("frame is %d bytes, want 8192", got)
	}

	h.s.MuteMicrophone()
	h.stream.Push(make([]float32, 4096))
	h.s.Pause()
	h.s.UnmuteMicrophone()
	h.stream.Push(make([]float32, 4096))
	time.Sleep(20 * time.Millisecond)
	if got := len(h.conn.SentAudio()); got != 1 {
		t.Fatalf("sent %d frames while muted or paused, want 1", got)
	}

	h.s.Resume()
	h.stream.Push(make([]float32, 4096))
	waitFor(t, "frame after resume", func() bool { return len(h.conn.SentAudio()) == 2 })
}

func TestMicrophone_InitiallyMuted(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{MicMuted: true})

	h.stream.Push(make([]float32, 8192))
	time.Sleep(20 * time.Millisecond)
	if got := len(h.conn.SentAudio()); got != 0 {
		t.Errorf("sent %d frames while muted", got)
	}
}

// ── pause, mute, end ───────────────────────────────────────────────────────────

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.s.Pause()
	if !h.pb.Suspended || h.s.State() != session.StatePaused {
		t.Fatalf("after Pause: suspended=%v state=%v", h.pb.Suspended, h.s.State())
	}
	h.s.Pause()
	if h.pb.CallCountSuspend != 1 {
		t.Errorf("Suspend called %d times", h.pb.CallCountSuspend)
	}

	h.s.Resume()
	if h.pb.Suspended || h.s.State() != session.StateActive {
		t.Fatalf("after Resume: suspended=%v state=%v", h.pb.Suspended, h.s.State())
	}
	assertStates(t, h.rec.States(),
		session.StateStarting, session.StateOpen, session.StateActive, session.StatePaused, session.StateActive)
}

func TestSpeakerMute(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.s.MuteSpeaker()
	h.s.MuteSpeaker()
	h.s.UnmuteSpeaker()
	h.s.UnmuteSpeaker()

	want := []amock.GainRampCall{{Target: 0, Duration: 100 * time.Millisecond}, {Target: 1, Duration: 100 * time.Millisecond}}
	if len(h.pb.GainRampCalls) != len(want) {
		t.Fatalf("ramps = %+v, want %+v", h.pb.GainRampCalls, want)
	}
	for i := range want {
		if h.pb.GainRampCalls[i] != want[i] {
			t.Errorf("ramp %d = %+v, want %+v", i, h.pb.GainRampCalls[i], want[i])
		}
	}
}

func TestSpeakerMuted_RevealsAtReadingPace(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{SpeakerMuted: true})

	if len(h.pb.GainSetCalls) == 0 || h.pb.GainSetCalls[0] != 0 {
		t.Errorf("initial gain = %v, want 0", h.pb.GainSetCalls)
	}

	h.conn.Push(live.Event{OutputTranscript: "One ", Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: "two ", Audio: [][]byte{chunk(1)}})
	h.conn.Push(live.Event{OutputTranscript: "three", Audio: [][]byte{chunk(1)}, TurnComplete: true})

	// The clock never moves, yet every fragment is shown.
	waitFor(t, "all fragments", func() bool { return h.rec.hasUpdate(update{"One two three", false, turn.SourceAI}) })
	var partial int
	for _, u := range h.rec.Updates() {
		if u.Src == turn.SourceAI && !u.Final {
			partial++
		}
	}
	if partial != 3 {
		t.Errorf("got %d partial updates, want one per fragment", partial)
	}

	// Audio keeps its schedule while muted.
	if got := len(h.pb.Scheduled()); got != 3 {
		t.Errorf("scheduled %d chunks, want 3", got)
	}
	h.pb.SetTime(0.3)
	waitFor(t, "final turn", func() bool { return h.rec.hasUpdate(update{"One two three", true, turn.SourceAI}) })
}

func TestEnd(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})
	h.conn.Push(live.Event{Audio: [][]byte{chunk(1)}})
	waitFor(t, "chunk", func() bool { return len(h.pb.Scheduled()) == 1 })

	h.s.End()
	h.s.End()

	assertStates(t, h.rec.States(),
		session.StateStarting, session.StateOpen, session.StateActive, session.StateEnding, session.StateClosed)
	if !h.stream.Closed() {
		t.Error("input stream not closed")
	}
	if h.pb.CallCountClose != 1 {
		t.Errorf("playback closed %d times, want 1", h.pb.CallCountClose)
	}
	if !h.conn.Closed() {
		t.Error("connection not closed")
	}
	if g := h.pb.GainSetCalls; g[len(g)-1] != 0 {
		t.Errorf("gain not zeroed on end: %v", g)
	}
	if !h.pb.Scheduled()[0].Source.Stopped() {
		t.Error("scheduled source not stopped")
	}
	if err := h.s.SendText("late"); !errors.Is(err, session.ErrNotRunning) {
		t.Errorf("SendText after End = %v", err)
	}
}

func TestEnd_BeforeStart(t *testing.T) {
	h := newHarness(t)
	h.s.End()

	if len(h.rec.States()) != 0 {
		t.Errorf("states = %v, want none", h.rec.States())
	}
	if err := h.s.Start(context.Background(), session.StartOptions{}); !errors.Is(err, session.ErrSessionUsed) {
		t.Errorf("Start after End = %v, want ErrSessionUsed", err)
	}
}

// ── remote close ───────────────────────────────────────────────────────────────

func TestRemoteError(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Finish(&live.APIError{Code: 429, Status: live.StatusResourceExhausted, Message: "Resource has been exhausted (e.g. check quota)."})
	waitFor(t, "error state", func() bool { return h.s.State() == session.StateError })

	if got := h.rec.Errors(); len(got) != 1 || !live.IsQuotaMessage(got[0]) {
		t.Errorf("errors = %v", got)
	}
	if got := h.rec.Kinds(); len(got) != 1 || got[0] != session.ErrorKindQuota {
		t.Errorf("error kinds = %v", got)
	}
	if !live.IsQuotaExceeded(h.s.Err()) {
		t.Errorf("Err = %v, want quota error", h.s.Err())
	}

	h.s.End()
	assertStates(t, h.rec.States(), session.StateStarting, session.StateOpen, session.StateActive)
	if !h.stream.Closed() {
		t.Error("input stream not released")
	}

	h.s.Pause()
	h.s.MuteSpeaker()
	if h.s.State() != session.StateError {
		t.Errorf("state changed after error: %v", h.s.State())
	}
}

func TestRemoteDrop(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Finish(errors.New("read tcp: connection reset by peer"))
	waitFor(t, "error state", func() bool { return h.s.State() == session.StateError })

	if got := h.rec.Errors(); len(got) != 1 || got[0] != session.MsgConnectionClosed {
		t.Errorf("errors = %v, want %q", got, session.MsgConnectionClosed)
	}
}

func TestRemoteCleanClose(t *testing.T) {
	h := newHarness(t)
	h.activate(t, session.StartOptions{})

	h.conn.Finish(nil)
	waitFor(t, "closed state", func() bool { return h.s.State() == session.StateClosed })

	if len(h.rec.Errors()) != 0 {
		t.Errorf("errors = %v", h.rec.Errors())
	}
	assertStates(t, h.rec.States(), session.StateStarting, session.StateOpen, session.StateActive, session.StateClosed)
}
