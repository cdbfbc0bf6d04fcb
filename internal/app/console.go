package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/liveinterview/internal/history"
	"github.com/MrWong99/liveinterview/internal/session"
	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
)

// Console commands, each typed on its own line. Any other line is sent to the
// model as a text message.
const (
	ConsoleEnd           = "/end"
	ConsolePause         = "/pause"
	ConsoleResume        = "/resume"
	ConsoleMute          = "/mute"
	ConsoleUnmute        = "/unmute"
	ConsoleMuteSpeaker   = "/mute-speaker"
	ConsoleUnmuteSpeaker = "/unmute-speaker"
	ConsoleHelp          = "/help"
)

const consoleHelp = `commands: /end /pause /resume /mute /unmute /mute-speaker /unmute-speaker; anything else is sent as text`

// printer serialises console output.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Console runs one interview in a terminal. Final transcript lines are
// written to out; lines read from in are commands or text messages. A
// non-empty interviewID resumes that interview from the history store.
//
// Console returns the interview ID, so the caller can offer to resume it,
// once the interview ends, in is exhausted or ctx is cancelled. The error is
// non-nil when the interview failed.
func (a *App) Console(ctx context.Context, interviewID string, in io.Reader, out io.Writer) (string, error) {
	id := interviewID
	var prior []transcript.Entry
	if id == "" {
		id = uuid.NewString()
	} else {
		var err error
		if prior, err = a.store.Load(ctx, id); err != nil {
			return id, fmt.Errorf("app: load history: %w", err)
		}
	}

	cfg := a.cfg.Load()
	p := &printer{out: out}
	labels := map[turn.Source]string{
		turn.SourceUser: cfg.Script.UserLabel,
		turn.SourceAI:   cfg.Script.AgentLabel,
	}
	for _, e := range transcript.Finals(prior) {
		p.printf("%s: %s\n", labels[e.Source], e.Text)
	}

	rec := history.NewRecorder(a.store, id, a.log)
	defer rec.Close()
	tlog := transcript.NewLog(prior, transcript.WithOnFinal(rec.Record))

	var (
		doneOnce sync.Once
		done     = make(chan struct{})
		failMsg  string
	)
	finish := func() { doneOnce.Do(func() { close(done) }) }

	sess, err := a.sessions.New(id, session.Callbacks{
		OnUpdate: func(text string, final bool, src turn.Source) {
			tlog.Apply(text, final, src)
			if final {
				p.printf("%s: %s\n", labels[src], text)
			}
		},
		OnStateChange: func(st session.State) {
			switch st {
			case session.StateActive, session.StatePaused, session.StateClosed:
				p.printf("[%s]\n", st)
			}
			if st.Terminal() {
				finish()
			}
		},
		OnError: func(msg, _ string) {
			failMsg = msg
			p.printf("[error] %s\n", msg)
			finish()
		},
	})
	if err != nil {
		return id, err
	}
	defer sess.End()

	p.printf("[interview %s] %s\n", id, consoleHelp)

	go func() {
		if err := sess.Start(ctx, session.StartOptions{
			MicMuted:     cfg.Audio.MicMuted,
			SpeakerMuted: cfg.Audio.SpeakerMuted,
			History:      prior,
		}); err != nil {
			finish()
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return id, nil
		case <-done:
			sess.End()
			if failMsg != "" {
				return id, errors.New(failMsg)
			}
			return id, nil
		case line, ok := <-lines:
			if !ok {
				return id, nil
			}
			if a.consoleCommand(sess, p, strings.TrimSpace(line)) {
				return id, nil
			}
		}
	}
}

// consoleCommand executes one input line and reports whether the console
// should stop.
func (a *App) consoleCommand(sess *session.Session, p *printer, line string) (stop bool) {
	switch line {
	case "":
	case ConsoleEnd:
		return true
	case ConsolePause:
		sess.Pause()
	case ConsoleResume:
		sess.Resume()
	case ConsoleMute:
		sess.MuteMicrophone()
		p.printf("[microphone muted]\n")
	case ConsoleUnmute:
		sess.UnmuteMicrophone()
		p.printf("[microphone on]\n")
	case ConsoleMuteSpeaker:
		sess.MuteSpeaker()
	case ConsoleUnmuteSpeaker:
		sess.UnmuteSpeaker()
	case ConsoleHelp:
		p.printf("%s\n", consoleHelp)
	default:
		if err := sess.SendText(line); err != nil {
			p.printf("[not connected yet]\n")
		}
	}
	return false
}
