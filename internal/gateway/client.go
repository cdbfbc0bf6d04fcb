package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrWong99/liveinterview/internal/history"
	"github.com/MrWong99/liveinterview/internal/observe"
	"github.com/MrWong99/liveinterview/internal/session"
	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
)

// Error messages sent for rejected commands.
const (
	msgAlreadyRunning = "an interview is already running"
	msgNoInterview    = "no interview is running"
	msgRateLimited    = "too many messages, please slow down"
	msgHistoryFailed  = "could not load the interview history"
	msgUnknownCommand = "unknown command"
)

const (
	writeTimeout = 5 * time.Second
	storeTimeout = 5 * time.Second
)

// client is the state of one websocket connection.
type client struct {
	srv     *Server
	conn    *websocket.Conn
	log     *slog.Logger
	limiter *rate.Limiter

	events *queue[Event]

	mu       sync.Mutex
	sess     *session.Session
	recorder *history.Recorder
	wg       sync.WaitGroup
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("gateway: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{
		srv:     s,
		conn:    conn,
		log:     s.log.With("remote", r.RemoteAddr),
		limiter: rate.NewLimiter(s.limit, s.burst),
		events:  newQueue[Event](),
	}
	c.run(r.Context())
}

// run serves the connection until the client disconnects.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Info("gateway: client connected")
	defer c.log.Info("gateway: client disconnected")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.events.drain(ctx, func(ev Event) error {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			defer wcancel()
			return wsjson.Write(wctx, c.conn, ev)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug("gateway: event writer stopped", "err", err)
		}
		cancel()
	}()

	for {
		var cmd Command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				c.log.Debug("gateway: read failed", "err", err)
			}
			break
		}
		c.handle(ctx, cmd)
	}

	if sess := c.current(); sess != nil {
		sess.End()
	}
	c.events.close()
	c.wg.Wait()

	c.mu.Lock()
	if c.recorder != nil {
		c.recorder.Close()
	}
	c.mu.Unlock()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *client) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// handle executes one command.
func (c *client) handle(ctx context.Context, cmd Command) {
	if cmd.Type == CmdStart {
		c.start(ctx, cmd)
		return
	}

	sess := c.current()
	if sess == nil {
		c.sendError(msgNoInterview, KindGeneric)
		return
	}
	switch cmd.Type {
	case CmdEnd:
		sess.End()
	case CmdPause:
		sess.Pause()
	case CmdResume:
		sess.Resume()
	case CmdMuteMic:
		sess.MuteMicrophone()
	case CmdUnmuteMic:
		sess.UnmuteMicrophone()
	case CmdMuteSpeaker:
		sess.MuteSpeaker()
	case CmdUnmuteSpeaker:
		sess.UnmuteSpeaker()
	case CmdSendText:
		if strings.TrimSpace(cmd.Text) == "" {
			return
		}
		if !c.limiter.Allow() {
			c.sendError(msgRateLimited, KindGeneric)
			return
		}
		if err := sess.SendText(cmd.Text); err != nil {
			c.sendError(msgNoInterview, KindGeneric)
		}
	default:
		c.sendError(fmt.Sprintf("%s %q", msgUnknownCommand, cmd.Type), KindGeneric)
	}
}

// start loads history and starts a new session in the background, so that
// an end command can still be read while it connects.
func (c *client) start(ctx context.Context, cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && !c.sess.State().Terminal() {
		c.sendError(msgAlreadyRunning, KindGeneric)
		return
	}

	id := cmd.InterviewID
	var prior []transcript.Entry
	if id == "" {
		id = uuid.NewString()
	} else {
		lctx, cancel := context.WithTimeout(ctx, storeTimeout)
		var err error
		prior, err = c.srv.store.Load(lctx, id)
		cancel()
		if err != nil {
			c.log.Error("gateway: loading history failed", "interview_id", id, "err", err)
			c.sendError(msgHistoryFailed, KindGeneric)
			return
		}
	}

	rec := history.NewRecorder(c.srv.store, id, c.log)
	tlog := transcript.NewLog(prior, transcript.WithOnFinal(rec.Record))
	sess, err := c.srv.newSession(id, session.Callbacks{
		OnUpdate: func(text string, final bool, src turn.Source) {
			tlog.Apply(text, final, src)
			c.events.push(Event{Type: EvtUpdate, Text: text, Final: final, Source: src.String()})
		},
		OnStateChange: func(st session.State) {
			c.events.push(Event{Type: EvtState, State: st.String()})
		},
		OnError: func(msg, kind string) {
			c.sendError(msg, kind)
		},
	})
	if err != nil {
		rec.Close()
		c.log.Warn("gateway: cannot create session", "interview_id", id, "err", err)
		c.sendError(err.Error(), KindGeneric)
		return
	}
	if c.recorder != nil {
		c.recorder.Close()
	}
	c.sess = sess
	c.recorder = rec

	resumed := len(transcript.Finals(prior)) > 0
	c.events.push(Event{Type: EvtStarted, InterviewID: id, SessionID: sess.ID(), Resumed: resumed})
	c.log.Info("gateway: starting interview", "interview_id", id, "session_id", sess.ID(), "resumed", resumed)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sctx, span := observe.StartSpan(ctx, "interview.start",
			observe.AttrInterviewID.String(id),
			observe.AttrSessionID.String(sess.ID()),
		)
		err := sess.Start(sctx, session.StartOptions{
			MicMuted:     cmd.MicMuted,
			SpeakerMuted: cmd.SpeakerMuted,
			History:      prior,
		})
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil && !errors.Is(err, session.ErrEnded) {
			c.log.Debug("gateway: session start returned", "session_id", sess.ID(), "err", err)
		}
	}()
}

func (c *client) sendError(msg, kind string) {
	c.events.push(Event{Type: EvtError, Message: msg, Kind: kind})
}
