package app

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/internal/session"
)

// ErrBusy is returned by [SessionManager.New] while another interview holds
// the audio devices.
var ErrBusy = errors.New("app: another interview is running")

// SessionInfo describes the current interview.
type SessionInfo struct {
	SessionID   string
	InterviewID string
	StartedAt   time.Time
	State       session.State
}

// SessionManager hands out sessions one at a time. The microphone and speaker
// are process-wide, so a new interview can only begin after the previous one
// has reached a terminal state. All methods are safe for concurrent use.
type SessionManager struct {
	build func(session.Callbacks) *session.Session
	now   func() time.Time

	mu     sync.Mutex
	active *session.Session
	info   SessionInfo
}

// NewSessionManager returns a manager creating sessions with build.
func NewSessionManager(build func(session.Callbacks) *session.Session) *SessionManager {
	return &SessionManager{build: build, now: time.Now}
}

// New builds the session for interviewID, or returns [ErrBusy] while the
// previous one is still in use.
func (m *SessionManager) New(interviewID string, cb session.Callbacks) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.State().Terminal() {
		return nil, ErrBusy
	}
	s := m.build(cb)
	m.active = s
	m.info = SessionInfo{
		SessionID:   s.ID(),
		InterviewID: interviewID,
		StartedAt:   m.now(),
	}
	return s, nil
}

// Active returns the current interview. ok is false when none is in use.
func (m *SessionManager) Active() (info SessionInfo, ok bool) {
	m.mu.Lock()
	s, info := m.active, m.info
	m.mu.Unlock()

	if s == nil {
		return SessionInfo{}, false
	}
	info.State = s.State()
	return info, !info.State.Terminal()
}

// EndActive ends the current interview, if any, and waits for its release.
func (m *SessionManager) EndActive() {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s != nil {
		s.End()
	}
}
