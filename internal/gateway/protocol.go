package gateway

// Command types sent by the client.
const (
	CmdStart         = "start"
	CmdEnd           = "end"
	CmdPause         = "pause"
	CmdResume        = "resume"
	CmdSendText      = "send_text"
	CmdMuteMic       = "mute_mic"
	CmdUnmuteMic     = "unmute_mic"
	CmdMuteSpeaker   = "mute_speaker"
	CmdUnmuteSpeaker = "unmute_speaker"
)

// Event types sent by the server.
const (
	EvtStarted = "started"
	EvtUpdate  = "update"
	EvtState   = "state"
	EvtError   = "error"
)

// Error kinds carried by error events.
const (
	KindQuota   = "quota"
	KindGeneric = "generic"
)

// Command is one client request.
type Command struct {
	Type string `json:"type"`

	// Text is the message of send_text.
	Text string `json:"text,omitempty"`

	// InterviewID resumes a stored interview on start. Empty starts a new
	// one.
	InterviewID string `json:"interview_id,omitempty"`

	// MicMuted and SpeakerMuted set the initial mute state on start.
	MicMuted     bool `json:"mic_muted,omitempty"`
	SpeakerMuted bool `json:"speaker_muted,omitempty"`
}

// Event is one server notification.
type Event struct {
	Type string `json:"type"`

	// started
	InterviewID string `json:"interview_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Resumed     bool   `json:"resumed,omitempty"`

	// update
	Text   string `json:"text,omitempty"`
	Final  bool   `json:"final,omitempty"`
	Source string `json:"source,omitempty"`

	// state
	State string `json:"state,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
