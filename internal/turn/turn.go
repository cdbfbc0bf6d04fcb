// Package turn keeps model transcript text in lockstep with model audio.
//
// The endpoint streams model transcription and model audio as separate,
// loosely correlated streams. A [Synchronizer] pairs each transcription
// fragment with the next audio chunk scheduled for playback and reveals the
// fragment only once the playback clock reaches that chunk's start. It also
// decides when a turn is final, marks interrupted turns and keeps user and
// model turns from overlapping.
//
// A Synchronizer is a plain state machine: it owns no goroutines or clocks.
// The caller feeds it events and clock readings and must serialise all calls.
package turn

import (
	"fmt"
	"strings"
)

// TruncationMarker is appended to a model turn that was cut short.
const TruncationMarker = "..."

// Source identifies who produced a piece of transcript.
type Source int

const (
	// SourceUser is the interviewee.
	SourceUser Source = iota

	// SourceAI is the model.
	SourceAI
)

// String returns the wire name of the source.
func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceAI:
		return "ai"
	default:
		return "unknown"
	}
}

// ParseSource is the inverse of [Source.String].
func ParseSource(s string) (Source, bool) {
	switch s {
	case "user":
		return SourceUser, true
	case "ai":
		return SourceAI, true
	default:
		return 0, false
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Source) UnmarshalText(b []byte) error {
	v, ok := ParseSource(string(b))
	if !ok {
		return fmt.Errorf("turn: unknown source %q", b)
	}
	*s = v
	return nil
}

// Emitter receives every change of displayed transcript for a source. text is
// the full accumulated transcript of the current turn, not a delta.
type Emitter func(text string, final bool, src Source)

// ScheduledText is a fragment bound to the playback time it becomes visible.
type ScheduledText struct {
	Text        string
	DisplayTime float64
}

// TurnState is the open turn of one source.
type TurnState struct {
	Transcript string
	Final      bool
	Source     Source
}

// Synchronizer implements the text/audio pairing. It is not safe for
// concurrent use.
type Synchronizer struct {
	emit Emitter

	pending   []string        // fragments awaiting an audio chunk
	scheduled []ScheduledText // fragments awaiting their display time

	finalizePending bool
	finalizeAt      float64

	user string
	ai   string
}

// New returns a Synchronizer reporting through emit.
func New(emit Emitter) *Synchronizer {
	if emit == nil {
		emit = func(string, bool, Source) {}
	}
	return &Synchronizer{emit: emit}
}

// UserFragment appends transcribed user speech to the open user turn. An open
// model turn is finalized first.
func (s *Synchronizer) UserFragment(text string) {
	if text == "" {
		return
	}
	s.closeAI()
	s.user += text
	s.emit(s.user, false, SourceUser)
}

// AIFragment queues model transcription until its audio is scheduled. After a
// turn-complete signal there is no more audio to pair with, so late fragments
// are shown at the turn's end time instead.
func (s *Synchronizer) AIFragment(text string) {
	if text == "" {
		return
	}
	if s.finalizePending {
		s.scheduled = append(s.scheduled, ScheduledText{Text: text, DisplayTime: s.finalizeAt})
		return
	}
	s.pending = append(s.pending, text)
}

// AudioScheduled binds the oldest unpaired fragment, if any, to an audio chunk
// that starts playing at start.
func (s *Synchronizer) AudioScheduled(start float64) {
	if len(s.pending) == 0 {
		return
	}
	text := s.pending[0]
	s.pending = s.pending[1:]
	s.scheduled = append(s.scheduled, ScheduledText{Text: text, DisplayTime: start})
}

// TurnComplete records the end of the model's turn. endTime is when the last
// scheduled audio finishes; the turn is finalized by a later tick once every
// fragment has been shown and the clock has reached endTime. The open user
// turn is finalized immediately. Fragments that never got an audio chunk are
// shown at endTime.
func (s *Synchronizer) TurnComplete(endTime float64) {
	s.closeUser()
	for _, text := range s.pending {
		s.scheduled = append(s.scheduled, ScheduledText{Text: text, DisplayTime: endTime})
	}
	s.pending = nil
	s.finalizePending = true
	s.finalizeAt = endTime
}

// Interrupt abandons the model's turn. Queued fragments are discarded; text
// already shown is finalized once more with [TruncationMarker] appended.
// Both transcripts are reset.
func (s *Synchronizer) Interrupt() {
	s.pending = nil
	s.scheduled = nil
	s.finalizePending = false
	s.finalizeAt = 0
	if strings.TrimSpace(s.ai) != "" {
		s.emit(s.ai+TruncationMarker, true, SourceAI)
	}
	s.ai = ""
	s.user = ""
}

// Tick reveals every fragment whose display time has been reached and then
// finalizes the turn if it is due. It drives normal playback.
func (s *Synchronizer) Tick(now float64) {
	n := 0
	for n < len(s.scheduled) && s.scheduled[n].DisplayTime <= now {
		n++
	}
	s.reveal(n)
	s.maybeFinalize(now)
}

// TickOne reveals at most one fragment regardless of its display time and
// then finalizes the turn if it is due. It drives muted playback, where text
// is paced for reading rather than listening.
func (s *Synchronizer) TickOne(now float64) {
	s.reveal(min(1, len(s.scheduled)))
	s.maybeFinalize(now)
}

// ClearTranscripts forgets the open turn of both sources without emitting.
// Queued fragments are kept.
func (s *Synchronizer) ClearTranscripts() {
	s.ai = ""
	s.user = ""
}

// Reset drops all queued and open state without emitting anything.
func (s *Synchronizer) Reset() {
	s.pending = nil
	s.scheduled = nil
	s.finalizePending = false
	s.finalizeAt = 0
	s.ai = ""
	s.user = ""
}

// InFlight reports whether the model has a turn in progress: text shown,
// queued, or awaiting audio.
func (s *Synchronizer) InFlight() bool {
	return strings.TrimSpace(s.ai) != "" || len(s.pending) > 0 || len(s.scheduled) > 0
}

// State returns the open turn of src.
func (s *Synchronizer) State(src Source) TurnState {
	if src == SourceAI {
		return TurnState{Transcript: s.ai, Source: SourceAI}
	}
	return TurnState{Transcript: s.user, Source: SourceUser}
}

// Pending returns the number of fragments awaiting audio and display.
func (s *Synchronizer) Pending() (unpaired, scheduled int) {
	return len(s.pending), len(s.scheduled)
}

func (s *Synchronizer) reveal(n int) {
	if n == 0 {
		return
	}
	s.closeUser()
	for _, item := range s.scheduled[:n] {
		s.ai += item.Text
	}
	s.scheduled = s.scheduled[n:]
	s.emit(s.ai, false, SourceAI)
}

func (s *Synchronizer) maybeFinalize(now float64) {
	if !s.finalizePending || len(s.scheduled) > 0 || now < s.finalizeAt {
		return
	}
	if s.ai != "" {
		s.emit(s.ai, true, SourceAI)
	}
	s.ai = ""
	s.pending = nil
	s.finalizePending = false
	s.finalizeAt = 0
}

// closeUser finalizes an open user turn.
func (s *Synchronizer) closeUser() {
	if s.user == "" {
		return
	}
	s.emit(s.user, true, SourceUser)
	s.user = ""
}

// closeAI finalizes an open model turn without the truncation marker.
func (s *Synchronizer) closeAI() {
	if s.ai == "" {
		return
	}
	s.emit(s.ai, true, SourceAI)
	s.ai = ""
}
