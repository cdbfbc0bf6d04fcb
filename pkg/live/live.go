// Package live defines the contract for real-time speech conversation
// endpoints such as the Gemini Live API.
//
// A [Dialer] opens a [Conn]: a long-lived bidirectional session that accepts
// microphone PCM and text turns, and returns server events carrying model
// audio, transcriptions of both sides and turn boundaries. Transports live in
// sub-packages (live/gemini speaks the raw websocket protocol, live/genailive
// uses the official SDK); live/mock provides test doubles.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrClosed is returned by send operations on a closed [Conn].
var ErrClosed = errors.New("live: connection closed")

// InputMIMEType is the MIME type microphone audio is sent with.
const InputMIMEType = "audio/pcm;rate=16000"

// Setup is the session configuration sent when a connection is opened.
type Setup struct {
	// Model is the endpoint model name without the "models/" prefix.
	Model string

	// SystemInstruction is the interview script, history included.
	SystemInstruction string

	// Voice is a prebuilt voice name. Empty selects the endpoint default.
	Voice string
}

// Event is one server message, reduced to what a session reacts to. A single
// event may carry several fields; consumers handle them in the order
// Interrupted, InputTranscript, OutputTranscript, TurnComplete, Audio.
type Event struct {
	// SetupComplete marks the server's acknowledgement of the setup message.
	// It is always the first event on a connection.
	SetupComplete bool

	// InputTranscript is an incremental transcription fragment of the user.
	InputTranscript string

	// OutputTranscript is an incremental transcription fragment of the model.
	OutputTranscript string

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the model's turn was cut off by user speech.
	Interrupted bool

	// Audio holds raw 24 kHz mono s16le PCM chunks of model speech.
	Audio [][]byte
}

// Empty reports whether the event carries nothing a session would act on.
func (e Event) Empty() bool {
	return !e.SetupComplete && e.InputTranscript == "" && e.OutputTranscript == "" &&
		!e.TurnComplete && !e.Interrupted && len(e.Audio) == 0
}

// Conn is an open live session.
type Conn interface {
	// SendAudio streams a chunk of 16 kHz mono s16le PCM to the model.
	SendAudio(pcm []byte) error

	// SendText sends a text turn from the user.
	SendText(text string) error

	// Events returns the channel of server events. It is closed when the
	// connection ends for any reason; Err then tells whether it failed.
	Events() <-chan Event

	// Err returns the error that ended the connection, or nil if it closed
	// cleanly or is still open.
	Err() error

	// Close terminates the connection. It is idempotent.
	Close() error
}

// Dialer opens live connections.
type Dialer interface {
	// Dial connects, sends setup and waits for the server to acknowledge it.
	// Errors reported by the endpoint are returned as *[APIError].
	Dial(ctx context.Context, setup Setup) (Conn, error)
}
