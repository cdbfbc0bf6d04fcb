package session

import (
	"context"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// receive consumes server events until the connection ends.
func (s *Session) receive(conn live.Conn) {
	defer s.wg.Done()

	for ev := range conn.Events() {
		s.mu.Lock()
		if s.conn == conn && s.state.running() {
			s.handleEvent(ev)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.conn != conn || !s.state.running() {
		s.mu.Unlock()
		return
	}
	var closers []func()
	if err := conn.Err(); err != nil {
		closers = s.fail(errorMessage(err, MsgConnectionClosed), err)
	} else {
		s.log.Info("connection closed by endpoint")
		closers = s.teardown()
		s.setState(StateClosed)
	}
	s.mu.Unlock()
	s.release(closers)
}

// handleEvent applies one server event. It must be called with s.mu held.
func (s *Session) handleEvent(ev live.Event) {
	if s.state == StateOpen {
		s.setState(StateActive)
	}
	// An interruption is applied first so the cut-off turn is still open
	// when it is marked.
	if ev.Interrupted {
		s.interrupt("speech")
	}
	if ev.InputTranscript != "" {
		s.sync.UserFragment(ev.InputTranscript)
	}
	if ev.OutputTranscript != "" {
		s.sync.AIFragment(ev.OutputTranscript)
	}
	if ev.TurnComplete {
		unpaired, queued := s.sync.Pending()
		s.log.Debug("model turn complete", "unpaired", unpaired, "queued", queued)
		s.sync.TurnComplete(s.nextStart)
	}
	for _, chunk := range ev.Audio {
		s.schedule(chunk)
	}
}

// schedule queues one chunk of model audio right after the previous one, or
// immediately if playback has caught up. It must be called with s.mu held.
func (s *Session) schedule(chunk []byte) {
	buf, err := audio.DecodePCM(chunk, audio.PlaybackSampleRate, 1)
	if err != nil {
		s.metrics.DecodeErrors.Add(context.Background(), 1)
		s.log.Warn("dropping undecodable audio chunk", "bytes", len(chunk), "error", err)
		return
	}
	if buf.Frames() == 0 {
		return
	}

	start := max(s.nextStart, s.playback.CurrentTime())
	var src audio.Source
	src, err = s.playback.Schedule(buf, start, func() {
		s.mu.Lock()
		delete(s.sources, src)
		s.mu.Unlock()
	})
	if err != nil {
		s.log.Warn("failed to schedule audio chunk", "error", err)
		return
	}
	s.sources[src] = struct{}{}
	s.nextStart = start + buf.Duration()
	s.sync.AudioScheduled(start)
	s.metrics.ChunksScheduled.Add(context.Background(), 1)
}
