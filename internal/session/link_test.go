package session

import (
	"log/slog"
	"testing"
	"time"

	lmock "github.com/MrWong99/liveinterview/pkg/live/mock"
)

func waitSent(t *testing.T, c *lmock.Conn, texts, chunks int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.SentTexts()) < texts || len(c.SentAudio()) < chunks {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: sent %d texts, %d chunks", len(c.SentTexts()), len(c.SentAudio()))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLink_QueuesUntilAttached(t *testing.T) {
	l := newLink(4, slog.Default())
	go l.run()
	defer l.close()

	l.sendText("queued")
	conn := lmock.NewConn()
	l.attach(conn, "kickoff")
	l.sendText("after")

	waitSent(t, conn, 3, 0)
	got := conn.SentTexts()
	want := []string{"kickoff", "queued", "after"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("texts = %q, want %q", got, want)
		}
	}
}

func TestLink_DropsAudioWhenFull(t *testing.T) {
	l := newLink(2, slog.Default())
	defer l.close()

	// Not running yet, so nothing drains.
	if !l.offerAudio([]byte{1, 0}) || !l.offerAudio([]byte{2, 0}) {
		t.Fatal("audio rejected below the limit")
	}
	if l.offerAudio([]byte{3, 0}) {
		t.Fatal("audio accepted above the limit")
	}
	l.sendText("text is never dropped")

	conn := lmock.NewConn()
	l.attach(conn, "")
	go l.run()
	waitSent(t, conn, 1, 2)
	if got := conn.SentAudio(); got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("audio order = %v", got)
	}
}

func TestLink_Close(t *testing.T) {
	l := newLink(2, slog.Default())
	done := make(chan struct{})
	go func() {
		l.run()
		close(done)
	}()
	l.close()
	l.close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	if l.offerAudio([]byte{0, 0}) {
		t.Error("audio accepted after close")
	}
}
