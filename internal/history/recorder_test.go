package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/liveinterview/internal/history"
	"github.com/MrWong99/liveinterview/internal/transcript"
	"github.com/MrWong99/liveinterview/internal/turn"
)

func TestRecorder_WritesInOrder(t *testing.T) {
	t.Parallel()

	store := history.NewMemStore()
	r := history.NewRecorder(store, "iv", nil)
	if r.InterviewID() != "iv" {
		t.Errorf("InterviewID = %q", r.InterviewID())
	}

	texts := []string{"one", "two", "three", "four"}
	for i, txt := range texts {
		src := turn.SourceAI
		if i%2 == 1 {
			src = turn.SourceUser
		}
		r.Record(transcript.Entry{Source: src, Text: txt, Final: true})
	}
	r.Close()
	r.Close()

	got, err := store.Load(context.Background(), "iv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d entries, want %d", len(got), len(texts))
	}
	for i := range texts {
		if got[i].Text != texts[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i].Text, texts[i])
		}
	}

	r.Record(transcript.Entry{Text: "late", Final: true})
	if got, _ := store.Load(context.Background(), "iv"); len(got) != len(texts) {
		t.Errorf("entry recorded after Close")
	}
}

// failingStore fails every Append.
type failingStore struct {
	history.MemStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, string, transcript.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("database down")
}

func TestRecorder_ContinuesAfterErrors(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	r := history.NewRecorder(store, "iv", nil)
	r.Record(transcript.Entry{Text: "a", Final: true})
	r.Record(transcript.Entry{Text: "b", Final: true})
	r.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 2 {
		t.Errorf("Append calls = %d, want 2", store.calls)
	}
}
