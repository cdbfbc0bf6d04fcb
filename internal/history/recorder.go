package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/internal/transcript"
)

// appendTimeout bounds a single background Append.
const appendTimeout = 5 * time.Second

// Recorder appends the entries of one interview to a [Store] in the
// background, in the order they were recorded. Record never blocks, so it can
// be called from session callbacks.
type Recorder struct {
	store Store
	id    string
	log   *slog.Logger

	mu      sync.Mutex
	pending []transcript.Entry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewRecorder starts a recorder writing to store under interviewID.
func NewRecorder(store Store, interviewID string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store: store,
		id:    interviewID,
		log:   log.With("interview_id", interviewID),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// InterviewID returns the interview the recorder writes to.
func (r *Recorder) InterviewID() string { return r.id }

// Record queues e. It is a no-op after Close.
func (r *Recorder) Record(e transcript.Entry) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, e)
	r.mu.Unlock()
	r.signal()
}

// Close stops accepting entries and waits until the queued ones are written.
// It is idempotent.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
	<-r.done
}

func (r *Recorder) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		closed := r.closed
		r.mu.Unlock()

		for _, e := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
			if err := r.store.Append(ctx, r.id, e); err != nil {
				r.log.Error("history: append failed", "source", e.Source, "err", err)
			}
			cancel()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.wake
	}
}
