package session

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/liveinterview/pkg/live"
)

// outbound is one queued client message.
type outbound struct {
	pcm  []byte
	text string
}

// link serialises everything the session sends on its connection through a
// single goroutine, in the order it was queued. Text queued before a
// connection is attached waits for it; audio is bounded and dropped when the
// connection cannot keep up.
type link struct {
	log      *slog.Logger
	maxAudio int

	mu     sync.Mutex
	conn   live.Conn
	items  []outbound
	audio  int
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newLink(maxAudio int, log *slog.Logger) *link {
	return &link{
		log:      log,
		maxAudio: maxAudio,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// attach binds the connection and queues first ahead of anything already
// waiting.
func (l *link) attach(c live.Conn, first string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.conn = c
	if first != "" {
		l.items = append([]outbound{{text: first}}, l.items...)
	}
	l.signal()
}

// sendText queues a text turn. It never drops.
func (l *link) sendText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.items = append(l.items, outbound{text: text})
	l.signal()
}

// offerAudio queues a microphone chunk unless the queue is full or the link
// is closed. It never blocks.
func (l *link) offerAudio(pcm []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.audio >= l.maxAudio {
		return false
	}
	l.items = append(l.items, outbound{pcm: pcm})
	l.audio++
	l.signal()
	return true
}

// signal must be called with l.mu held.
func (l *link) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// next pops the head of the queue once a connection is attached.
func (l *link) next() (live.Conn, outbound, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.conn == nil || len(l.items) == 0 {
		return nil, outbound{}, false
	}
	it := l.items[0]
	l.items[0] = outbound{}
	l.items = l.items[1:]
	if it.pcm != nil {
		l.audio--
	}
	return l.conn, it, true
}

// run is the pump. It returns after close.
func (l *link) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			c, it, ok := l.next()
			if !ok {
				break
			}
			var err error
			if it.pcm != nil {
				err = c.SendAudio(it.pcm)
			} else {
				err = c.SendText(it.text)
			}
			// The receive loop reports a dead connection; a failed send only
			// loses this message.
			if err != nil {
				l.log.Debug("send failed", "text", it.pcm == nil, "error", err)
			}
		}
	}
}

// close stops the pump and drops everything still queued. It is idempotent.
func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.items = nil
	close(l.done)
}
