// Package transcript aggregates the incremental updates a session emits into
// an ordered list of conversation entries.
//
// A session reports every change of displayed text as the full accumulated
// transcript of the current turn. [Log.Apply] folds those updates into
// entries using a last-entry merge rule:
//
//  1. If the last entry belongs to the other source and is still open, it is
//     closed.
//  2. If the last entry belongs to the same source and is still open, its text
//     and finality are replaced.
//  3. Otherwise a new entry is appended, unless the text is empty.
//
// Entries that become final are passed to the optional OnFinal hook, which is
// how finished turns reach persistent history.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/liveinterview/internal/turn"
)

// Entry is one turn of the conversation as shown to the user.
type Entry struct {
	Source turn.Source `json:"source"`
	Text   string      `json:"text"`
	Final  bool        `json:"final"`
	At     time.Time   `json:"at"`
}

// Log is an ordered transcript. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry

	onFinal func(Entry)
	now     func() time.Time
}

// Option configures a [Log].
type Option func(*Log)

// WithOnFinal registers fn to receive every entry that becomes final. fn is
// called without the log's lock held, in the order entries were finalized.
func WithOnFinal(fn func(Entry)) Option {
	return func(l *Log) { l.onFinal = fn }
}

// WithClock overrides the time source used for [Entry.At].
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog returns a Log seeded with history. Seeded entries are never passed to
// the OnFinal hook.
func NewLog(history []Entry, opts ...Option) *Log {
	l := &Log{
		entries: append([]Entry(nil), history...),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply merges one update into the log. It has the signature of a session's
// update callback.
func (l *Log) Apply(text string, final bool, src turn.Source) {
	var finalized []Entry

	l.mu.Lock()
	var last *Entry
	if n := len(l.entries); n > 0 {
		last = &l.entries[n-1]
	}

	if last != nil && last.Source != src && !last.Final {
		last.Final = true
		finalized = append(finalized, *last)
	}

	switch {
	case last != nil && last.Source == src && !last.Final:
		last.Text = text
		last.Final = final
		if final {
			finalized = append(finalized, *last)
		}
	case text != "":
		e := Entry{Source: src, Text: text, Final: final, At: l.now()}
		l.entries = append(l.entries, e)
		if final {
			finalized = append(finalized, e)
		}
	}
	hook := l.onFinal
	l.mu.Unlock()

	if hook != nil {
		for _, e := range finalized {
			hook(e)
		}
	}
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Finals returns only the final, non-blank entries. This is the subset that
// is worth persisting or replaying as history.
func Finals(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Final && strings.TrimSpace(e.Text) != "" {
			out = append(out, e)
		}
	}
	return out
}

