// Package history persists finished interview turns so an interview can be
// resumed later. Only final turns are stored; a resumed session folds them
// into its system instruction.
//
// Two implementations are provided: [MemStore] for single-process use and
// tests, and [PostgresStore] backed by a pgx connection pool.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/liveinterview/internal/transcript"
)

// ErrInvalidID is returned for an empty interview ID.
var ErrInvalidID = errors.New("history: empty interview id")

// Store persists interview transcripts. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores one final entry under interviewID. Non-final and blank
	// entries are ignored.
	Append(ctx context.Context, interviewID string, e transcript.Entry) error

	// Load returns all entries of interviewID in the order they were
	// appended. An unknown ID yields an empty result.
	Load(ctx context.Context, interviewID string) ([]transcript.Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close()
}

// Compile-time interface assertions.
var (
	_ Store = (*MemStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// skip reports whether e is not worth storing.
func skip(e transcript.Entry) bool {
	return !e.Final || strings.TrimSpace(e.Text) == ""
}

// MemStore keeps history in memory.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]transcript.Entry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]transcript.Entry)}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, interviewID string, e transcript.Entry) error {
	if interviewID == "" {
		return ErrInvalidID
	}
	if skip(e) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[interviewID] = append(m.entries[interviewID], e)
	return nil
}

// Load implements [Store].
func (m *MemStore) Load(_ context.Context, interviewID string) ([]transcript.Entry, error) {
	if interviewID == "" {
		return nil, ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcript.Entry(nil), m.entries[interviewID]...), nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemStore) Close() {}
