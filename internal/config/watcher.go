package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher polls a config file, and the instructions file it names, and hands
// each changed valid configuration to a callback. Running sessions keep the
// configuration they started with; the callback decides what later ones use.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Config
	applied [sha256.Size]byte
	// rejected is the digest of the last file that failed to load, so a
	// broken edit is reported once rather than on every poll.
	rejected [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling period. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload messages.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and polls it until [Watcher.Stop]. The initial load
// must succeed; later invalid edits are logged and ignored.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	digest, cfg, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.applied = cfg, digest

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Current returns the last configuration that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback to return. It is
// idempotent.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	digest, cfg, err := w.read()

	w.mu.Lock()
	switch {
	case digest == w.applied:
		w.rejected = [sha256.Size]byte{}
		w.mu.Unlock()
		return
	case err != nil:
		first := digest != w.rejected
		w.rejected = digest
		w.mu.Unlock()
		if first {
			w.log.Warn("config: ignoring invalid change, keeping previous configuration", "path", w.path, "err", err)
		}
		return
	}
	old := w.current
	w.current, w.applied = cfg, digest
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads the config and digests the raw file together with the resolved
// instructions. On failure the digest identifies the failure instead.
func (w *Watcher) read() ([sha256.Size]byte, *Config, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return sha256.Sum256([]byte(err.Error())), nil, err
	}
	cfg, err := parse(data, filepath.Dir(w.path))
	if err != nil {
		return sha256.Sum256(data), nil, err
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(cfg.Script.Instructions))
	var digest [sha256.Size]byte
	h.Sum(digest[:0])
	return digest, cfg, nil
}
