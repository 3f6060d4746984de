package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reports validated changes. Polling keeps
// it free of platform notification APIs; a sha256 of the content filters out
// touches that do not change anything.
type Watcher struct {
	path     string
	interval time.Duration
	prepare  func(*Config)
	onChange func(old, new *Config, changes Changes)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithPrepare runs fn on every freshly loaded config before it is validated
// again and compared, e.g. to apply environment overrides.
func WithPrepare(fn func(*Config)) WatcherOption {
	return func(w *Watcher) {
		w.prepare = fn
	}
}

// NewWatcher loads path once and returns a Watcher primed with it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config, changes Changes), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recent valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		// Keep the last good config; the next edit gets another chance.
		slog.Warn("config: reload rejected", "path", w.path, "err", err)
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash = cfg, hash
	w.mu.Unlock()

	changes := Diff(old, cfg)
	slog.Info("config: reloaded", "path", w.path,
		"log_level", changes.LogLevelChanged,
		"avatar", changes.AvatarChanged,
		"persona", changes.PersonaChanged,
	)
	if len(changes.RestartRequired) > 0 {
		slog.Warn("config: some changes need a restart", "sections", changes.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, changes)
	}
}

func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	if w.prepare != nil {
		w.prepare(cfg)
		if err := Validate(cfg); err != nil {
			return nil, zero, time.Time{}, err
		}
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
