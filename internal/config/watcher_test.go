package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
persona:
  preset: friendly
`

const watcherUpdatedYAML = `
server:
  log_level: debug
persona:
  preset: creative
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime pushes the file's mtime forward so coarse filesystem clocks
// still register a change.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func startWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Persona.Preset; got != "friendly" {
		t.Errorf("preset = %q, want friendly", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	var (
		mu      sync.Mutex
		changes []config.Changes
	)
	notified := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, c config.Changes) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
		select {
		case notified <- struct{}{}:
		default:
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}

	mu.Lock()
	defer mu.Unlock()
	c := changes[0]
	if !c.LogLevelChanged || c.NewLogLevel != config.LogDebug {
		t.Errorf("log level change = %+v", c)
	}
	if !c.PersonaChanged || c.NewPersona.Preset != "creative" {
		t.Errorf("persona change = %+v", c)
	}
	if w.Current().Persona.Preset != "creative" {
		t.Errorf("Current not updated")
	}
}

func TestWatcher_InvalidReloadKeepsLastGood(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, _ config.Changes) {
		called <- struct{}{}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path, time.Second)

	select {
	case <-called:
		t.Fatal("onChange called for an invalid config")
	case <-time.After(150 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("last good config replaced")
	}
}

func TestWatcher_PrepareApplied(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithPrepare(func(c *config.Config) {
		config.ApplyEnv(c, func(k string) string {
			if k == config.EnvBackendURL {
				return "http://elsewhere:5000"
			}
			return ""
		})
	}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Backend.BaseURL; got != "http://elsewhere:5000" {
		t.Errorf("backend url = %q", got)
	}
}
