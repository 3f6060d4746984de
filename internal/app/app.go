// Package app runs the conversational turn pipeline for one local user.
//
// A [Session] owns the turn machine and every resource a turn touches:
// the capture engine, the playback manager and the avatar driver. An [App]
// wraps a Session with the processes a front end needs around it (the
// browser bridge, the config watcher and an HTTP listener) and runs them
// together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/event"
	"github.com/voxpersona/voxpersona/pkg/audio/wsbridge"
)

const shutdownTimeout = 5 * time.Second

// App runs a Session and its surrounding processes.
type App struct {
	session *Session
	bridge  *wsbridge.Bridge
	watcher *config.Watcher
	server  *http.Server
	tls     *config.TLSConfig
	level   *slog.LevelVar

	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithBridge connects a browser bridge: its commands drive the session and
// every session event is forwarded to it.
func WithBridge(b *wsbridge.Bridge) Option {
	return func(a *App) { a.bridge = b }
}

// WithWatcher runs w so config edits reach the session. Build w with
// [App.OnConfigChange] as its callback.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithServer runs srv for the lifetime of the app. tls may be nil.
func WithServer(srv *http.Server, tls *config.TLSConfig) Option {
	return func(a *App) {
		a.server = srv
		a.tls = tls
	}
}

// WithLevelVar lets hot reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App around session.
func New(session *Session, opts ...Option) *App {
	a := &App{session: session}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Session returns the wrapped session.
func (a *App) Session() *Session { return a.session }

// Run starts every configured process and blocks until ctx is done or one
// of them fails. It does not close the session; call [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.session.Run(ctx) })
	g.Go(func() error {
		if _, err := a.session.LoadVoices(ctx); err != nil {
			slog.Warn("app: voices unavailable", "err", err)
		}
		return nil
	})

	if a.bridge != nil {
		g.Go(func() error { return a.pumpCommands(ctx) })
		g.Go(func() error { return a.forwardEvents(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.serve() })
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app: running", "bridge", a.bridge != nil, "watcher", a.watcher != nil, "server", a.server != nil)
	return g.Wait()
}

func (a *App) serve() error {
	slog.Info("app: listening", "addr", a.server.Addr, "tls", a.tls != nil)
	var err error
	if a.tls != nil {
		err = a.server.ListenAndServeTLS(a.tls.CertFile, a.tls.KeyFile)
	} else {
		err = a.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// pumpCommands feeds bridge commands into the session. Failures are already
// published as error events, so they are only logged here.
func (a *App) pumpCommands(ctx context.Context) error {
	cmds := a.bridge.Commands()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			if err := a.session.Dispatch(ctx, Command(cmd)); err != nil {
				slog.Warn("app: command failed", "action", cmd.Action, "err", err)
				a.session.publish(event.TypeError, errorPayload(err))
			}
		}
	}
}

// forwardEvents publishes session events to the connected browser.
func (a *App) forwardEvents(ctx context.Context) error {
	events, unsubscribe := a.session.Bus().Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !a.bridge.Connected() {
				continue
			}
			if err := a.bridge.Publish(ctx, ev.Type, ev.Payload); err != nil {
				slog.Debug("app: forward event", "type", ev.Type, "err", err)
			}
		}
	}
}

// OnConfigChange applies a hot reload. Its signature matches the
// [config.Watcher] callback.
func (a *App) OnConfigChange(_, _ *config.Config, c config.Changes) {
	if c.LogLevelChanged && a.level != nil {
		a.level.Set(c.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", c.NewLogLevel)
	}
	a.session.Apply(c)
}

// Shutdown closes the session and the bridge. Safe to call more than once.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		errs := []error{a.session.Close()}
		if a.bridge != nil {
			errs = append(errs, a.bridge.Close())
		}
		a.session.Bus().Close()
		err = errors.Join(errs...)
	})
	return err
}
