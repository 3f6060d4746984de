package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxpersona/voxpersona/internal/api"
	"github.com/voxpersona/voxpersona/internal/app"
	"github.com/voxpersona/voxpersona/internal/avatar"
	"github.com/voxpersona/voxpersona/internal/collab"
	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/health"
	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/internal/tui"
	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/audio/portaudio"
	"github.com/voxpersona/voxpersona/pkg/audio/wsbridge"
)

// ── api ───────────────────────────────────────────────────────────────────────

func newAPICmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the collaborator API (transcription, chat, speech)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.load(os.Stderr)
			if err != nil {
				return err
			}
			defer telemetry(ctx)()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			metrics := observe.DefaultMetrics()
			ps, err := buildProviders(cfg, reg, metrics)
			if err != nil {
				return err
			}

			srv := api.New(cfg,
				api.WithLLM(ps.LLM),
				api.WithSTT(ps.STT),
				api.WithTTS(ps.TTS),
				api.WithMetrics(metrics),
				api.WithReadiness(health.Configured("providers", map[string]string{
					"llm": cfg.Providers.LLM.Name,
					"tts": cfg.Providers.TTS.Name,
				})),
			)
			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			slog.Info("api ready", "addr", cfg.API.ListenAddr,
				"llm", cfg.Providers.LLM.Name, "stt", cfg.Providers.STT.Name, "tts", cfg.Providers.TTS.Name,
				"rate_limit_per_minute", cfg.API.RateLimitPerMinute)
			return serveUntilDone(ctx, httpSrv, cfg.Server.TLS)
		},
	}
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server, tls *config.TLSConfig) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}
	slog.Info("shutdown signal received, stopping")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// ── web ───────────────────────────────────────────────────────────────────────

func newWebCmd(g *globals) *cobra.Command {
	var staticDir string
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the browser front end; microphone and speaker live in the browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.load(os.Stderr)
			if err != nil {
				return err
			}
			defer telemetry(ctx)()

			client, err := newCollabClient(cfg)
			if err != nil {
				return err
			}

			var session *app.Session
			bridge := wsbridge.New(
				wsbridge.WithOriginPatterns(originPatterns(cfg.API.CORSOrigins)...),
				wsbridge.WithOnConnect(func() {
					if session != nil {
						session.Announce()
					}
				}),
			)
			session, err = newSession(cfg, bridge, bridge, client)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("GET /ws", bridge)
			mux.Handle("GET /metrics", observe.MetricsHandler())
			health.New(
				health.Checker{Name: "browser", Check: bridge.Check},
				health.Reachable("backend", client.BaseURL()+collab.PathHealth, nil),
			).Register(mux)
			if staticDir != "" {
				mux.Handle("GET /", api.Static(staticDir))
			}

			var a *app.App
			opts := []app.Option{
				app.WithBridge(bridge),
				app.WithLevelVar(g.level),
				app.WithServer(&http.Server{
					Addr:              cfg.Server.ListenAddr,
					Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
					ReadHeaderTimeout: 10 * time.Second,
				}, cfg.Server.TLS),
			}
			if w := g.watcher(func(old, next *config.Config, c config.Changes) { a.OnConfigChange(old, next, c) }); w != nil {
				opts = append(opts, app.WithWatcher(w))
			}
			a = app.New(session, opts...)
			slog.Info("web front end ready", "addr", cfg.Server.ListenAddr, "backend", client.BaseURL())
			return runApp(ctx, a)
		},
	}
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the browser UI, served at /")
	return cmd
}

// originPatterns turns CORS origins into websocket origin patterns, which
// match on host only.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		out = append(out, o)
	}
	return out
}

// ── tui ───────────────────────────────────────────────────────────────────────

func newTUICmd(g *globals) *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Talk through the local microphone and speakers in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()

			cfg, err := g.load(f)
			if err != nil {
				return err
			}
			client, err := newCollabClient(cfg)
			if err != nil {
				return err
			}

			terminate, err := portaudio.Initialize()
			if err != nil {
				return err
			}
			defer func() {
				if err := terminate(); err != nil {
					slog.Warn("portaudio terminate", "err", err)
				}
			}()

			mic := portaudio.NewMicrophone(
				portaudio.WithSampleRate(cfg.Audio.SampleRate),
				portaudio.WithChannels(cfg.Audio.Channels),
			)
			session, err := newSession(cfg, mic, portaudio.NewPlayer(), client)
			if err != nil {
				return err
			}

			var a *app.App
			opts := []app.Option{app.WithLevelVar(g.level)}
			if w := g.watcher(func(old, next *config.Config, c config.Changes) { a.OnConfigChange(old, next, c) }); w != nil {
				opts = append(opts, app.WithWatcher(w))
			}
			a = app.New(session, opts...)
			defer func() {
				if err := a.Shutdown(); err != nil {
					slog.Warn("shutdown", "err", err)
				}
			}()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- a.Run(ctx) }()

			uiErr := tui.Run(ctx, session)
			cancel()
			return errors.Join(uiErr, <-done)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "voxpersona.log", "where logs go while the terminal UI runs")
	return cmd
}

// ── voices ────────────────────────────────────────────────────────────────────

func newVoicesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices the backend offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(os.Stderr)
			if err != nil {
				return err
			}
			client, err := newCollabClient(cfg)
			if err != nil {
				return err
			}
			voices, err := client.Voices(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tACCENT\tGENDER\tAGE")
			for _, v := range voices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Category, v.Accent, v.Gender, v.Age)
			}
			return tw.Flush()
		},
	}
}

// ── Shared wiring ─────────────────────────────────────────────────────────────

func newCollabClient(cfg *config.Config) (*collab.Client, error) {
	return collab.New(cfg.Backend.BaseURL,
		collab.WithTimeout(cfg.Backend.Timeout),
		collab.WithModelID(cfg.API.ModelID),
	)
}

func newSession(cfg *config.Config, mic audio.Microphone, player audio.Player, c app.Collaborator) (*app.Session, error) {
	var loader avatar.AssetLoader = avatar.NopLoader{}
	if cfg.Avatar.AssetsDir != "" {
		loader = avatar.DirLoader{Dir: cfg.Avatar.AssetsDir}
	}
	return app.NewSession(app.SessionConfig{
		Microphone:   mic,
		Player:       player,
		Collaborator: c,
		Config:       cfg,
		Loader:       loader,
	})
}

// watcher returns a config watcher calling onChange, or nil when there is no
// config file to watch. onChange runs only after the app starts.
func (g *globals) watcher(onChange func(old, next *config.Config, c config.Changes)) *config.Watcher {
	if !g.configExists() {
		return nil
	}
	w, err := config.NewWatcher(g.configPath, onChange,
		config.WithPrepare(func(c *config.Config) {
			config.ApplyEnv(c, os.Getenv)
			applyProviderDefaults(c, os.Getenv)
		}),
	)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
		return nil
	}
	return w
}

func runApp(ctx context.Context, a *app.App) error {
	defer func() {
		if err := a.Shutdown(); err != nil {
			slog.Warn("shutdown", "err", err)
		}
	}()
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}
