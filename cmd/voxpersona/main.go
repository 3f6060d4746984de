// Command voxpersona runs the voice persona: the collaborator API server, the
// browser front end and the terminal front end.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/observe"
)

var version = "dev"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFile    string
	logLevel   string

	level *slog.LevelVar
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "voxpersona: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globals{level: new(slog.LevelVar)}
	root := &cobra.Command{
		Use:           "voxpersona",
		Short:         "Talk to an animated voice persona",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with API keys; missing is fine")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newAPICmd(g),
		newWebCmd(g),
		newTUICmd(g),
		newVoicesCmd(g),
	)
	return root
}

// load reads the env file and the config, applies env overrides and sets the
// default logger. A missing config file yields the defaults.
func (g *globals) load(logOut io.Writer) (*config.Config, error) {
	if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("env file %q: %w", g.envFile, err)
	}

	cfg, err := config.Load(g.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return nil, err
	}
	config.ApplyEnv(cfg, os.Getenv)
	applyProviderDefaults(cfg, os.Getenv)
	if g.logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(g.logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	g.level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: g.level})))
	slog.Info("voxpersona starting",
		"version", version,
		"config", g.configPath,
		"log_level", cfg.Server.LogLevel,
	)
	return cfg, nil
}

// configExists reports whether the config file is on disk; hot reload only
// runs for a real file.
func (g *globals) configExists() bool {
	_, err := os.Stat(g.configPath)
	return err == nil
}

// telemetry installs the OpenTelemetry providers and returns their shutdown.
func telemetry(ctx context.Context) func() {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}
}
