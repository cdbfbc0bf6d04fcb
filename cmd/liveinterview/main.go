// Command liveinterview runs voice interviews against the Gemini Live API.
//
// Usage:
//
//	liveinterview [-config config.yaml] console [-interview ID]
//	liveinterview [-config config.yaml] serve
//
// console runs one interview in the terminal on the local audio devices.
// serve exposes the websocket gateway for an external user interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/liveinterview/internal/app"
	"github.com/MrWong99/liveinterview/internal/config"
	"github.com/MrWong99/liveinterview/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("liveinterview", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: liveinterview [-config path] console [-interview ID] | serve")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	mode := fs.Arg(0)
	if mode != "console" && mode != "serve" {
		fs.Usage()
		return 2
	}

	cfs := flag.NewFlagSet(mode, flag.ContinueOnError)
	interviewID := cfs.String("interview", "", "resume the interview with this ID (console mode)")
	if err := cfs.Parse(fs.Args()[1:]); err != nil {
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "liveinterview: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "liveinterview: %v\n", err)
		}
		return 1
	}

	if mode == "console" && cfg.Audio.Input.Name == "pipe" && cfg.Audio.Input.Path == "-" {
		fmt.Fprintln(os.Stderr, "liveinterview: console mode reads commands from stdin; give audio.input.path a file")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("liveinterview starting",
		"version", version,
		"mode", mode,
		"config", *configPath,
		"transport", cfg.Live.Transport,
		"input", cfg.Audio.Input.Name,
		"output", cfg.Audio.Output.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Components ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	comps, err := buildComponents(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build components", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, comps, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, cur *config.Config) {
		level.Set(slogLevel(cur.Server.LogLevel))
		application.Apply(cur)
	}, config.WithWatchLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	code := 0
	switch mode {
	case "serve":
		slog.Info("server ready, press Ctrl+C to shut down")
		if err := application.Serve(ctx); err != nil {
			slog.Error("serve error", "err", err)
			code = 1
		}
	case "console":
		id, err := application.Console(ctx, *interviewID, os.Stdin, os.Stdout)
		if err != nil {
			slog.Error("interview failed", "interview_id", id, "err", err)
			code = 1
		}
		fmt.Printf("\nresume this interview with: liveinterview -config %s console -interview %s\n", *configPath, id)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
