package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/liveinterview/internal/app"
	"github.com/MrWong99/liveinterview/internal/config"
	"github.com/MrWong99/liveinterview/internal/resilience"
	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/audio/device"
	"github.com/MrWong99/liveinterview/pkg/live"
	"github.com/MrWong99/liveinterview/pkg/live/gemini"
	"github.com/MrWong99/liveinterview/pkg/live/genailive"
)

// registerBuiltins wires the transports and audio devices that ship with
// liveinterview into reg.
func registerBuiltins(reg *config.Registry) {
	// ── Live transports ───────────────────────────────────────────────────────
	reg.RegisterTransport("gemini", func(_ context.Context, c config.LiveConfig) (live.Dialer, error) {
		opts := []gemini.Option{gemini.WithModel(c.Model), gemini.WithLogger(slog.Default())}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})
	reg.RegisterTransport("genai", func(ctx context.Context, c config.LiveConfig) (live.Dialer, error) {
		return genailive.New(ctx, c.APIKey, genailive.WithModel(c.Model), genailive.WithLogger(slog.Default()))
	})

	// ── Inputs ────────────────────────────────────────────────────────────────
	reg.RegisterInput("malgo", func(context.Context, config.DeviceEntry) (audio.Microphone, error) {
		return &device.MalgoMicrophone{}, nil
	})
	reg.RegisterInput("pipe", func(_ context.Context, e config.DeviceEntry) (audio.Microphone, error) {
		if e.Path == "-" {
			return &device.PipeMicrophone{Reader: os.Stdin}, nil
		}
		f, err := os.Open(e.Path)
		if err != nil {
			return nil, fmt.Errorf("pipe input: %w", err)
		}
		return &device.PipeMicrophone{Reader: f, Paced: true}, nil
	})

	// ── Outputs ───────────────────────────────────────────────────────────────
	reg.RegisterOutput("oto", func(context.Context, config.DeviceEntry) (audio.Output, error) {
		return &device.Speaker{}, nil
	})
	reg.RegisterOutput("ffplay", func(_ context.Context, e config.DeviceEntry) (audio.Output, error) {
		return &device.FFplay{Path: e.Path}, nil
	})
	reg.RegisterOutput("pipe", func(_ context.Context, e config.DeviceEntry) (audio.Output, error) {
		var w io.Writer
		switch e.Path {
		case "":
		case "-":
			w = os.Stdout
		default:
			f, err := os.Create(e.Path)
			if err != nil {
				return nil, fmt.Errorf("pipe output: %w", err)
			}
			w = f
		}
		return &device.PipeOutput{Writer: w}, nil
	})
}

// buildComponents instantiates the transport and devices named in cfg.
func buildComponents(ctx context.Context, cfg *config.Config, reg *config.Registry) (app.Components, error) {
	dialer, err := buildDialer(ctx, cfg.Live, reg)
	if err != nil {
		return app.Components{}, err
	}
	mic, err := reg.CreateInput(ctx, cfg.Audio.Input)
	if err != nil {
		return app.Components{}, fmt.Errorf("audio input: %w", err)
	}
	out, err := reg.CreateOutput(ctx, cfg.Audio.Output)
	if err != nil {
		return app.Components{}, fmt.Errorf("audio output: %w", err)
	}
	return app.Components{Dialer: dialer, Microphone: mic, Output: out}, nil
}

// buildDialer returns the primary transport, wrapped in a failover dialer when
// fallback transports are configured.
func buildDialer(ctx context.Context, c config.LiveConfig, reg *config.Registry) (live.Dialer, error) {
	primary, err := reg.CreateTransport(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("live transport: %w", err)
	}
	if len(c.Fallback) == 0 {
		return primary, nil
	}

	f := resilience.NewFailoverDialer(c.Transport, primary, resilience.BreakerConfig{Logger: slog.Default()})
	for _, name := range c.Fallback {
		fc := c
		fc.Transport = name
		d, err := reg.CreateTransport(ctx, fc)
		if err != nil {
			return nil, fmt.Errorf("live fallback transport: %w", err)
		}
		f.Add(name, d)
	}
	slog.Info("live transport failover enabled", "order", f.Names())
	return f, nil
}
