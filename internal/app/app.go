// Package app wires the interview subsystems into a running application.
//
// New connects the history store, Serve runs the websocket gateway, Console
// runs a single interview in a terminal, and Shutdown tears everything down.
// Audio devices and the live dialer are built by main through the config
// registry and passed in as [Components]; tests inject mocks the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/liveinterview/internal/config"
	"github.com/MrWong99/liveinterview/internal/gateway"
	"github.com/MrWong99/liveinterview/internal/history"
	"github.com/MrWong99/liveinterview/internal/observe"
	"github.com/MrWong99/liveinterview/internal/session"
	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// shutdownGrace bounds the HTTP server drain in Serve.
const shutdownGrace = 10 * time.Second

// Components are the external collaborators of every session.
type Components struct {
	Dialer     live.Dialer
	Microphone audio.Microphone
	Output     audio.Output
}

// App owns the subsystem lifetimes.
type App struct {
	cfg     atomic.Pointer[config.Config]
	comps   Components
	store   history.Store
	metrics *observe.Metrics
	log     *slog.Logger

	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App. Unless injected, the history store is PostgreSQL when
// cfg.History.PostgresDSN is set and in-memory otherwise.
func New(ctx context.Context, cfg *config.Config, comps Components, opts ...Option) (*App, error) {
	if comps.Dialer == nil || comps.Microphone == nil || comps.Output == nil {
		return nil, errors.New("app: dialer, microphone and output are required")
	}
	a := &App{
		comps:   comps,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.sessions = NewSessionManager(a.buildSession)
	return a, nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Load().History.PostgresDSN
	if dsn == "" {
		a.store = history.NewMemStore()
		a.log.Info("history kept in memory")
		return nil
	}
	store, err := history.NewPostgresStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	a.log.Info("history stored in postgres")
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// History returns the history store.
func (a *App) History() history.Store { return a.store }

// Config returns the configuration used for new sessions.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Apply replaces the configuration for sessions created from now on. Running
// sessions keep theirs.
func (a *App) Apply(cfg *config.Config) {
	old := a.cfg.Swap(cfg)
	d := config.Compare(old, cfg)
	if d.Empty() {
		return
	}
	a.log.Info("configuration applied",
		"script_changed", d.ScriptChanged,
		"live_changed", d.LiveChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if len(d.RestartRequired) > 0 {
		a.log.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// buildSession creates an unstarted session from the current configuration.
func (a *App) buildSession(cb session.Callbacks) *session.Session {
	cfg := a.cfg.Load()
	return session.New(a.comps.Dialer, a.comps.Microphone, a.comps.Output, cb,
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
		session.WithScript(cfg.Script.Script),
		session.WithModel(cfg.Live.Model),
		session.WithVoice(cfg.Live.Voice),
		session.WithRetry(session.RetryPolicy{
			MaxAttempts: cfg.Live.Retry.MaxAttempts,
			BaseDelay:   cfg.Live.Retry.BaseDelay,
		}),
		session.WithFrameSize(cfg.Audio.FrameSize),
		session.WithTickIntervals(cfg.Session.FrameInterval, cfg.Session.MutedInterval),
		session.WithOutboundLimit(cfg.Session.OutboundLimit),
	)
}

// Gateway returns a websocket gateway backed by this App.
func (a *App) Gateway() *gateway.Server {
	srv := a.cfg.Load().Server
	return gateway.New(a.sessions.New, a.store,
		gateway.WithLogger(a.log),
		gateway.WithMetrics(a.metrics),
		gateway.WithOriginPatterns(srv.AllowedOrigins...),
		gateway.WithSendTextLimit(srv.SendTextRate, srv.SendTextBurst),
	)
}

// Serve runs the gateway HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	srvCfg := a.cfg.Load().Server
	gw := a.Gateway()
	httpSrv := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("gateway listening", "addr", srvCfg.ListenAddr, "tls", srvCfg.TLS != nil)
		var err error
		if srvCfg.TLS != nil {
			err = httpSrv.ListenAndServeTLS(srvCfg.TLS.CertFile, srvCfg.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		gw.Health().SetDraining(true)
		if info, ok := a.sessions.Active(); ok {
			a.log.Info("ending active interview", "session_id", info.SessionID, "interview_id", info.InterviewID)
		}
		a.sessions.EndActive()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown ends the active interview and runs the closers. It respects the
// context deadline: once ctx expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.sessions.EndActive()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
