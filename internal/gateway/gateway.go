// Package gateway bridges an external user interface to interview sessions
// over a websocket.
//
// Each websocket connection drives at most one [session.Session] at a time.
// The client sends JSON [Command] objects and receives JSON [Event] objects:
// transcript updates, state changes and errors. Finalized transcript entries
// are persisted to a [history.Store] so that an interview can be resumed on a
// later connection by passing its interview ID to the start command.
//
// Besides GET /ws the gateway serves /healthz, /readyz and /metrics.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MrWong99/liveinterview/internal/health"
	"github.com/MrWong99/liveinterview/internal/history"
	"github.com/MrWong99/liveinterview/internal/observe"
	"github.com/MrWong99/liveinterview/internal/session"
)

// SessionFunc builds a fresh, unstarted session for interviewID reporting to
// cb. It may refuse, e.g. while another interview holds the audio devices.
type SessionFunc func(interviewID string, cb session.Callbacks) (*session.Session, error)

// Server serves the gateway endpoints.
type Server struct {
	newSession SessionFunc
	store      history.Store

	log     *slog.Logger
	metrics *observe.Metrics
	health  *health.Handler
	origins []string
	limit   rate.Limit
	burst   int
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket clients whose host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithSendTextLimit limits send_text commands per connection to r per second
// with the given burst.
func WithSendTextLimit(r float64, burst int) Option {
	return func(s *Server) {
		s.limit = rate.Limit(r)
		s.burst = burst
	}
}

// WithHealth replaces the health handler, e.g. to add readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// New returns a Server creating sessions with newSession and persisting
// transcripts to store.
func New(newSession SessionFunc, store history.Store, opts ...Option) *Server {
	s := &Server{
		newSession: newSession,
		store:      store,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		limit:      2,
		burst:      5,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New(health.Checker{Name: "history", Check: store.Ping})
	}
	return s
}

// Health returns the health handler, which the caller can switch to draining
// on shutdown.
func (s *Server) Health() *health.Handler { return s.health }

// Handler returns the HTTP handler with all gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}
