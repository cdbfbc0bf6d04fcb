package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
)

// TraceHeader carries the request's trace ID on every response.
const TraceHeader = "X-Trace-ID"

// quietRoutes are logged at debug level; probes and scrapes would drown the
// interesting requests otherwise.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// Middleware instruments a handler, normally a [http.ServeMux]. Requests are
// traced through otelhttp with W3C trace context; duration is recorded by
// route pattern and each request is logged once it completes. Websocket
// upgrades keep working because the wrapped writer still hijacks.
//
// opts are passed to otelhttp after the defaults, so tests can inject a
// tracer provider.
func Middleware(m *Metrics, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}),
	}, opts...)

	return func(next http.Handler) http.Handler {
		measured := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := TraceID(r.Context()); id != "" {
				w.Header().Set(TraceHeader, id)
			}

			start := time.Now()
			status := http.StatusOK
			ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						status = code
						next(code)
					}
				},
				Hijack: func(next httpsnoop.HijackFunc) httpsnoop.HijackFunc {
					return func() (net.Conn, *bufio.ReadWriter, error) {
						status = http.StatusSwitchingProtocols
						return next()
					}
				},
			})

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequestDuration.Record(r.Context(), elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", status),
				),
			)

			level := slog.LevelInfo
			if quietRoutes[route] {
				level = slog.LevelDebug
			}
			WithTrace(r.Context(), nil).LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", elapsed),
			)
		})
		return otelhttp.NewHandler(measured, "gateway", opts...)
	}
}
