package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/liveinterview/internal/observe"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// RetryPolicy controls how often an unavailable endpoint is redialled.
type RetryPolicy struct {
	// MaxAttempts is the total number of dial attempts, the first included.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. It doubles after
	// every further failure.
	BaseDelay time.Duration
}

// DefaultRetry is used when no policy is configured.
var DefaultRetry = RetryPolicy{MaxAttempts: 5, BaseDelay: 1500 * time.Millisecond}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetry.BaseDelay
	}
	return p
}

// dial opens a connection, retrying only while the endpoint reports itself
// unavailable. Any other failure is returned immediately.
func dial(ctx context.Context, d live.Dialer, setup live.Setup, p RetryPolicy, m *observe.Metrics, log *slog.Logger) (live.Conn, error) {
	p = p.withDefaults()
	ctx, span := observe.StartSpan(ctx, "live.dial", observe.AttrModel.String(setup.Model))
	defer span.End()
	log = observe.WithTrace(ctx, log)

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(p.MaxAttempts-1), retry.NewExponential(p.BaseDelay))

	var (
		conn    live.Conn
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := d.Dial(ctx, setup)
		switch {
		case err == nil:
			m.RecordConnectAttempt(ctx, "ok")
			conn = c
			return nil
		case live.IsUnavailable(err):
			m.RecordConnectAttempt(ctx, "unavailable")
			log.Warn("live endpoint unavailable",
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		default:
			m.RecordConnectAttempt(ctx, "error")
			return err
		}
	})

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("failed to connect to live endpoint", "attempts", attempt, "error", err)
	} else {
		log.Info("connected to live endpoint", "attempts", attempt, "model", setup.Model)
	}
	span.SetAttributes(attribute.Int("live.dial.attempts", attempt))
	m.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	return conn, err
}
