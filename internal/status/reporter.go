// Package status delivers job lifecycle events to the coordination service.
package status

import (
	"context"
	"log/slog"
	"time"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
)

const (
	DefaultAttempts = 5
)

// Reporter PATCHes status events to {endpoint}/job/{tenant}/{deployment}[/{job}].
// Delivery is best effort: failed attempts are retried up to Attempts times
// and a final failure is logged, never returned.
type Reporter struct {
	client   *httpconn.Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithAttempts overrides the delivery attempt budget.
func WithAttempts(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets a linear delay between attempts (attempt n waits n*d).
func WithBackoff(d time.Duration) Option {
	return func(r *Reporter) { r.backoff = d }
}

// WithLogger sets the reporter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReporter creates a Reporter on the shared client.
func NewReporter(client *httpconn.Client, opts ...Option) *Reporter {
	r := &Reporter{
		client:   client,
		attempts: DefaultAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ core.Reporter = (*Reporter)(nil)

// Report sends event, retrying failed attempts. It returns once the event is
// accepted (HTTP 200), the budget is spent, or ctx is done.
func (r *Reporter) Report(ctx context.Context, session *core.Session, event core.StatusEvent) {
	log := r.logger.With(
		"event_id", event.EventID,
		"event_type", event.Type,
		"source", event.Source,
		"job_instance", event.JobInstanceID,
	)

	if session == nil {
		// Nothing to address before authorisation succeeded.
		log.Warn("status event not delivered: no session", "message", event.Message)
		return
	}

	url := session.URL("job", event.JobInstanceID)
	auth := httpconn.BearerToken{Token: session.Token}

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 && r.backoff > 0 {
			select {
			case <-ctx.Done():
				log.Warn("status event abandoned", "attempt", attempt, "error", ctx.Err())
				return
			case <-time.After(time.Duration(attempt-1) * r.backoff):
			}
		}

		resp, err := r.client.Patch(ctx, url, event, auth)
		if err == nil && resp.StatusCode == 200 {
			log.Debug("status event delivered", "attempt", attempt)
			return
		}
		log.Warn("status update attempt failed",
			"attempt", attempt,
			"status_code", httpconn.StatusOf(resp),
			"error", err,
		)
		if ctx.Err() != nil {
			return
		}
	}

	log.Error("failed to update job status", "attempts", r.attempts, "message", event.Message)
}
