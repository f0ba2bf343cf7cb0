// Package extract runs a job's SQL against its site database and spools the
// result set as CSV.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nucleus/sync-agent/internal/connector/jdbc"
	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/jobs"
	"github.com/nucleus/sync-agent/internal/staging"
)

// DefaultTimeout bounds connection and query time.
const DefaultTimeout = 7200 * time.Second

// Plan is a validated job ready to run.
type Plan struct {
	Job    core.JobDescriptor
	Config *jdbc.Config
	Query  string
}

// Extractor turns plans into CSV payloads.
type Extractor struct {
	open     jdbc.OpenFunc
	spoolDir string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOpenFunc replaces sql.Open.
func WithOpenFunc(fn jdbc.OpenFunc) Option {
	return func(e *Extractor) { e.open = fn }
}

// WithSpoolDir sets where CSV spools are written.
func WithSpoolDir(dir string) Option {
	return func(e *Extractor) { e.spoolDir = dir }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare validates job and resolves its connection. It fails with
// E_INVALID_JOB or E_UNSUPPORTED_SOURCE and never opens a connection.
func (e *Extractor) Prepare(job core.JobDescriptor) (*Plan, error) {
	if err := jobs.Validate(job); err != nil {
		return nil, err
	}
	cfg, err := jdbc.ParseConfig(job.SourceType, job.Connection, e.timeout)
	if err != nil {
		return nil, err
	}
	return &Plan{Job: job, Config: cfg, Query: job.EffectiveQuery()}, nil
}

// Run connects, executes the query, and spools every row. Any database or
// spool failure is returned as E_EXTRACTION and leaves no file behind.
func (e *Extractor) Run(ctx context.Context, plan *Plan) (*staging.Payload, error) {
	log := e.logger.With("job_instance", plan.Job.InstanceID, "source", plan.Config.Source, "host", plan.Config.Host)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	db, err := jdbc.Open(ctx, plan.Config, e.open)
	if err != nil {
		return nil, core.NewExtractionError(err)
	}
	defer db.Close()

	spool, err := staging.NewSpool(e.spoolDir)
	if err != nil {
		return nil, core.NewExtractionError(err)
	}

	if _, err := db.Query(ctx, plan.Query, spool.WriteRow); err != nil {
		spool.Abort()
		return nil, core.NewExtractionError(err)
	}

	payload, err := spool.Finish()
	if err != nil {
		return nil, core.NewExtractionError(err)
	}

	log.Info("extraction complete", "rows", payload.Rows, "bytes", payload.Size, "duration", time.Since(start))
	return payload, nil
}

// Diagnostic flattens an error chain into operator-facing detail.
func Diagnostic(err error) map[string]any {
	if err == nil {
		return nil
	}
	chain := []string{}
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		chain = append(chain, fmt.Sprintf("%T: %v", cur, cur))
	}
	d := map[string]any{"error": err.Error()}
	if len(chain) > 0 {
		d["chain"] = chain
	}
	if codes := core.Codes(err); len(codes) > 0 {
		d["codes"] = codes
	}
	return d
}
