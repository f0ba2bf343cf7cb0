// Package pipeline runs one sync pass: authorise, poll, then drive each job
// through its state machine one at a time.
//
// Flow:
//
//	Authorise -> Poll -> for each job:
//	    Retrieved -> Extracting -> Extracted -> Uploading -> Uploaded
//
// Auth and poll failures abort the run before any job starts. A job failure
// ends that job only.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/extract"
	"github.com/nucleus/sync-agent/internal/staging"
	"github.com/nucleus/sync-agent/internal/upload"
)

// Authoriser yields the run's session.
type Authoriser interface {
	Authorise(ctx context.Context) (*core.Session, error)
}

// JobSource lists pending jobs.
type JobSource interface {
	Poll(ctx context.Context, session *core.Session) ([]core.JobDescriptor, error)
}

// Extractor validates a job and produces its CSV payload.
type Extractor interface {
	Prepare(job core.JobDescriptor) (*extract.Plan, error)
	Run(ctx context.Context, plan *extract.Plan) (*staging.Payload, error)
}

// Uploader obtains a storage target and sends a payload to it.
type Uploader interface {
	RequestTarget(ctx context.Context, session *core.Session, jobID string) (*upload.Target, error)
	Put(ctx context.Context, target *upload.Target, payload *staging.Payload) error
}

// Archiver keeps a copy of an uploaded payload. Failures never affect the job.
type Archiver interface {
	Archive(ctx context.Context, session *core.Session, job core.JobDescriptor, payload *staging.Payload) error
}

// Deps are the stages a Pipeline drives.
type Deps struct {
	Auth      Authoriser
	Source    JobSource
	Extractor Extractor
	Uploader  Uploader
	Reporter  core.Reporter
	Archiver  Archiver
}

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Jobs    int
	ByState map[State]int
}

// Pipeline sequences one run.
type Pipeline struct {
	settings core.Settings
	deps     Deps
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(settings core.Settings, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = core.ReporterFunc(func(context.Context, *core.Session, core.StatusEvent) {})
	}
	return &Pipeline{settings: settings, deps: deps, logger: logger}
}

// Run performs one pass. The returned error is non-nil only for run-fatal
// failures (auth, poll, cancellation); per-job failures show in the summary.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), ByState: map[State]int{}}
	log := p.logger.With("run_id", sum.RunID)
	log.Info("sync run starting", "agent", p.settings.UserAgent())

	session, err := p.deps.Auth.Authorise(ctx)
	if err != nil {
		log.Error("sync run aborted", "stage", "auth", "error", err)
		return sum, err
	}

	jobs, err := p.deps.Source.Poll(ctx, session)
	if err != nil {
		log.Error("sync run aborted", "stage", "poll", "error", err)
		return sum, err
	}
	if len(jobs) == 0 {
		log.Info("no sync jobs waiting to execute")
		return sum, nil
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			log.Warn("sync run cancelled", "remaining", len(jobs)-sum.Jobs)
			return sum, err
		}
		final := p.runJob(ctx, log.With("job_instance", job.InstanceID), session, job)
		sum.Jobs++
		sum.ByState[final]++
	}

	log.Info("sync run finished",
		"jobs", sum.Jobs,
		"uploaded", sum.ByState[StateUploaded],
		"failed", sum.ByState[StateExtractFailed]+sum.ByState[StateUploadFailed],
	)
	return sum, nil
}

// job carries one job's state between steps.
type job struct {
	p       *Pipeline
	ctx     context.Context
	log     *slog.Logger
	session *core.Session
	desc    core.JobDescriptor
	state   State
}

func (j *job) emit(events []core.StatusEvent) {
	for _, e := range events {
		j.p.deps.Reporter.Report(j.ctx, j.session, e)
	}
}

func (j *job) step(out Outcome) {
	next, events, err := Transition(j.p.settings, j.desc, j.state, out)
	if err != nil {
		j.log.Error("dropping outcome", "state", j.state, "error", err)
		return
	}
	j.log.Debug("job transition", "from", j.state, "to", next)
	j.state = next
	j.emit(events)
}

func (p *Pipeline) runJob(ctx context.Context, log *slog.Logger, session *core.Session, desc core.JobDescriptor) State {
	j := &job{p: p, ctx: ctx, log: log, session: session, desc: desc}
	state, events := Retrieve(p.settings, desc)
	j.state = state
	j.emit(events)

	plan, err := p.deps.Extractor.Prepare(desc)
	if err != nil {
		log.Warn("job rejected", "error", err, "codes", core.Codes(err))
		j.step(Outcome{Kind: OutcomeRejected, Err: err})
		return j.state
	}
	j.step(Outcome{Kind: OutcomeAccepted})

	payload, err := p.deps.Extractor.Run(ctx, plan)
	if err != nil {
		log.Error("extraction failed", "error", err, "codes", core.Codes(err))
		j.step(Outcome{Kind: OutcomeExtractError, Err: err})
		return j.state
	}
	defer func() {
		if err := payload.Remove(); err != nil {
			log.Warn("failed to remove spool file", "path", payload.Path, "error", err)
		}
	}()
	j.step(Outcome{Kind: OutcomeExtracted, Rows: payload.Rows})

	target, err := p.deps.Uploader.RequestTarget(ctx, session, desc.InstanceID)
	switch {
	case errors.Is(err, core.ErrNoUploadURL):
		log.Warn("upload descriptor has no storage URL")
		j.step(Outcome{Kind: OutcomeNoTarget})
		return j.state
	case err != nil:
		log.Error("upload descriptor request failed", "error", err)
		j.step(Outcome{Kind: OutcomeTargetError, Status: core.HTTPStatusOf(err), Err: err})
		return j.state
	}
	j.step(Outcome{Kind: OutcomeTargetReady})

	if err := p.deps.Uploader.Put(ctx, target, payload); err != nil {
		log.Error("upload failed", "error", err)
		j.step(Outcome{Kind: OutcomeUploadError, Status: core.HTTPStatusOf(err), Err: err})
		return j.state
	}
	j.step(Outcome{Kind: OutcomeUploaded})

	if p.deps.Archiver != nil {
		if err := p.deps.Archiver.Archive(ctx, session, desc, payload); err != nil {
			log.Warn("archive copy failed", "error", err, "codes", core.Codes(err))
		}
	}
	return j.state
}
