// Package batch runs one render-and-compile job per record and collects the
// artifacts they produce.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/compiler"
	"github.com/joseph-ayodele/docbatch/internal/entity"
	"github.com/joseph-ayodele/docbatch/internal/records"
	"github.com/joseph-ayodele/docbatch/internal/render"
)

// Renderer produces document text for one record's values.
type Renderer interface {
	Render(values map[string]string) (string, error)
}

// Compiler turns <workDir>/<token>.tex into the job's artifact.
type Compiler interface {
	Compile(ctx context.Context, workDir, token string, extended bool) (compiler.Outcome, error)
}

// Validator rejects records before they are rendered.
type Validator interface {
	Validate(rec records.Record) error
}

// JobRecorder persists job progress. Recording failures are logged and never
// fail the job.
type JobRecorder interface {
	Start(ctx context.Context, job *entity.RenderJob) error
	Finish(ctx context.Context, job *entity.RenderJob) error
}

// NewToken returns a run-unique resource name: 32 lowercase hex characters.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// JobResult is the outcome of one record's job.
type JobResult struct {
	Row          int
	Token        string
	Status       constants.JobStatus
	SourcePath   string
	ArtifactPath string // set only when Status is OK
	LogPaths     []string
	Err          error
	CleanupErrs  []error
	Started      time.Time
	Finished     time.Time
}

func (r JobResult) OK() bool { return r.Status == constants.JobStatusOK }

func (r JobResult) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Orchestrator drives render, compile and cleanup for each record.
type Orchestrator struct {
	renderer  Renderer
	compiler  Compiler
	validator Validator
	recorder  JobRecorder
	logger    *slog.Logger
	workDir   string
	extended  bool
	retain    bool
	runID     string
	newToken  func() string
	fs        fsOps
}

type Option func(*Orchestrator)

// WithWorkDir sets the directory jobs render and compile in.
func WithWorkDir(dir string) Option {
	return func(o *Orchestrator) { o.workDir = dir }
}

// WithExtended interleaves the auxiliary compiler pass.
func WithExtended(extended bool) Option {
	return func(o *Orchestrator) { o.extended = extended }
}

// WithRetainTemps skips cleanup so byproducts can be inspected.
func WithRetainTemps(retain bool) Option {
	return func(o *Orchestrator) { o.retain = retain }
}

func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

func WithRecorder(r JobRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

func WithTokenSource(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newToken = fn
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(renderer Renderer, comp Compiler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		renderer: renderer,
		compiler: comp,
		logger:   slog.Default(),
		workDir:  ".",
		runID:    uuid.NewString(),
		newToken: NewToken,
		fs:       osOps,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunID identifies this orchestrator's run in logs and the ledger.
func (o *Orchestrator) RunID() string { return o.runID }

// RunJob renders and compiles one record. Job failures are reported in the
// result; the returned error is reserved for failures that must stop the
// batch, currently a cleanup that is still denied permission after a retry.
func (o *Orchestrator) RunJob(ctx context.Context, rec records.Record) (JobResult, error) {
	token := o.newToken()
	ctx = common.WithJobToken(ctx, token)
	logger := o.logger.With("job_token", token, "row", rec.Index)

	res := JobResult{
		Row:        rec.Index,
		Token:      token,
		Status:     constants.JobStatusRunning,
		SourcePath: filepath.Join(o.workDir, token+constants.SourceExt),
		Started:    time.Now(),
	}
	job := &entity.RenderJob{RunID: o.runID, Row: rec.Index, Token: token, Status: res.Status, StartedAt: res.Started}
	if o.recorder != nil {
		if err := o.recorder.Start(ctx, job); err != nil {
			logger.Warn("failed to record job start", "error", err)
		}
	}

	o.execute(ctx, rec, &res, logger)

	var fatal error
	if !o.retain {
		keep := map[string]bool{}
		if res.ArtifactPath != "" {
			keep[filepath.Clean(res.ArtifactPath)] = true
		}
		for _, p := range res.LogPaths {
			keep[filepath.Clean(p)] = true
		}
		cr := cleaner{ops: o.fs, logger: logger}.clean(o.workDir, token, keep)
		res.CleanupErrs = cr.Errs
		for _, err := range cr.Errs {
			logger.Warn("cleanup failed", "error", err)
		}
		fatal = cr.Fatal
		logger.Debug("cleanup done", "removed", len(cr.Removed))
	}
	res.Finished = time.Now()

	if o.recorder != nil {
		job.Status = res.Status
		job.FinishedAt = &res.Finished
		if res.ArtifactPath != "" {
			job.ArtifactPath = &res.ArtifactPath
		}
		if res.Err != nil {
			msg := res.Err.Error()
			job.ErrorMessage = &msg
		}
		// The job ran to completion, so its row is finalized even after cancellation.
		if err := o.recorder.Finish(context.WithoutCancel(ctx), job); err != nil {
			logger.Warn("failed to record job finish", "error", err)
		}
	}

	if res.OK() {
		logger.Info("job.ok", "artifact", res.ArtifactPath, "duration_ms", res.Duration().Milliseconds())
	} else {
		logger.Error("job.failed", "status", res.Status, "error", res.Err, "duration_ms", res.Duration().Milliseconds())
	}
	if fatal != nil {
		logger.Error("cleanup permission denied", "error", fatal)
		return res, fatal
	}
	return res, nil
}

// execute fills in the status, error and artifact of res.
func (o *Orchestrator) execute(ctx context.Context, rec records.Record, res *JobResult, logger *slog.Logger) {
	fail := func(status constants.JobStatus, err error) {
		res.Status = status
		res.Err = err
	}

	if o.validator != nil {
		if err := o.validator.Validate(rec); err != nil {
			fail(constants.JobStatusInvalid, err)
			return
		}
	}

	text, err := o.renderer.Render(rec.Map())
	if err != nil {
		fail(constants.JobStatusRenderFailed, err)
		return
	}
	text = render.StripDraft(text)
	if err := os.WriteFile(res.SourcePath, []byte(text), 0o644); err != nil {
		fail(constants.JobStatusRenderFailed, common.RenderError(fmt.Sprintf("write %s", res.SourcePath), err))
		return
	}
	logger.Debug("document rendered", "path", res.SourcePath, "bytes", len(text))

	outcome, err := o.compiler.Compile(ctx, o.workDir, res.Token, o.extended)
	res.LogPaths = outcome.LogPaths
	if err != nil {
		if errors.Is(err, common.ErrTimeout) {
			fail(constants.JobStatusTimedOut, err)
		} else {
			fail(constants.JobStatusCompileFailed, err)
		}
		return
	}

	// The compiler's exit status is unreliable; the artifact is the success signal.
	artifact := filepath.Join(o.workDir, res.Token+constants.ArtifactSuffix)
	if _, err := os.Stat(artifact); err != nil {
		var passErr error
		for _, p := range outcome.Passes {
			if p.Err != nil {
				passErr = p.Err
			}
		}
		fail(constants.JobStatusCompileFailed, common.CompileFailureError(artifact, passErr))
		return
	}
	res.Status = constants.JobStatusOK
	res.ArtifactPath = artifact
}

// Summary is the result of a batch run. Artifacts lists the artifact of
// every successful job in record order.
type Summary struct {
	RunID     string
	Results   []JobResult
	Artifacts []string
	Processed int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Run processes recs sequentially. Cancelling ctx stops the batch before the
// next job renders; a job already compiling runs to completion. The summary
// covers every job that ran, also when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, recs []records.Record) (Summary, error) {
	start := time.Now()
	ctx = common.WithRunID(ctx, o.runID)
	sum := Summary{RunID: o.runID}
	finish := func() Summary {
		sum.Elapsed = time.Since(start)
		return sum
	}

	o.logger.Info("batch.start", "run_id", o.runID, "records", len(recs), "extended", o.extended, "work_dir", o.workDir)
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("batch cancelled", "run_id", o.runID, "processed", sum.Processed, "remaining", len(recs)-sum.Processed)
			return finish(), fmt.Errorf("batch cancelled: %w", err)
		}

		res, err := o.RunJob(ctx, rec)
		sum.Processed++
		sum.Results = append(sum.Results, res)
		if res.OK() {
			sum.Succeeded++
			sum.Artifacts = append(sum.Artifacts, res.ArtifactPath)
		} else {
			sum.Failed++
		}
		if err != nil {
			return finish(), err
		}
	}

	out := finish()
	o.logger.Info("batch.done",
		"run_id", o.runID,
		"processed", out.Processed,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"elapsed_ms", out.Elapsed.Milliseconds(),
	)
	return out, nil
}
