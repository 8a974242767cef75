// Package compiler drives the external document compiler for one job.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

// Pass names, also used in log file names.
const (
	PassFirst     = "primary-1"
	PassAuxiliary = "auxiliary"
	PassFinal     = "primary-2"
)

// Pass is one external command in the compile sequence.
type Pass struct {
	Name    string
	Command string
	Args    []string
}

// PassResult records how one pass went. Err holds the process error, which
// does not decide the outcome of the job.
type PassResult struct {
	Name     string
	Duration time.Duration
	Err      error
	LogPath  string
}

// Outcome is everything the invoker produced for one job.
type Outcome struct {
	Passes   []PassResult
	LogPaths []string
}

// Invoker runs the primary compiler twice, with the auxiliary compiler in
// between when extended mode is requested.
type Invoker struct {
	runner    Runner
	cfg       common.CompilerConfig
	logDir    string
	logOutput bool
	logger    *slog.Logger
}

type Option func(*Invoker)

// WithPassLogs writes each pass's output to <token>-<pass>.log in dir. An
// empty dir means the job's working directory.
func WithPassLogs(dir string) Option {
	return func(inv *Invoker) {
		inv.logOutput = true
		inv.logDir = dir
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

func NewInvoker(cfg common.CompilerConfig, runner Runner, opts ...Option) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	inv := &Invoker{runner: runner, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Passes returns the sequence for a job whose rendered source is <token>.tex.
func (inv *Invoker) Passes(token string, extended bool) []Pass {
	source := token + constants.SourceExt
	primary := func(name string) Pass {
		return Pass{Name: name, Command: inv.cfg.Primary, Args: append(append([]string(nil), inv.cfg.PrimaryArgs...), source)}
	}

	passes := []Pass{primary(PassFirst)}
	if extended {
		passes = append(passes, Pass{
			Name:    PassAuxiliary,
			Command: inv.cfg.Auxiliary,
			Args:    append(append([]string(nil), inv.cfg.AuxiliaryArgs...), source),
		})
	}
	return append(passes, primary(PassFinal))
}

// Compile runs every pass in workDir. A failing pass does not stop the
// sequence; the caller checks for the artifact afterwards. A pass that
// exceeds the per-pass timeout stops the sequence with a timeout error.
//
// Passes are never interrupted by cancellation of ctx, only by the timeout:
// a half-finished pass leaves byproducts the cleanup cannot predict.
func (inv *Invoker) Compile(ctx context.Context, workDir, token string, extended bool) (Outcome, error) {
	logger := inv.logger.With("job_token", token)
	var out Outcome

	for _, p := range inv.Passes(token, extended) {
		if p.Command == "" {
			return out, common.InvalidArgumentErrorf("no command configured for the %s pass", p.Name)
		}

		passCtx := context.WithoutCancel(ctx)
		cancel := context.CancelFunc(func() {})
		if inv.cfg.PassTimeout > 0 {
			passCtx, cancel = context.WithTimeout(passCtx, inv.cfg.PassTimeout)
		}

		start := time.Now()
		stdout, stderr, err := inv.runner.Run(passCtx, workDir, p.Command, logger.With("pass", p.Name), p.Args...)
		timedOut := errors.Is(passCtx.Err(), context.DeadlineExceeded)
		cancel()

		res := PassResult{Name: p.Name, Duration: time.Since(start), Err: err}
		if inv.logOutput {
			path, werr := inv.writeLog(workDir, token, p.Name, stdout, stderr)
			if werr != nil {
				logger.Warn("failed to write pass log", "pass", p.Name, "error", werr)
			} else {
				res.LogPath = path
				out.LogPaths = append(out.LogPaths, path)
			}
		}
		out.Passes = append(out.Passes, res)

		if timedOut {
			logger.Error("compiler pass timed out", "pass", p.Name, "timeout", inv.cfg.PassTimeout)
			return out, common.TimeoutError(p.Name, err)
		}
	}
	return out, nil
}

func (inv *Invoker) writeLog(workDir, token, pass string, stdout, stderr []byte) (string, error) {
	dir := inv.logDir
	if dir == "" {
		dir = workDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s%s", token, pass, constants.LogExt))
	data := append(append([]byte(nil), stdout...), stderr...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
