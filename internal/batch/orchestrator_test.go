package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/compiler"
	"github.com/joseph-ayodele/docbatch/internal/document"
	"github.com/joseph-ayodele/docbatch/internal/entity"
	"github.com/joseph-ayodele/docbatch/internal/records"
	"github.com/joseph-ayodele/docbatch/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialTokens() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("tok%d", n)
	}
}

// fakeCompiler imitates the LaTeX toolchain: it leaves byproducts named after
// the token, the shared scratch file and the per-job scratch directory, and
// optionally the artifact.
type fakeCompiler struct {
	produce  bool
	items    int
	passLogs bool
	err      error
	extended []bool
	sources  []string
	after    func()
}

func (f *fakeCompiler) Compile(_ context.Context, workDir, token string, extended bool) (compiler.Outcome, error) {
	f.extended = append(f.extended, extended)
	src, _ := os.ReadFile(filepath.Join(workDir, token+constants.SourceExt))
	f.sources = append(f.sources, string(src))

	for _, name := range []string{token + ".aux", token + ".log", token + ".synctex.gz", constants.SharedScratchFile} {
		_ = os.WriteFile(filepath.Join(workDir, name), []byte("x"), 0o644)
	}
	scratch := filepath.Join(workDir, constants.AuxScratchDirPrefix+token)
	_ = os.MkdirAll(filepath.Join(scratch, "nested"), 0o755)
	_ = os.WriteFile(filepath.Join(scratch, "nested", "out.pytxmcr"), []byte("x"), 0o644)

	var out compiler.Outcome
	if f.passLogs {
		p := filepath.Join(workDir, token+"-"+compiler.PassFirst+constants.LogExt)
		_ = os.WriteFile(p, []byte("log"), 0o644)
		out.LogPaths = append(out.LogPaths, p)
	}
	if f.produce {
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><quiz><question type="category"><category><text>c</text></category></question>`)
		for i := 1; i <= f.items; i++ {
			fmt.Fprintf(&b, `<question type="essay"><name><text>%s-%d</text></name></question>`, token, i)
		}
		b.WriteString(`</quiz>`)
		_ = os.WriteFile(filepath.Join(workDir, token+constants.ArtifactSuffix), []byte(b.String()), 0o644)
	}
	if f.after != nil {
		f.after()
	}
	return out, f.err
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func table(t *testing.T, rows ...[]string) []records.Record {
	t.Helper()
	var b strings.Builder
	b.WriteString("Name,ID\n")
	for _, r := range rows {
		b.WriteString(strings.Join(r, ",") + "\n")
	}
	tbl, err := records.ReadCSV("students.csv", strings.NewReader(b.String()))
	require.NoError(t, err)
	return tbl.Records
}

const quizTemplate = "\\documentclass{article}\n\\usepackage[draft]{moodle}\n\\begin{document}\n\\VAR{Name} (\\VAR{ID})\n\\end{document}\n"

func TestRunThreeRecordsThenMerge(t *testing.T) {
	work := t.TempDir()
	recs := table(t, []string{"Ada", "1"}, []string{"Grace", "2"}, []string{"Alan", "3"})
	r, err := render.NewLatexRenderer("quiz.tex", quizTemplate, []string{"Name", "ID"})
	require.NoError(t, err)
	fc := &fakeCompiler{produce: true, items: 4}

	o := New(r, fc, WithWorkDir(work), WithTokenSource(sequentialTokens()), WithLogger(quietLogger()))
	sum, err := o.Run(context.Background(), recs)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	require.Len(t, sum.Artifacts, 3)
	assert.Equal(t, []bool{false, false, false}, fc.extended)

	assert.Equal(t, "\\documentclass{article}\n\\usepackage{moodle}\n\\begin{document}\nAda (1)\n\\end{document}\n", fc.sources[0])
	assert.Contains(t, fc.sources[2], "Alan (3)")

	// Only the artifacts survive cleanup.
	assert.Equal(t, []string{"tok1-moodle.xml", "tok2-moodle.xml", "tok3-moodle.xml"}, dirEntries(t, work))

	var perArtifact int
	for _, a := range sum.Artifacts {
		d, err := document.Load(a)
		require.NoError(t, err)
		perArtifact += d.ItemCount()
	}

	out := filepath.Join(work, "quiz.xml")
	res, err := document.NewMerger(quietLogger()).Merge(context.Background(), sum.Artifacts, out)
	require.NoError(t, err)
	assert.Equal(t, perArtifact-2, res.Items)
	assert.Equal(t, []string{"quiz.xml"}, dirEntries(t, work))
}

func TestRunJobMissingArtifactIsCompileFailure(t *testing.T) {
	work := t.TempDir()
	r, err := render.NewLatexRenderer("quiz.tex", quizTemplate, []string{"Name", "ID"})
	require.NoError(t, err)
	o := New(r, &fakeCompiler{}, WithWorkDir(work), WithLogger(quietLogger()))

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)

	assert.Equal(t, constants.JobStatusCompileFailed, res.Status)
	assert.ErrorIs(t, res.Err, common.ErrCompileFailure)
	assert.Empty(t, res.ArtifactPath)
	assert.Len(t, res.Token, 32)
	assert.Empty(t, dirEntries(t, work), "cleanup runs on failure too")
}

func TestRunJobTimeout(t *testing.T) {
	work := t.TempDir()
	r, err := render.NewLatexRenderer("quiz.tex", quizTemplate, []string{"Name", "ID"})
	require.NoError(t, err)
	fc := &fakeCompiler{produce: true, items: 1, err: common.TimeoutError(compiler.PassFirst, context.DeadlineExceeded)}
	o := New(r, fc, WithWorkDir(work), WithLogger(quietLogger()))

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusTimedOut, res.Status)
	assert.ErrorIs(t, res.Err, common.ErrTimeout)
	assert.Empty(t, dirEntries(t, work))
}

type failingRenderer struct{ failOn string }

func (f failingRenderer) Render(values map[string]string) (string, error) {
	if values["Name"] == f.failOn {
		return "", common.RenderError("boom", nil)
	}
	return "doc " + values["Name"], nil
}

func TestRunIsolatesPerJobFailures(t *testing.T) {
	work := t.TempDir()
	fc := &fakeCompiler{produce: true, items: 1}
	o := New(failingRenderer{failOn: "Grace"}, fc, WithWorkDir(work), WithTokenSource(sequentialTokens()), WithLogger(quietLogger()))

	sum, err := o.Run(context.Background(), table(t, []string{"Ada", "1"}, []string{"Grace", "2"}, []string{"Alan", "3"}))
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, constants.JobStatusRenderFailed, sum.Results[1].Status)
	assert.ErrorIs(t, sum.Results[1].Err, common.ErrRender)
	assert.Len(t, fc.sources, 2, "compiler not invoked for a failed render")
	assert.Equal(t, []string{filepath.Join(work, "tok1-moodle.xml"), filepath.Join(work, "tok3-moodle.xml")}, sum.Artifacts)
}

type rejectID struct{ id string }

func (v rejectID) Validate(rec records.Record) error {
	if rec.Get("ID") == v.id {
		return common.RecordInvalidError(rec.Index, errors.New("bad id"))
	}
	return nil
}

func TestRunJobInvalidRecord(t *testing.T) {
	fc := &fakeCompiler{produce: true}
	o := New(failingRenderer{}, fc, WithWorkDir(t.TempDir()), WithValidator(rejectID{id: "2"}), WithLogger(quietLogger()))

	sum, err := o.Run(context.Background(), table(t, []string{"Ada", "1"}, []string{"Grace", "2"}))
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusOK, sum.Results[0].Status)
	assert.Equal(t, constants.JobStatusInvalid, sum.Results[1].Status)
	assert.ErrorIs(t, sum.Results[1].Err, common.ErrRecordInvalid)
	assert.Len(t, fc.sources, 1)
}

func TestRunJobExtendedAndRetainTemps(t *testing.T) {
	work := t.TempDir()
	fc := &fakeCompiler{produce: true, items: 1}
	o := New(failingRenderer{}, fc, WithWorkDir(work), WithExtended(true), WithRetainTemps(true),
		WithTokenSource(func() string { return "keep" }), WithLogger(quietLogger()))

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []bool{true}, fc.extended)
	assert.Equal(t, []string{
		constants.SharedScratchFile,
		"keep-moodle.xml",
		"keep.aux",
		"keep.log",
		"keep.synctex.gz",
		"keep.tex",
		"pythontex-files-keep",
	}, dirEntries(t, work))
}

func TestRunJobKeepsPassLogs(t *testing.T) {
	work := t.TempDir()
	fc := &fakeCompiler{produce: true, passLogs: true}
	o := New(failingRenderer{}, fc, WithWorkDir(work), WithTokenSource(func() string { return "lg" }), WithLogger(quietLogger()))

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(work, "lg-primary-1.log")}, res.LogPaths)
	assert.Equal(t, []string{"lg-moodle.xml", "lg-primary-1.log"}, dirEntries(t, work))
}

func TestRunStopsBeforeNextJobWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeCompiler{produce: true, after: cancel}
	o := New(failingRenderer{}, fc, WithWorkDir(t.TempDir()), WithTokenSource(sequentialTokens()), WithLogger(quietLogger()))

	sum, err := o.Run(ctx, table(t, []string{"Ada", "1"}, []string{"Grace", "2"}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, sum.Results[0].OK(), "the job in flight completes")
	assert.Len(t, sum.Artifacts, 1)
}

type memRecorder struct {
	started  []entity.RenderJob
	finished []entity.RenderJob
}

func (m *memRecorder) Start(_ context.Context, job *entity.RenderJob) error {
	m.started = append(m.started, *job)
	return nil
}

func (m *memRecorder) Finish(_ context.Context, job *entity.RenderJob) error {
	m.finished = append(m.finished, *job)
	return errors.New("ledger offline")
}

func TestRunRecordsJobs(t *testing.T) {
	rec := &memRecorder{}
	o := New(failingRenderer{failOn: "Grace"}, &fakeCompiler{produce: true}, WithWorkDir(t.TempDir()),
		WithRecorder(rec), WithRunID("run-x"), WithLogger(quietLogger()))

	sum, err := o.Run(context.Background(), table(t, []string{"Ada", "1"}, []string{"Grace", "2"}))
	require.NoError(t, err, "recorder failures never fail the run")
	assert.Equal(t, "run-x", sum.RunID)

	require.Len(t, rec.started, 2)
	assert.Equal(t, constants.JobStatusRunning, rec.started[0].Status)
	assert.Equal(t, "run-x", rec.started[1].RunID)
	assert.Equal(t, 2, rec.started[1].Row)

	require.Len(t, rec.finished, 2)
	assert.Equal(t, constants.JobStatusOK, rec.finished[0].Status)
	require.NotNil(t, rec.finished[0].ArtifactPath)
	assert.Equal(t, constants.JobStatusRenderFailed, rec.finished[1].Status)
	require.NotNil(t, rec.finished[1].ErrorMessage)
	assert.Contains(t, *rec.finished[1].ErrorMessage, "boom")
}

type ctxRecorder struct {
	startErr  error
	finishErr error
	finished  constants.JobStatus
}

func (c *ctxRecorder) Start(ctx context.Context, _ *entity.RenderJob) error {
	c.startErr = ctx.Err()
	return nil
}

func (c *ctxRecorder) Finish(ctx context.Context, job *entity.RenderJob) error {
	c.finishErr = ctx.Err()
	c.finished = job.Status
	return nil
}

func TestRunJobFinishesLedgerRowAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &ctxRecorder{}
	fc := &fakeCompiler{produce: true, after: cancel}
	o := New(failingRenderer{}, fc, WithWorkDir(t.TempDir()), WithRecorder(rec), WithLogger(quietLogger()))

	res, err := o.RunJob(ctx, table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NoError(t, rec.startErr)
	assert.NoError(t, rec.finishErr)
	assert.Equal(t, constants.JobStatusOK, rec.finished)
}

func TestCleanupPermissionDeniedStopsBatch(t *testing.T) {
	work := t.TempDir()
	var chmods []string
	fc := &fakeCompiler{produce: true, after: func() {
		_ = os.Chmod(filepath.Join(work, "tok1.aux"), 0o444)
	}}
	o := New(failingRenderer{}, fc, WithWorkDir(work), WithTokenSource(sequentialTokens()), WithLogger(quietLogger()))
	o.fs = fsOps{
		remove: func(p string) error {
			if strings.HasSuffix(p, ".aux") {
				return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrPermission}
			}
			return os.Remove(p)
		},
		removeAll: os.RemoveAll,
		chmod: func(p string, mode fs.FileMode) error {
			chmods = append(chmods, fmt.Sprintf("%s %o", filepath.Base(p), mode))
			return nil
		},
	}

	sum, err := o.Run(context.Background(), table(t, []string{"Ada", "1"}, []string{"Grace", "2"}))
	require.ErrorIs(t, err, common.ErrCleanup)
	require.ErrorIs(t, err, fs.ErrPermission)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, []string{"tok1.aux 644"}, chmods)
}

func TestCleanupRetriesOnceAfterPermissionFix(t *testing.T) {
	work := t.TempDir()
	denied := map[string]bool{}
	o := New(failingRenderer{}, &fakeCompiler{produce: true}, WithWorkDir(work), WithTokenSource(func() string { return "rt" }), WithLogger(quietLogger()))
	o.fs = fsOps{
		remove: os.Remove,
		removeAll: func(p string) error {
			if !denied[p] {
				denied[p] = true
				return &fs.PathError{Op: "unlinkat", Path: p, Err: fs.ErrPermission}
			}
			return os.RemoveAll(p)
		},
		chmod: func(string, fs.FileMode) error { return nil },
	}

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.CleanupErrs)
	assert.Equal(t, []string{"rt-moodle.xml"}, dirEntries(t, work))
}

func TestCleanupOtherErrorsAreBestEffort(t *testing.T) {
	work := t.TempDir()
	o := New(failingRenderer{}, &fakeCompiler{produce: true}, WithWorkDir(work), WithTokenSource(func() string { return "be" }), WithLogger(quietLogger()))
	o.fs = fsOps{
		remove: func(p string) error {
			if strings.HasSuffix(p, ".log") {
				return &fs.PathError{Op: "remove", Path: p, Err: errors.New("device busy")}
			}
			return os.Remove(p)
		},
		removeAll: os.RemoveAll,
		chmod:     os.Chmod,
	}

	res, err := o.RunJob(context.Background(), table(t, []string{"Ada", "1"})[0])
	require.NoError(t, err)
	assert.True(t, res.OK())
	require.Len(t, res.CleanupErrs, 1)
	assert.ErrorIs(t, res.CleanupErrs[0], common.ErrCleanup)
	assert.Equal(t, []string{"be-moodle.xml", "be.log"}, dirEntries(t, work))
}

func TestNewTokenIsUniqueHex(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		tok := NewToken()
		require.Len(t, tok, 32)
		require.Equal(t, strings.Trim(tok, "0123456789abcdef"), "")
		require.False(t, seen[tok])
		seen[tok] = true
	}
}
