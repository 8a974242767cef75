package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/batch"
	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/compiler"
	"github.com/joseph-ayodele/docbatch/internal/document"
	"github.com/joseph-ayodele/docbatch/internal/export"
	"github.com/joseph-ayodele/docbatch/internal/prompt"
	"github.com/joseph-ayodele/docbatch/internal/records"
	"github.com/joseph-ayodele/docbatch/internal/render"
	"github.com/joseph-ayodele/docbatch/internal/repository"
)

type runFlags struct {
	retain      bool
	extended    bool
	logOutput   bool
	logDir      string
	number      int
	index       int
	warn        bool
	strict      bool
	schema      string
	ledger      string
	report      string
	passTimeout time.Duration
	workDir     string
	outDir      string
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run TEMPLATE DATA",
		Short: "Render, compile and merge one document per data row",
		Long: `run renders TEMPLATE (LaTeX with \VAR{} and \BLOCK{} placeholders) once
per row of DATA (CSV or XLSX), compiles every rendering, and merges the
resulting artifacts into <template name>.xml.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd, g.cfg, f)
			return runBatch(cmd.Context(), g, f, args[0], args[1])
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.retain, "retain", "d", false, "keep temporary files and merged artifacts")
	fl.BoolVarP(&f.extended, "extended", "p", false, "run the auxiliary compiler between primary passes")
	fl.BoolVarP(&f.logOutput, "log", "l", false, "write each compiler pass's output to a log file")
	fl.StringVar(&f.logDir, "log-dir", "", "directory for compiler logs (default: work dir)")
	fl.IntVarP(&f.number, "number", "n", 0, "process only the first N records")
	fl.IntVarP(&f.index, "index", "i", 0, "process only record I (1-based)")
	fl.BoolVarP(&f.warn, "warn", "w", true, "ask before overwriting an existing output")
	fl.BoolVar(&f.strict, "strict", false, "fail jobs whose template references unknown fields")
	fl.StringVar(&f.schema, "schema", "", "JSON Schema every record must satisfy")
	fl.StringVar(&f.ledger, "ledger", "", "record jobs in a SQLite path or postgres:// DSN")
	fl.StringVar(&f.report, "report", "", "write an XLSX run report to this path")
	fl.DurationVar(&f.passTimeout, "pass-timeout", 0, "timeout for each compiler pass")
	fl.StringVar(&f.workDir, "work-dir", "", "directory jobs compile in")
	fl.StringVar(&f.outDir, "out-dir", ".", "directory for the merged document")
	fl.BoolVar(&f.extended, "pythontex", false, "alias for --extended")
	cmd.MarkFlagsMutuallyExclusive("number", "index")
	return cmd
}

// applyRunFlags layers explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *common.Config, f *runFlags) {
	changed := cmd.Flags().Changed
	if changed("retain") {
		cfg.Run.RetainTemps = f.retain
	}
	if changed("log") {
		cfg.Run.LogOutput = f.logOutput
	}
	if changed("log-dir") {
		cfg.Run.LogDir = f.logDir
		cfg.Run.LogOutput = true
	}
	if changed("warn") {
		cfg.Run.Warn = f.warn
	}
	if changed("strict") {
		cfg.Render.Strict = f.strict
	}
	if changed("ledger") {
		cfg.Ledger.DSN = f.ledger
	}
	if changed("pass-timeout") {
		cfg.Compiler.PassTimeout = f.passTimeout
	}
	if changed("work-dir") {
		cfg.Run.WorkDir = f.workDir
	}
}

func runBatch(ctx context.Context, g *globals, f *runFlags, templatePath, dataPath string) error {
	cfg, logger := g.cfg, g.logger
	if err := cfg.Validate(); err != nil {
		return err
	}
	v := common.NewValidator().
		Field("template", templatePath, common.Required, common.ExistingFile).
		Field("data", dataPath, common.Required, common.ExistingFile).
		Field("number", f.number, common.NonNegative).
		Field("index", f.index, common.NonNegative)
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}

	start := time.Now()
	table, err := records.Load(dataPath)
	if err != nil {
		return err
	}
	recs, err := records.Select(table.Records, f.number, f.index)
	if err != nil {
		return err
	}

	renderer, err := render.LoadLatexTemplate(templatePath, table.Fields,
		render.WithStrict(cfg.Render.Strict), render.WithLogger(logger))
	if err != nil {
		return err
	}

	output := filepath.Join(f.outDir, constants.StripExt(filepath.Base(templatePath))+constants.DocumentExt)
	if proceed, err := confirmOverwrite(ctx, cfg.Run.Warn, output); !proceed {
		return err
	}

	opts := []batch.Option{
		batch.WithWorkDir(cfg.Run.WorkDir),
		batch.WithExtended(f.extended),
		batch.WithRetainTemps(cfg.Run.RetainTemps),
		batch.WithLogger(logger),
	}
	if f.schema != "" {
		sv, err := records.LoadSchemaValidator(f.schema)
		if err != nil {
			return err
		}
		opts = append(opts, batch.WithValidator(sv))
	}
	if cfg.Ledger.DSN != "" {
		store, err := repository.Open(ctx, repository.Config{DSN: cfg.Ledger.DSN}, logger)
		if err != nil {
			return common.WrapError(err, "open ledger")
		}
		defer store.Close()
		opts = append(opts, batch.WithRecorder(repository.NewRenderJobRepository(store, logger)))
	}

	var invOpts []compiler.Option
	invOpts = append(invOpts, compiler.WithLogger(logger))
	if cfg.Run.LogOutput {
		invOpts = append(invOpts, compiler.WithPassLogs(cfg.Run.LogDir))
	}
	inv := compiler.NewInvoker(cfg.Compiler, compiler.ExecRunner{}, invOpts...)

	orch := batch.New(renderer, inv, opts...)
	sum, runErr := orch.Run(ctx, recs)

	if f.report != "" {
		if err := export.NewService(logger).WriteRunReport(f.report, sum); err != nil {
			logger.Error("report write failed", "path", f.report, "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if len(sum.Artifacts) == 0 {
		return common.EmptyInputError(fmt.Sprintf("no artifacts produced for %d records", sum.Processed))
	}

	merger := document.NewMerger(logger, document.WithRetainInputs(cfg.Run.RetainTemps))
	res, err := merger.Merge(ctx, sum.Artifacts, output)
	if err != nil {
		return err
	}
	logger.Info("run.done",
		"run_id", sum.RunID,
		"output", res.OutputPath,
		"items", res.Items,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
	)
	fmt.Printf("Execution for %d records generated in %.0f sec\n", sum.Processed, time.Since(start).Seconds())
	return nil
}

// confirmOverwrite asks before existing outputs are replaced. A declined or
// interrupted prompt stops the command without an error.
func confirmOverwrite(ctx context.Context, warn bool, paths ...string) (bool, error) {
	ok, err := prompt.Overwrite(ctx, prompt.ForTerminal(warn), paths...)
	if errors.Is(err, prompt.ErrAborted) {
		ok, err = false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Println("aborted")
	}
	return ok, nil
}
