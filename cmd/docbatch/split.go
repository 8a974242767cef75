package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docbatch/internal/common"
	"github.com/joseph-ayodele/docbatch/internal/document"
)

const mebibyte = 1 << 20

type splitFlags struct {
	sizeMiB   int
	questions int
	files     int
	outDir    string
	warn      bool
}

func newSplitCmd(g *globals) *cobra.Command {
	f := &splitFlags{}
	cmd := &cobra.Command{
		Use:   "split SOURCE",
		Short: "Split a document into smaller numbered documents",
		Long: `split writes SOURCE's items into <source>-1.xml, <source>-2.xml, ...

By default chunks are sized to roughly --size MiB each, and --files caps
the number of chunks. Passing --questions switches to count mode:
--questions items per chunk, at most --files chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("warn") {
				g.cfg.Run.Warn = f.warn
			}
			countMode := cmd.Flags().Changed("questions")
			return runSplit(cmd, g, f, args[0], countMode)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&f.sizeMiB, "size", "z", 20, "target chunk size in MiB")
	fl.IntVarP(&f.questions, "questions", "q", 100, "items per chunk (count mode)")
	fl.IntVarP(&f.files, "files", "f", 1, "maximum number of chunks")
	fl.StringVar(&f.outDir, "out-dir", "", "directory for chunks (default: next to SOURCE)")
	fl.BoolVarP(&f.warn, "warn", "w", true, "ask before overwriting existing chunks")
	cmd.MarkFlagsMutuallyExclusive("size", "questions")
	return cmd
}

func runSplit(cmd *cobra.Command, g *globals, f *splitFlags, source string, countMode bool) error {
	logger := g.logger
	v := common.NewValidator().
		Field("source", source, common.Required, common.ExistingFile).
		Field("size", f.sizeMiB, common.Positive).
		Field("questions", f.questions, common.Positive).
		Field("files", f.files, common.Positive)
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}

	doc, err := document.Load(source)
	if err != nil {
		return err
	}
	splitter := document.NewSplitter(f.outDir, logger)

	// Chunks that already exist are only known after planning, so confirm
	// against the most chunks the split could write.
	maxChunks := f.files
	if !countMode && !cmd.Flags().Changed("files") {
		maxChunks = doc.ItemCount()
	}
	var existing []string
	for i := 1; i <= maxChunks; i++ {
		existing = append(existing, splitter.ChunkPath(doc, i))
	}
	if proceed, err := confirmOverwrite(cmd.Context(), g.cfg.Run.Warn, existing...); !proceed {
		return err
	}

	var res document.SplitResult
	budget := int64(f.sizeMiB) * mebibyte
	if countMode {
		res, err = splitter.SplitByCount(doc, f.questions, f.files)
	} else {
		maxFiles := 0
		if cmd.Flags().Changed("files") {
			maxFiles = f.files
		}
		res, err = splitter.SplitBySize(doc, budget, maxFiles)
	}
	if err != nil {
		return err
	}

	if res.Truncated > 0 {
		logger.Warn("split truncated", "source", source, "left_out", res.Truncated, "files", len(res.Chunks))
	}
	if !countMode {
		for _, c := range res.Oversized(budget) {
			logger.Warn("chunk exceeds size budget", "path", c.Path, "bytes", c.Bytes, "budget", budget)
		}
	}
	for _, c := range res.Chunks {
		fmt.Printf("%s: %d items, %d bytes\n", c.Path, c.Items, c.Bytes)
	}
	return nil
}
