package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

// MergeResult summarizes one merge.
type MergeResult struct {
	OutputPath        string
	Inputs            int
	Items             int
	DroppedCategories int
	Bytes             int64
	Removed           int
}

// Merger combines artifacts into one document.
type Merger struct {
	logger      *slog.Logger
	retain      bool
	parallelism int
}

// MergeOption configures a Merger.
type MergeOption func(*Merger)

// WithRetainInputs keeps the input artifacts after a successful write.
func WithRetainInputs(retain bool) MergeOption {
	return func(m *Merger) { m.retain = retain }
}

// WithParseParallelism bounds how many artifacts are parsed at once.
func WithParseParallelism(n int) MergeOption {
	return func(m *Merger) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

func NewMerger(logger *slog.Logger, opts ...MergeOption) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		logger:      logger,
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Merge writes the first artifact's root to outputPath with every data item of
// the later artifacts appended, in input order then document order. Category
// markers and non-item nodes of the later artifacts are dropped. Inputs are
// removed after a successful write unless the merger retains them.
func (m *Merger) Merge(ctx context.Context, paths []string, outputPath string) (MergeResult, error) {
	start := time.Now()
	if len(paths) == 0 {
		return MergeResult{}, common.EmptyInputError("merge needs at least one artifact")
	}

	docs, err := m.parseAll(ctx, paths)
	if err != nil {
		return MergeResult{}, err
	}

	base := docs[0].Root()
	res := MergeResult{OutputPath: outputPath, Inputs: len(docs)}
	for _, d := range docs[1:] {
		for _, el := range d.Root().ChildElements() {
			switch {
			case IsCategory(el):
				res.DroppedCategories++
			case IsItem(el):
				base.AddChild(el)
			}
		}
	}
	for _, el := range base.ChildElements() {
		if IsItem(el) {
			res.Items++
		}
	}

	n, err := WriteFile(outputPath, base)
	if err != nil {
		return res, fmt.Errorf("write %s: %w", outputPath, err)
	}
	res.Bytes = n

	if !m.retain {
		res.Removed = m.removeInputs(paths, outputPath)
	}

	m.logger.Info("merge.ok",
		"output", outputPath,
		"inputs", res.Inputs,
		"items", res.Items,
		"dropped_categories", res.DroppedCategories,
		"bytes", res.Bytes,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// parseAll parses every path concurrently and returns documents in input order.
func (m *Merger) parseAll(ctx context.Context, paths []string) ([]*Document, error) {
	docs := make([]*Document, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.parallelism)
	for i, p := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			d, err := Load(p)
			if err != nil {
				return err
			}
			docs[i] = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *Merger) removeInputs(paths []string, outputPath string) int {
	out := absOrSelf(outputPath)
	removed := 0
	for _, p := range paths {
		if absOrSelf(p) == out {
			continue
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			m.logger.Warn("failed to remove merged artifact", "path", p, "error", common.CleanupError(p, err))
			continue
		}
		removed++
	}
	return removed
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
