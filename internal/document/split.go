package document

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/beevik/etree"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

// Chunk is one written split output.
type Chunk struct {
	Index int
	Path  string
	Items int
	Bytes int64
}

// SplitResult summarizes one split. Truncated counts data items left out
// because the file cap was reached.
type SplitResult struct {
	Chunks       []Chunk
	TotalItems   int
	ItemsPerFile int
	Truncated    int
}

// Oversized returns the chunks whose serialized size exceeds maxBytes. Size
// mode picks items-per-file from the average item size, so chunks with
// unusually large items can land here.
func (r SplitResult) Oversized(maxBytes int64) []Chunk {
	var out []Chunk
	for _, c := range r.Chunks {
		if c.Bytes > maxBytes {
			out = append(out, c)
		}
	}
	return out
}

// Splitter partitions one document into numbered chunk documents.
type Splitter struct {
	outDir string
	logger *slog.Logger
}

// NewSplitter writes chunks into outDir; an empty outDir means next to the source.
func NewSplitter(outDir string, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{outDir: outDir, logger: logger}
}

// ChunkPath returns the path of the 1-based chunk index for doc.
func (s *Splitter) ChunkPath(doc *Document, index int) string {
	stem := "document"
	dir := s.outDir
	if doc.Path != "" {
		stem = constants.StripExt(filepath.Base(doc.Path))
		if dir == "" {
			dir = filepath.Dir(doc.Path)
		}
	}
	return filepath.Join(dir, stem+"-"+strconv.Itoa(index)+constants.DocumentExt)
}

// SplitByCount fills chunk 1 with itemsPerFile data items, then chunk 2, and so
// on, stopping after maxFiles chunks. Every chunk starts from a copy of the
// source root without its data items.
func (s *Splitter) SplitByCount(doc *Document, itemsPerFile, maxFiles int) (SplitResult, error) {
	if itemsPerFile < 1 {
		return SplitResult{}, common.InvalidArgumentErrorf("items per file must be at least 1, got %d", itemsPerFile)
	}
	if maxFiles < 1 {
		return SplitResult{}, common.InvalidArgumentErrorf("file count must be at least 1, got %d", maxFiles)
	}
	return s.distribute(doc, itemsPerFile, maxFiles)
}

// SplitBySize derives the chunk count from the serialized size of doc and
// maxBytesPerFile, clamps it to maxFiles when maxFiles > 0, and splits with
// floor(items / unclamped chunk count) items per file. Chunk sizes are not
// checked against the budget; see SplitResult.Oversized.
func (s *Splitter) SplitBySize(doc *Document, maxBytesPerFile int64, maxFiles int) (SplitResult, error) {
	if maxBytesPerFile < 1 {
		return SplitResult{}, common.InvalidArgumentErrorf("max bytes per file must be at least 1, got %d", maxBytesPerFile)
	}
	if maxFiles < 0 {
		return SplitResult{}, common.InvalidArgumentErrorf("file count must not be negative, got %d", maxFiles)
	}

	total, err := doc.Size()
	if err != nil {
		return SplitResult{}, fmt.Errorf("measure %s: %w", doc.Path, err)
	}
	required := int((total + maxBytesPerFile - 1) / maxBytesPerFile)
	if required < 1 {
		required = 1
	}
	files := required
	if maxFiles > 0 && maxFiles < files {
		files = maxFiles
	}

	items := len(doc.Items())
	perFile := items / required
	if perFile < 1 {
		perFile = 1
	}
	s.logger.Info("split.size.plan",
		"source", doc.Path,
		"bytes", total,
		"max_bytes_per_file", maxBytesPerFile,
		"required_files", required,
		"files", files,
		"items", items,
		"items_per_file", perFile,
	)
	return s.distribute(doc, perFile, files)
}

func (s *Splitter) distribute(doc *Document, perFile, maxFiles int) (SplitResult, error) {
	template := doc.Root().Copy()
	items := dataItems(template)
	for _, el := range items {
		template.RemoveChild(el)
	}

	res := SplitResult{TotalItems: len(items), ItemsPerFile: perFile}
	if len(items) == 0 {
		s.logger.Info("split.empty", "source", doc.Path)
		return res, nil
	}

	n := (len(items) + perFile - 1) / perFile
	if n > maxFiles {
		n = maxFiles
	}

	// Assemble every chunk before writing any of them.
	roots := make([]*etree.Element, n)
	counts := make([]int, n)
	emitted := 0
	for i := range roots {
		root := template.Copy()
		end := min(emitted+perFile, len(items))
		for _, el := range items[emitted:end] {
			root.AddChild(el)
		}
		counts[i] = end - emitted
		emitted = end
		roots[i] = root
	}
	res.Truncated = len(items) - emitted

	for i, root := range roots {
		path := s.ChunkPath(doc, i+1)
		written, err := WriteFile(path, root)
		if err != nil {
			return res, fmt.Errorf("write %s: %w", path, err)
		}
		res.Chunks = append(res.Chunks, Chunk{Index: i + 1, Path: path, Items: counts[i], Bytes: written})
	}

	if res.Truncated > 0 {
		s.logger.Warn("split.truncated",
			"source", doc.Path,
			"files", len(res.Chunks),
			"truncated_items", res.Truncated,
		)
	}
	s.logger.Info("split.ok",
		"source", doc.Path,
		"files", len(res.Chunks),
		"items", emitted,
		"items_per_file", perFile,
	)
	return res, nil
}
