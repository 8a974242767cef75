package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

func loadQuiz(t *testing.T, dir, prefix string, n int) *Document {
	t.Helper()
	doc, err := Load(writeQuiz(t, dir, "bank.xml", prefix, n))
	require.NoError(t, err)
	return doc
}

func chunkSizes(res SplitResult) []int {
	var out []int
	for _, c := range res.Chunks {
		out = append(out, c.Items)
	}
	return out
}

func TestSplitByCountFillsChunksInOrder(t *testing.T) {
	dir := t.TempDir()
	doc := loadQuiz(t, dir, "q", 250)

	res, err := NewSplitter("", quietLogger()).SplitByCount(doc, 100, 10)
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100, 50}, chunkSizes(res))
	assert.Zero(t, res.Truncated)
	assert.Equal(t, 250, res.TotalItems)

	var got []string
	for i, c := range res.Chunks {
		assert.Equal(t, i+1, c.Index)
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("bank-%d.xml", i+1)), c.Path)

		chunk, err := Load(c.Path)
		require.NoError(t, err)
		assert.Len(t, chunk.Root().SelectElements("info"), 1, "header cloned into every chunk")
		assert.Equal(t, c.Items+1, chunk.ItemCount(), "category marker kept in every chunk")
		got = append(got, itemNames(chunk)...)
	}
	if diff := cmp.Diff(expectedNames("q", 1, 250), got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitByCountTruncatesAtFileCap(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 250)

	res, err := NewSplitter("", quietLogger()).SplitByCount(doc, 100, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{100, 100}, chunkSizes(res))
	assert.Equal(t, 50, res.Truncated)
}

func TestSplitByCountChunkCountProperty(t *testing.T) {
	for _, tc := range []struct {
		items, perFile, maxFiles int
	}{
		{1, 1, 5}, {7, 3, 10}, {9, 3, 10}, {10, 1, 4}, {12, 5, 1}, {99, 100, 3},
	} {
		doc := loadQuiz(t, t.TempDir(), "p", tc.items)
		res, err := NewSplitter("", quietLogger()).SplitByCount(doc, tc.perFile, tc.maxFiles)
		require.NoError(t, err)

		want := min((tc.items+tc.perFile-1)/tc.perFile, tc.maxFiles)
		require.Len(t, res.Chunks, want, "%+v", tc)
		total := 0
		for i, c := range res.Chunks {
			if i < len(res.Chunks)-1 {
				assert.Equal(t, tc.perFile, c.Items, "%+v", tc)
			}
			total += c.Items
		}
		assert.Equal(t, tc.items, total+res.Truncated, "%+v", tc)
	}
}

func TestSplitRejectsBadArguments(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 3)
	s := NewSplitter("", quietLogger())

	_, err := s.SplitByCount(doc, 0, 10)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = s.SplitByCount(doc, 1, 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = s.SplitBySize(doc, 0, 0)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = s.SplitBySize(doc, 10, -1)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestSplitWithoutItemsProducesNoChunks(t *testing.T) {
	dir := t.TempDir()
	doc := loadQuiz(t, dir, "q", 0)

	res, err := NewSplitter("", quietLogger()).SplitByCount(doc, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.NoFileExists(t, filepath.Join(dir, "bank-1.xml"))
}

func TestSplitLeavesSourceDocumentIntact(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 5)

	_, err := NewSplitter("", quietLogger()).SplitByCount(doc, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, expectedNames("q", 1, 5), itemNames(doc))
}

func TestSplitWritesIntoOutDir(t *testing.T) {
	out := t.TempDir()
	doc := loadQuiz(t, t.TempDir(), "q", 3)

	res, err := NewSplitter(out, quietLogger()).SplitByCount(doc, 2, 5)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, filepath.Join(out, "bank-1.xml"), res.Chunks[0].Path)
	assert.Equal(t, filepath.Join(out, "bank-2.xml"), res.Chunks[1].Path)
}

func TestSplitBySizeDerivesChunkCount(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 90)
	total, err := doc.Size()
	require.NoError(t, err)

	// Budget just above a third of the document: three chunks required.
	budget := total/3 + 1
	res, err := NewSplitter("", quietLogger()).SplitBySize(doc, budget, 0)
	require.NoError(t, err)

	assert.Equal(t, 30, res.ItemsPerFile)
	assert.Equal(t, []int{30, 30, 30}, chunkSizes(res))
	assert.Zero(t, res.Truncated)
}

func TestSplitBySizeClampsToFileCap(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 90)
	total, err := doc.Size()
	require.NoError(t, err)

	res, err := NewSplitter("", quietLogger()).SplitBySize(doc, total/3+1, 2)
	require.NoError(t, err)

	// Items per file still follows the unclamped chunk count.
	assert.Equal(t, []int{30, 30}, chunkSizes(res))
	assert.Equal(t, 30, res.Truncated)
}

func TestSplitBySizeSingleChunkWhenBudgetIsLarge(t *testing.T) {
	doc := loadQuiz(t, t.TempDir(), "q", 12)

	res, err := NewSplitter("", quietLogger()).SplitBySize(doc, 1<<30, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{12}, chunkSizes(res))
}

// The size heuristic assumes items of similar size. With uneven items a chunk
// can exceed the budget; Oversized surfaces that instead of failing.
func TestSplitBySizeOversizedPostCheck(t *testing.T) {
	dir := t.TempDir()
	body := `<quiz><question type="category"/>` +
		`<question type="x"><name><text>big</text></name><pad>` + strings.Repeat("z", 4000) + `</pad></question>` +
		`<question type="x"><name><text>s1</text></name></question>` +
		`<question type="x"><name><text>s2</text></name></question>` +
		`<question type="x"><name><text>s3</text></name></question>` +
		`</quiz>`
	doc, err := Parse(filepath.Join(dir, "uneven.xml"), []byte(body))
	require.NoError(t, err)
	total, err := doc.Size()
	require.NoError(t, err)

	budget := total/2 + 1
	res, err := NewSplitter("", quietLogger()).SplitBySize(doc, budget, 0)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)

	over := res.Oversized(budget)
	require.Len(t, over, 1)
	assert.Equal(t, 1, over[0].Index)
}

func TestSplitThenMergeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := loadQuiz(t, dir, "r", 37)

	res, err := NewSplitter("", quietLogger()).SplitByCount(doc, 10, 100)
	require.NoError(t, err)

	var paths []string
	for _, c := range res.Chunks {
		paths = append(paths, c.Path)
	}
	out := filepath.Join(dir, "rejoined.xml")
	_, err = NewMerger(quietLogger()).Merge(context.Background(), paths, out)
	require.NoError(t, err)

	merged, err := Load(out)
	require.NoError(t, err)
	if diff := cmp.Diff(itemNames(doc), itemNames(merged)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, merged.Root().SelectElements("info"), 1)
}
