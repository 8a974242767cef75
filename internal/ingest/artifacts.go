// Package ingest finds existing artifact files for merge mode.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
}

// DiscoverArtifacts lists the document files directly inside dir in name
// order. Hidden files, subdirectories and the paths in exclude are skipped.
func DiscoverArtifacts(dir string, exclude ...string) ([]string, DirStats, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, DirStats{}, common.InvalidArgumentError("directory is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, DirStats{}, fmt.Errorf("read dir: %w", err)
	}

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[absPath(e)] = true
	}

	var out []string
	var stats DirStats
	for _, e := range entries {
		stats.Scanned++
		path := filepath.Join(dir, e.Name())
		if e.IsDir() || IsHidden(path) || !IsDocument(path) {
			continue
		}
		if skip[absPath(path)] {
			stats.Skipped++
			continue
		}
		stats.Matched++
		out = append(out, path)
	}
	sort.Strings(out)
	return out, stats, nil
}

// ResolveArtifacts expands the merge inputs given on the command line. Each
// argument is a file or a glob pattern; patterns expand in name order and
// argument order is kept. No arguments means every document in dir.
func ResolveArtifacts(args []string, dir, output string) ([]string, error) {
	if len(args) == 0 {
		paths, _, err := DiscoverArtifacts(dir, output)
		return paths, err
	}

	out := absPath(output)
	seen := map[string]bool{}
	var paths []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, common.InvalidArgumentErrorf("bad pattern %q: %v", arg, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(arg); errors.Is(err, os.ErrNotExist) {
				return nil, common.InputLoadErrorf("artifact %s not found", arg)
			}
			matches = []string{arg}
		}
		sort.Strings(matches)
		for _, m := range matches {
			abs := absPath(m)
			if abs == out || seen[abs] {
				continue
			}
			seen[abs] = true
			paths = append(paths, m)
		}
	}
	return paths, nil
}

// IsDocument checks for the structured document extension.
func IsDocument(path string) bool {
	return constants.NormalizeExt(filepath.Ext(path)) == constants.NormalizeExt(constants.DocumentExt)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
