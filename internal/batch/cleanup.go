package batch

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

// fsOps is the filesystem surface of cleanup, swappable in tests.
type fsOps struct {
	remove    func(path string) error
	removeAll func(path string) error
	chmod     func(path string, mode fs.FileMode) error
}

var osOps = fsOps{remove: os.Remove, removeAll: os.RemoveAll, chmod: os.Chmod}

type cleaner struct {
	ops    fsOps
	logger *slog.Logger
}

// cleanupResult separates best-effort failures from the one failure that
// stops the batch: permission still denied after the fix-up retry.
type cleanupResult struct {
	Removed []string
	Errs    []error
	Fatal   error
}

// clean removes a job's byproducts from workDir: every entry whose name
// starts with token except those in keep, the shared scratch file of the
// auxiliary pass and the auxiliary compiler's per-job directory.
func (c cleaner) clean(workDir, token string, keep map[string]bool) cleanupResult {
	var res cleanupResult

	matches, err := filepath.Glob(filepath.Join(workDir, token+"*"))
	if err != nil {
		res.Errs = append(res.Errs, common.CleanupError(workDir, err))
	}
	for _, m := range matches {
		if keep[filepath.Clean(m)] {
			continue
		}
		c.removeOne(&res, m, false)
	}
	c.removeOne(&res, filepath.Join(workDir, constants.SharedScratchFile), false)
	c.removeOne(&res, filepath.Join(workDir, constants.AuxScratchDirPrefix+token), true)
	return res
}

func (c cleaner) removeOne(res *cleanupResult, path string, tree bool) {
	if res.Fatal != nil {
		return
	}
	if tree {
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			return
		}
	}

	err := c.delete(path, tree)
	if errors.Is(err, fs.ErrPermission) {
		c.logger.Debug("cleanup permission denied, retrying writable", "path", path)
		c.makeWritable(path, tree)
		err = c.delete(path, tree)
		if errors.Is(err, fs.ErrPermission) {
			res.Fatal = common.CleanupError(path, err)
			return
		}
	}
	switch {
	case err == nil:
		res.Removed = append(res.Removed, path)
	case errors.Is(err, fs.ErrNotExist):
	default:
		res.Errs = append(res.Errs, common.CleanupError(path, err))
	}
}

func (c cleaner) delete(path string, tree bool) error {
	if tree {
		return c.ops.removeAll(path)
	}
	err := c.ops.remove(path)
	if err != nil && isDir(path) {
		return c.ops.removeAll(path)
	}
	return err
}

// makeWritable adds owner write permission (and search permission on
// directories) to path and, for a tree, everything below it. Other mode bits
// and the containing directory are left as they are. Errors surface through
// the retried removal.
func (c cleaner) makeWritable(path string, tree bool) {
	if !tree {
		if fi, err := os.Lstat(path); err == nil {
			c.addOwnerWrite(path, fi.Mode())
		}
		return
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			c.addOwnerWrite(p, fi.Mode())
		}
		return nil
	})
}

func (c cleaner) addOwnerWrite(path string, mode fs.FileMode) {
	if mode&fs.ModeSymlink != 0 {
		return
	}
	want := mode.Perm() | 0o200
	if mode.IsDir() {
		want |= 0o100
	}
	if want != mode.Perm() {
		_ = c.ops.chmod(path, want)
	}
}

func isDir(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.IsDir()
}
