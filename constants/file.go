package constants

import (
	"path/filepath"
	"strings"
)

const (
	// SourceExt is the extension of the rendered document handed to the compiler.
	SourceExt = ".tex"
	// ArtifactSuffix is appended to a job token to name its structured artifact.
	ArtifactSuffix = "-moodle.xml"
	// DocumentExt is the extension of merged and split output documents.
	DocumentExt = ".xml"
	// LogExt is the extension of per-pass compiler logs.
	LogExt = ".log"

	// SharedScratchFile is left in the working directory by the comment package
	// during the auxiliary pass. It is not namespaced per job.
	SharedScratchFile = "comment.cut"
	// AuxScratchDirPrefix prefixes the per-job directory created by the
	// auxiliary compiler.
	AuxScratchDirPrefix = "pythontex-files-"
)

// RecordExtensions holds the tabular formats the record source understands.
var RecordExtensions = map[string]struct{}{
	"csv":  {},
	"xlsx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// StripExt removes the final extension from name, if any.
func StripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
