package constants

// JobStatus is the canonical status recorded for one rendered row.
type JobStatus string

// Stable values (store these exact strings in the ledger).
const (
	JobStatusRunning       JobStatus = "RUNNING"        // in progress
	JobStatusOK            JobStatus = "OK"             // artifact produced
	JobStatusInvalid       JobStatus = "INVALID"        // record rejected by schema
	JobStatusRenderFailed  JobStatus = "RENDER_FAILED"  // template could not be rendered
	JobStatusCompileFailed JobStatus = "COMPILE_FAILED" // artifact missing after all passes
	JobStatusTimedOut      JobStatus = "TIMED_OUT"      // a compiler pass hit its deadline
)

// Terminal reports whether the status ends a job.
func (s JobStatus) Terminal() bool {
	return s != JobStatusRunning && s != ""
}
