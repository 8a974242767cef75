package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
)

// RenderJob represents one row's job for data transfer between layers.
type RenderJob struct {
	ID           uuid.UUID           `json:"id"`
	RunID        string              `json:"run_id"`
	Row          int                 `json:"row"`
	Token        string              `json:"token"`
	Status       constants.JobStatus `json:"status"`
	ArtifactPath *string             `json:"artifact_path,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Duration is zero until the job has finished.
func (j *RenderJob) Duration() time.Duration {
	if j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
