package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/entity"
)

const (
	jobTable        = "render_job"
	colID           = "id"
	colRunID        = "run_id"
	colRow          = "row_index"
	colToken        = "token"
	colStatus       = "status"
	colArtifactPath = "artifact_path"
	colErrorMessage = "error_message"
	colStartedAt    = "started_at"
	colFinishedAt   = "finished_at"
)

type RenderJobRepository interface {
	Start(ctx context.Context, job *entity.RenderJob) error
	Finish(ctx context.Context, job *entity.RenderJob) error
	ListByRun(ctx context.Context, runID string) ([]entity.RenderJob, error)
}

type renderJobRepo struct {
	store *Store
	log   *slog.Logger
}

func NewRenderJobRepository(store *Store, log *slog.Logger) RenderJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &renderJobRepo{store: store, log: log}
}

// Start inserts the job with status RUNNING and assigns its ID.
func (r *renderJobRepo) Start(ctx context.Context, job *entity.RenderJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = constants.JobStatusRunning
	}

	query, args := r.store.builder().Insert(jobTable).
		Columns(colID, colRunID, colRow, colToken, colStatus, colStartedAt).
		Values(job.ID.String(), job.RunID, job.Row, job.Token, string(job.Status), job.StartedAt.UnixMilli()).
		Query()
	if _, err := r.store.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("render_job start failed", "token", job.Token, "row", job.Row, "err", err)
		return err
	}
	r.log.Debug("render_job started", "job_id", job.ID, "token", job.Token, "row", job.Row)
	return nil
}

// Finish records the terminal status, artifact and error of the job.
func (r *renderJobRepo) Finish(ctx context.Context, job *entity.RenderJob) error {
	if job.FinishedAt == nil {
		now := time.Now()
		job.FinishedAt = &now
	}

	query, args := r.store.builder().Update(jobTable).
		Set(colStatus, string(job.Status)).
		Set(colArtifactPath, nullString(job.ArtifactPath)).
		Set(colErrorMessage, nullString(job.ErrorMessage)).
		Set(colFinishedAt, job.FinishedAt.UnixMilli()).
		Where(entsql.EQ(colID, job.ID.String())).
		Query()
	if _, err := r.store.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("render_job finish failed", "job_id", job.ID, "status", job.Status, "err", err)
		return err
	}
	r.log.Debug("render_job finished", "job_id", job.ID, "status", job.Status)
	return nil
}

// ListByRun returns the jobs of one run in row order.
func (r *renderJobRepo) ListByRun(ctx context.Context, runID string) ([]entity.RenderJob, error) {
	b := r.store.builder()
	query, args := b.Select(colID, colRunID, colRow, colToken, colStatus, colArtifactPath, colErrorMessage, colStartedAt, colFinishedAt).
		From(b.Table(jobTable)).
		Where(entsql.EQ(colRunID, runID)).
		OrderBy(colRow).
		Query()

	rows, err := r.store.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.RenderJob
	for rows.Next() {
		var (
			id, status       string
			artifact, errMsg sql.NullString
			started          int64
			finished         sql.NullInt64
			job              entity.RenderJob
		)
		if err := rows.Scan(&id, &job.RunID, &job.Row, &job.Token, &status, &artifact, &errMsg, &started, &finished); err != nil {
			return nil, err
		}
		job.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		job.Status = constants.JobStatus(status)
		job.StartedAt = time.UnixMilli(started)
		if artifact.Valid {
			job.ArtifactPath = &artifact.String
		}
		if errMsg.Valid {
			job.ErrorMessage = &errMsg.String
		}
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			job.FinishedAt = &t
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
