package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jobtrackr/apiserver/types"
)

// JobRepository handles persistence for job applications.
//
// All single-row queries are scoped by owner as well as id, so a job
// belonging to another user is indistinguishable from a missing one.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, company, role_title, status, applied_date, notes, resume_key, resume_filename, user_id, created_at, updated_at`

func (r *JobRepository) ListByOwner(ctx context.Context, ownerID int) ([]types.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE user_id = $1
		ORDER BY applied_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepository) GetByOwner(ctx context.Context, id, ownerID int) (types.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1 AND user_id = $2`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Job{}, ErrNotFound
		}
		return types.Job{}, err
	}
	return job, nil
}

func (r *JobRepository) Create(ctx context.Context, job types.Job) (types.Job, error) {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.AppliedDate.IsZero() {
		job.AppliedDate = now
	}
	if job.Status == "" {
		job.Status = types.StatusApplied
	}

	const query = `
		INSERT INTO jobs (company, role_title, status, applied_date, notes, resume_key, resume_filename, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		job.Company,
		job.RoleTitle,
		job.Status,
		job.AppliedDate,
		job.Notes,
		job.ResumeKey,
		job.ResumeFilename,
		job.UserID,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

func (r *JobRepository) Update(ctx context.Context, job types.Job) (types.Job, error) {
	job.UpdatedAt = time.Now()

	const query = `
		UPDATE jobs
		SET company = $1,
			role_title = $2,
			status = $3,
			applied_date = $4,
			notes = $5,
			updated_at = $6
		WHERE id = $7 AND user_id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		job.Company,
		job.RoleTitle,
		job.Status,
		job.AppliedDate,
		job.Notes,
		job.UpdatedAt,
		job.ID,
		job.UserID,
	)
	if err != nil {
		return types.Job{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Job{}, err
	}
	if affected == 0 {
		return types.Job{}, ErrNotFound
	}
	return job, nil
}

// SetResume records the object-storage key and original filename of the
// attached resume. Empty values clear the attachment.
func (r *JobRepository) SetResume(ctx context.Context, id, ownerID int, key, filename string) error {
	const query = `
		UPDATE jobs
		SET resume_key = $1,
			resume_filename = $2,
			updated_at = $3
		WHERE id = $4 AND user_id = $5`
	result, err := r.db.ExecContext(ctx, query, key, filename, time.Now(), id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id, ownerID int) error {
	const query = `DELETE FROM jobs WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.Job, error) {
	var job types.Job
	err := row.Scan(
		&job.ID,
		&job.Company,
		&job.RoleTitle,
		&job.Status,
		&job.AppliedDate,
		&job.Notes,
		&job.ResumeKey,
		&job.ResumeFilename,
		&job.UserID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return types.Job{}, err
	}
	return job, nil
}
