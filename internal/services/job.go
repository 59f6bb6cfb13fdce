package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jobtrackr/apiserver/internal/storage"
	"github.com/jobtrackr/apiserver/types"
)

// ErrNoStorage is returned from resume operations when no object
// storage backend is configured.
var ErrNoStorage = errors.New("object storage is not configured")

// ErrNoResume is returned when a job has no attached resume.
var ErrNoResume = errors.New("no resume attached")

// JobRepository defines persistence operations for job applications.
type JobRepository interface {
	ListByOwner(ctx context.Context, ownerID int) ([]types.Job, error)
	GetByOwner(ctx context.Context, id, ownerID int) (types.Job, error)
	Create(ctx context.Context, job types.Job) (types.Job, error)
	Update(ctx context.Context, job types.Job) (types.Job, error)
	SetResume(ctx context.Context, id, ownerID int, key, filename string) error
	Delete(ctx context.Context, id, ownerID int) error
}

// JobService encapsulates job-application use-cases. The storage
// wrapper is nil when resume attachments are disabled.
type JobService struct {
	repo    JobRepository
	storage *storage.Storage
}

func NewJobService(repo JobRepository, storage *storage.Storage) *JobService {
	return &JobService{repo: repo, storage: storage}
}

func (s *JobService) ListByOwner(ctx context.Context, ownerID int) ([]types.Job, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *JobService) GetByOwner(ctx context.Context, id, ownerID int) (types.Job, error) {
	return s.repo.GetByOwner(ctx, id, ownerID)
}

func (s *JobService) Create(ctx context.Context, job types.Job) (types.Job, error) {
	return s.repo.Create(ctx, job)
}

func (s *JobService) Update(ctx context.Context, job types.Job) (types.Job, error) {
	return s.repo.Update(ctx, job)
}

func (s *JobService) Delete(ctx context.Context, id, ownerID int) error {
	job, err := s.repo.GetByOwner(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	if s.storage != nil && job.ResumeKey != "" {
		// Attachment cleanup is best-effort; the row is already gone.
		_ = s.storage.Delete(ctx, job.ResumeKey)
	}
	return nil
}

// AttachResume stores the uploaded file and records its key on the job.
// The job must exist and belong to ownerID.
func (s *JobService) AttachResume(ctx context.Context, id, ownerID int, filename, contentType string, data []byte) (types.Job, error) {
	if s.storage == nil {
		return types.Job{}, ErrNoStorage
	}
	if _, err := s.repo.GetByOwner(ctx, id, ownerID); err != nil {
		return types.Job{}, err
	}

	key := resumeKey(ownerID, id)
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Job{}, err
	}
	if err := s.repo.SetResume(ctx, id, ownerID, key, filename); err != nil {
		return types.Job{}, err
	}
	return s.repo.GetByOwner(ctx, id, ownerID)
}

// OpenResume opens a reader for the job's attached resume.
func (s *JobService) OpenResume(ctx context.Context, id, ownerID int) (io.ReadCloser, string, error) {
	if s.storage == nil {
		return nil, "", ErrNoStorage
	}
	job, err := s.repo.GetByOwner(ctx, id, ownerID)
	if err != nil {
		return nil, "", err
	}
	if job.ResumeKey == "" {
		return nil, "", ErrNoResume
	}
	reader, err := s.storage.Get(ctx, job.ResumeKey)
	if err != nil {
		return nil, "", err
	}
	return reader, job.ResumeFilename, nil
}

// RemoveResume deletes the job's attached resume.
func (s *JobService) RemoveResume(ctx context.Context, id, ownerID int) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	job, err := s.repo.GetByOwner(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.ResumeKey == "" {
		return ErrNoResume
	}
	if err := s.storage.Delete(ctx, job.ResumeKey); err != nil {
		return err
	}
	return s.repo.SetResume(ctx, id, ownerID, "", "")
}

// ResumeEnabled reports whether an object storage backend is configured.
func (s *JobService) ResumeEnabled() bool {
	return s.storage != nil
}

func resumeKey(ownerID, jobID int) string {
	return fmt.Sprintf("resumes/%d/%d", ownerID, jobID)
}
