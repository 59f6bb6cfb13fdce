package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jobtrackr/apiserver/internal/realtime"
	"github.com/jobtrackr/apiserver/internal/services"
	"github.com/jobtrackr/apiserver/internal/store"
	"github.com/jobtrackr/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	maxMultipartMemory = 16 << 20
	maxResumeBytes     = 10 << 20
	formFieldResume    = "resume"

	adminTypeNewJob    = "newJob"
	adminTypeJobUpdate = "jobUpdate"
	adminTypeJobDelete = "jobDelete"
)

// JobHandler provides HTTP handlers for job applications.
type JobHandler struct {
	jobService *services.JobService
	notifier   realtime.Notifier
	log        *logrus.Logger
}

// NewJobHandler constructs a handler with the provided dependencies.
func NewJobHandler(jobService *services.JobService, notifier realtime.Notifier, log *logrus.Logger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		notifier:   notifier,
		log:        log,
	}
}

// JobRouter registers job routes on the given router. All routes
// require authentication; the middleware is applied by the server.
func JobRouter(r chi.Router, jobService *services.JobService, notifier realtime.Notifier, log *logrus.Logger) {
	handler := NewJobHandler(jobService, notifier, log)

	r.Get("/", handler.ListJobs)
	r.Post("/", handler.CreateJob)
	r.Route("/{jobID}", func(r chi.Router) {
		r.Get("/", handler.GetJob)
		r.Put("/", handler.UpdateJob)
		r.Delete("/", handler.DeleteJob)
		if jobService.ResumeEnabled() {
			r.Put("/resume", handler.UploadResume)
			r.Get("/resume", handler.DownloadResume)
			r.Delete("/resume", handler.DeleteResume)
		}
	})
}

type JobUpsertRequest struct {
	Company     string     `json:"company" validate:"required"`
	Role        string     `json:"role" validate:"required"`
	Status      string     `json:"status" validate:"omitempty,oneof=applied interviewing offered rejected"`
	AppliedDate *time.Time `json:"appliedDate"`
	Notes       string     `json:"notes"`
}

// ListJobs returns the caller's applications, newest applied date first.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	jobs, err := h.jobService.ListByOwner(r.Context(), principal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobService.GetByOwner(r.Context(), id, principal.ID)
	if err != nil {
		// Jobs owned by someone else surface as not found, never
		// forbidden: ownership is hidden, not merely denied.
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// CreateJob creates an application and pushes jobCreated to the
// owner's channel plus an admin summary.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := decodeJobRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := types.Job{
		Company:   req.Company,
		RoleTitle: req.Role,
		Status:    req.Status,
		Notes:     req.Notes,
		UserID:    principal.ID,
	}
	if req.AppliedDate != nil {
		job.AppliedDate = *req.AppliedDate
	}

	created, err := h.jobService.Create(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.notify(r.Context(), principal, created, types.EventJobCreated, adminTypeNewJob,
		fmt.Sprintf("New job created by %s: %s at %s", principal.Email, created.RoleTitle, created.Company))

	writeJSON(w, http.StatusCreated, created)
}

// UpdateJob updates an owned application and pushes jobUpdated.
func (h *JobHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	req, err := decodeJobRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobService.GetByOwner(r.Context(), id, principal.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	job.Company = req.Company
	job.RoleTitle = req.Role
	job.Notes = req.Notes
	if req.Status != "" {
		job.Status = req.Status
	}
	if req.AppliedDate != nil {
		job.AppliedDate = *req.AppliedDate
	}

	updated, err := h.jobService.Update(r.Context(), job)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	h.notify(r.Context(), principal, updated, types.EventJobUpdated, adminTypeJobUpdate,
		fmt.Sprintf("Job updated by %s: %s at %s", principal.Email, updated.RoleTitle, updated.Company))

	writeJSON(w, http.StatusOK, updated)
}

// DeleteJob removes an owned application and pushes jobDeleted with
// the job id as its payload.
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	// Load first: the admin summary needs the job's details after the
	// row is gone.
	job, err := h.jobService.GetByOwner(r.Context(), id, principal.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}

	if err := h.jobService.Delete(r.Context(), id, principal.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	h.notify(r.Context(), principal, strconv.Itoa(job.ID), types.EventJobDeleted, adminTypeJobDelete,
		fmt.Sprintf("Job deleted by %s: %s at %s", principal.Email, job.RoleTitle, job.Company))

	writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted successfully"})
}

// UploadResume attaches a resume file to an owned application.
func (h *JobHandler) UploadResume(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, err := parseResumeFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobService.AttachResume(r.Context(), id, principal.ID, file.Filename, file.ContentType, file.Data)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store resume")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// DownloadResume streams the attached resume back to the owner.
func (h *JobHandler) DownloadResume(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	reader, filename, err := h.jobService.OpenResume(r.Context(), id, principal.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, services.ErrNoResume) {
			writeError(w, http.StatusNotFound, "resume not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch resume")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = io.Copy(w, reader)
}

// DeleteResume removes the attached resume from an owned application.
func (h *JobHandler) DeleteResume(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.jobService.RemoveResume(r.Context(), id, principal.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, services.ErrNoResume) {
			writeError(w, http.StatusNotFound, "resume not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete resume")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// notify pushes the owner event then the admin summary, in that order.
// Failures are logged and never affect the REST response: the response
// is the authoritative acknowledgment, the events are best-effort.
func (h *JobHandler) notify(ctx context.Context, principal Principal, ownerPayload any, kind, adminType, adminMessage string) {
	if err := h.notifier.PublishOwnerEvent(ctx, principal.ID, kind, ownerPayload); err != nil {
		h.log.WithError(err).WithField("kind", kind).Warn("failed to publish owner event")
	}
	notification := types.AdminNotification{Type: adminType, Message: adminMessage}
	if err := h.notifier.PublishAdminEvent(ctx, types.EventAdminNotification, notification); err != nil {
		h.log.WithError(err).WithField("kind", kind).Warn("failed to publish admin event")
	}
}

func decodeJobRequest(r *http.Request) (JobUpsertRequest, error) {
	var req JobUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return JobUpsertRequest{}, errors.New("invalid request")
	}
	req.Company = strings.TrimSpace(req.Company)
	req.Role = strings.TrimSpace(req.Role)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := validateRequest(req); err != nil {
		return JobUpsertRequest{}, err
	}
	return req, nil
}

// ResumeFile represents an uploaded resume.
type ResumeFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func parseResumeFile(form *multipart.Form) (ResumeFile, error) {
	if form == nil {
		return ResumeFile{}, errors.New("missing form data")
	}

	files := form.File[formFieldResume]
	if len(files) == 0 {
		return ResumeFile{}, errors.New("resume file is required")
	}
	if len(files) > 1 {
		return ResumeFile{}, errors.New("only one resume file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return ResumeFile{}, fmt.Errorf("failed to read resume file: %w", err)
	}

	data, err := readFileLimited(file, maxResumeBytes)
	_ = file.Close()
	if err != nil {
		return ResumeFile{}, err
	}

	return ResumeFile{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
