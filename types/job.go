package types

import "time"

// Job application statuses.
const (
	StatusApplied      = "applied"
	StatusInterviewing = "interviewing"
	StatusOffered      = "offered"
	StatusRejected     = "rejected"
)

// ValidStatus reports whether status is one of the known application statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusApplied, StatusInterviewing, StatusOffered, StatusRejected:
		return true
	}
	return false
}

// Job represents a single job application owned by one user.
// Only the owner can read or mutate it; other users see it as not found.
type Job struct {
	// ID is the unique identifier of the application.
	ID int `json:"id" db:"id"`

	// Company is the employer the application was sent to.
	Company string `json:"company" db:"company"`

	// RoleTitle is the position applied for.
	RoleTitle string `json:"role" db:"role_title"`

	// Status tracks where the application is in the pipeline.
	Status string `json:"status" db:"status"`

	// AppliedDate is when the application was submitted. Defaults to
	// the creation time when the client omits it.
	AppliedDate time.Time `json:"appliedDate" db:"applied_date"`

	// Notes holds free-form notes about the application.
	Notes string `json:"notes,omitempty" db:"notes"`

	// ResumeKey and ResumeFilename describe the attached resume in
	// object storage, if one was uploaded.
	ResumeKey      string `json:"-" db:"resume_key"`
	ResumeFilename string `json:"resumeFilename,omitempty" db:"resume_filename"`

	// UserID references the owning user.
	UserID int `json:"userId" db:"user_id"`

	// CreatedAt and UpdatedAt are audit timestamps. UpdatedAt is
	// refreshed on every mutating write.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
