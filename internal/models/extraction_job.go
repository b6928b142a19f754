package models

import (
	"fmt"
	"time"
)

// JobStatus is the extraction job state machine.
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusDone    JobStatus = "DONE"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobMode selects how much of the card the pipeline reads.
type JobMode string

const (
	JobModeFull      JobMode = "FULL"       // identity block + day rows
	JobModeHoursOnly JobMode = "HOURS_ONLY" // day rows only, identity sections skipped
)

// ExtractionJob is the persistent queue row for one work card, 1:1. The
// lease pair (LeaseOwner, LeaseAcquiredAt) is the only synchronization
// primitive between workers: a conditional update that sets it where it is
// null decides ownership.
type ExtractionJob struct {
	ID         string    `json:"id"`
	WorkCardID string    `json:"work_card_id"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"` // monotonically non-decreasing

	LeaseOwner      *string    `json:"lease_owner,omitempty"`
	LeaseAcquiredAt *time.Time `json:"lease_acquired_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`

	Mode JobMode `json:"mode"`

	// Extraction outcome. Raw holds the model output as returned; Normalized
	// holds the post-gate pipeline payload.
	ExtractedEmployeeName *string `json:"extracted_employee_name,omitempty"`
	ExtractedPassportID   *string `json:"extracted_passport_id,omitempty"`
	RawResult             string  `json:"raw_result,omitempty"`
	NormalizedResult      string  `json:"normalized_result,omitempty"`

	// Advisory match, never authoritative.
	MatchedEmployeeID *string  `json:"matched_employee_id,omitempty"`
	MatchMethod       *string  `json:"match_method,omitempty"`
	MatchConfidence   *float64 `json:"match_confidence,omitempty"`

	ModelName       *string `json:"model_name,omitempty"`
	PipelineVersion *string `json:"pipeline_version,omitempty"`
	LastError       *string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExtractionJob creates a PENDING job for a card.
func NewExtractionJob(id, workCardID string, mode JobMode) *ExtractionJob {
	now := time.Now().UTC()
	if mode == "" {
		mode = JobModeFull
	}
	return &ExtractionJob{
		ID:         id,
		WorkCardID: workCardID,
		Status:     JobStatusPending,
		Mode:       mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkRunning transitions a claimed job to RUNNING and counts the attempt.
// The lease must already be held; this does not touch lease fields.
func (j *ExtractionJob) MarkRunning(at time.Time) {
	t := at.UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &t
	j.Attempts++
	j.UpdatedAt = t
}

// MarkDone records the terminal success state and releases the lease.
func (j *ExtractionJob) MarkDone(at time.Time) {
	t := at.UTC()
	j.Status = JobStatusDone
	j.FinishedAt = &t
	j.LeaseOwner = nil
	j.LeaseAcquiredAt = nil
	j.LastError = nil
	j.UpdatedAt = t
}

// MarkFailed records the terminal failure state with a structured message
// and releases the lease.
func (j *ExtractionJob) MarkFailed(at time.Time, errMsg string) {
	t := at.UTC()
	j.Status = JobStatusFailed
	j.FinishedAt = &t
	j.LeaseOwner = nil
	j.LeaseAcquiredAt = nil
	j.LastError = &errMsg
	j.UpdatedAt = t
}

// ResetForRetry requeues a failed or stale job. Attempts are preserved; the
// cap is enforced by the caller against MaxRetryAttempts.
func (j *ExtractionJob) ResetForRetry() {
	j.Status = JobStatusPending
	j.LeaseOwner = nil
	j.LeaseAcquiredAt = nil
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// IsTerminal reports whether the job reached DONE or FAILED.
func (j *ExtractionJob) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

// LeaseExpired reports whether a held lease is older than the threshold.
func (j *ExtractionJob) LeaseExpired(now time.Time, threshold time.Duration) bool {
	if j.LeaseAcquiredAt == nil {
		return false
	}
	return now.Sub(*j.LeaseAcquiredAt) > threshold
}

// Validate checks structural invariants before persistence.
func (j *ExtractionJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("extraction job ID is required")
	}
	if j.WorkCardID == "" {
		return fmt.Errorf("extraction job work card ID is required")
	}
	switch j.Status {
	case JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed:
	default:
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	switch j.Mode {
	case JobModeFull, JobModeHoursOnly:
	default:
		return fmt.Errorf("invalid job mode %q", j.Mode)
	}
	if j.Attempts < 0 {
		return fmt.Errorf("negative attempts")
	}
	return nil
}
