package models

import (
	"fmt"
	"time"
)

// ReviewStatus is the admin review state of a work card.
type ReviewStatus string

const (
	ReviewStatusNeedsAssignment ReviewStatus = "NEEDS_ASSIGNMENT" // no employee attached yet
	ReviewStatusNeedsReview     ReviewStatus = "NEEDS_REVIEW"     // employee known, awaiting admin review
	ReviewStatusApproved        ReviewStatus = "APPROVED"
	ReviewStatusRejected        ReviewStatus = "REJECTED"
)

// CardSource records which ingest path created a card.
type CardSource string

const (
	SourceAdminSingle         CardSource = "ADMIN_SINGLE"
	SourceAdminBatch          CardSource = "ADMIN_BATCH"
	SourceResponsibleEmployee CardSource = "RESPONSIBLE_EMPLOYEE"
	SourceTelegram            CardSource = "TELEGRAM"
)

// WorkCard is one photographed monthly hours card. The image bytes live in
// the blob store keyed by card ID; this row carries the review lifecycle.
type WorkCard struct {
	ID         string  `json:"id"`
	BusinessID string  `json:"business_id"`
	SiteID     *string `json:"site_id,omitempty"`     // optional at ingest, required before approval
	EmployeeID *string `json:"employee_id,omitempty"` // null while NEEDS_ASSIGNMENT

	// ProcessingMonth is the month the card is accounted to (first of month, UTC).
	ProcessingMonth time.Time  `json:"processing_month"`
	Source          CardSource `json:"source"`

	// Original upload metadata. The bytes themselves are immutable in the blob store.
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	SizeBytes        int64  `json:"size_bytes"`

	ReviewStatus ReviewStatus `json:"review_status"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkCard creates a card for an upload. The review status follows the
// employee: known employee starts at NEEDS_REVIEW, unknown at NEEDS_ASSIGNMENT.
func NewWorkCard(id, businessID string, siteID, employeeID *string, month time.Time, source CardSource, filename, mimeType string, size int64) *WorkCard {
	now := time.Now().UTC()
	status := ReviewStatusNeedsAssignment
	if employeeID != nil && *employeeID != "" {
		status = ReviewStatusNeedsReview
	}
	return &WorkCard{
		ID:               id,
		BusinessID:       businessID,
		SiteID:           siteID,
		EmployeeID:       employeeID,
		ProcessingMonth:  NormalizeMonth(month),
		Source:           source,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        size,
		ReviewStatus:     status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Assign attaches an employee and moves an unassigned card to NEEDS_REVIEW.
// Approved and rejected cards keep their status; reassignment of those is an
// explicit admin flow handled above this model.
func (c *WorkCard) Assign(employeeID string) {
	c.EmployeeID = &employeeID
	if c.ReviewStatus == ReviewStatusNeedsAssignment {
		c.ReviewStatus = ReviewStatusNeedsReview
	}
	c.UpdatedAt = time.Now().UTC()
}

// Unassign detaches the employee and reverts the card to NEEDS_ASSIGNMENT.
func (c *WorkCard) Unassign() {
	c.EmployeeID = nil
	c.ReviewStatus = ReviewStatusNeedsAssignment
	c.ApprovedBy = nil
	c.ApprovedAt = nil
	c.UpdatedAt = time.Now().UTC()
}

// MarkApproved stamps the approval fields. Callers run the carry-forward
// protocol first; this only records the terminal state.
func (c *WorkCard) MarkApproved(userID string, at time.Time) {
	c.ReviewStatus = ReviewStatusApproved
	c.ApprovedBy = &userID
	t := at.UTC()
	c.ApprovedAt = &t
	c.UpdatedAt = t
}

// MarkRejected moves the card to REJECTED and clears any approval stamp.
func (c *WorkCard) MarkRejected() {
	c.ReviewStatus = ReviewStatusRejected
	c.ApprovedBy = nil
	c.ApprovedAt = nil
	c.UpdatedAt = time.Now().UTC()
}

// IsApproved reports whether the card is in the APPROVED state.
func (c *WorkCard) IsApproved() bool {
	return c.ReviewStatus == ReviewStatusApproved
}

// MonthKey returns the canonical YYYY-MM-01 form of the processing month.
func (c *WorkCard) MonthKey() string {
	return FormatMonth(c.ProcessingMonth)
}

// Validate checks structural invariants before persistence.
func (c *WorkCard) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("work card ID is required")
	}
	if c.BusinessID == "" {
		return fmt.Errorf("work card business ID is required")
	}
	if c.ProcessingMonth.IsZero() {
		return fmt.Errorf("work card processing month is required")
	}
	switch c.Source {
	case SourceAdminSingle, SourceAdminBatch, SourceResponsibleEmployee, SourceTelegram:
	default:
		return fmt.Errorf("invalid card source %q", c.Source)
	}
	switch c.ReviewStatus {
	case ReviewStatusNeedsAssignment, ReviewStatusNeedsReview, ReviewStatusApproved, ReviewStatusRejected:
	default:
		return fmt.Errorf("invalid review status %q", c.ReviewStatus)
	}
	if c.ReviewStatus == ReviewStatusApproved && (c.ApprovedBy == nil || c.ApprovedAt == nil) {
		return fmt.Errorf("approved card missing approval stamp")
	}
	return nil
}
