package models

import (
	"fmt"
	"time"
)

// EmployeeStatus tracks reporting states used by the businesses.
type EmployeeStatus string

const (
	EmployeeStatusActive           EmployeeStatus = "ACTIVE"
	EmployeeStatusReportedInSpark  EmployeeStatus = "REPORTED_IN_SPARK"
	EmployeeStatusReportedReturned EmployeeStatus = "REPORTED_RETURNED_FROM_ESCAPE"
)

// Employee belongs to a business and optionally a site. PassportNormalized
// is the canonical matching key; (business_id, passport_normalized) is unique
// whenever a passport is present.
type Employee struct {
	ID         string  `json:"id"`
	BusinessID string  `json:"business_id"`
	SiteID     *string `json:"site_id,omitempty"`

	FullName           string  `json:"full_name"`
	PassportID         *string `json:"passport_id,omitempty"`         // raw, as entered
	PassportNormalized *string `json:"passport_normalized,omitempty"` // canonical form used for matching
	Phone              *string `json:"phone,omitempty"`

	Status EmployeeStatus `json:"status"`
	Active bool           `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEmployee creates an active employee in the default status.
func NewEmployee(id, businessID, fullName string) *Employee {
	now := time.Now().UTC()
	return &Employee{
		ID:         id,
		BusinessID: businessID,
		FullName:   fullName,
		Status:     EmployeeStatusActive,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks structural invariants before persistence.
func (e *Employee) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("employee ID is required")
	}
	if e.BusinessID == "" {
		return fmt.Errorf("employee business ID is required")
	}
	if e.FullName == "" {
		return fmt.Errorf("employee full name is required")
	}
	switch e.Status {
	case EmployeeStatusActive, EmployeeStatusReportedInSpark, EmployeeStatusReportedReturned:
	default:
		return fmt.Errorf("invalid employee status %q", e.Status)
	}
	return nil
}
