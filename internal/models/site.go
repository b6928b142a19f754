package models

import (
	"fmt"
	"time"
)

// Site is a work location under a business. Name is unique within the
// business. ResponsibleEmployeeID, when set, must point at an active employee
// of this site; that invariant is enforced at the API boundary because the
// two foreign keys would otherwise form a cycle.
type Site struct {
	ID                    string    `json:"id"`
	BusinessID            string    `json:"business_id"`
	Name                  string    `json:"name"`
	Code                  string    `json:"code"`
	Active                bool      `json:"active"`
	ResponsibleEmployeeID *string   `json:"responsible_employee_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// NewSite creates an active site.
func NewSite(id, businessID, name, code string) *Site {
	now := time.Now().UTC()
	return &Site{
		ID:         id,
		BusinessID: businessID,
		Name:       name,
		Code:       code,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks structural invariants before persistence.
func (s *Site) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("site ID is required")
	}
	if s.BusinessID == "" {
		return fmt.Errorf("site business ID is required")
	}
	if s.Name == "" {
		return fmt.Errorf("site name is required")
	}
	return nil
}
