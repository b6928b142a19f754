package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// accessTokenBytes yields a 64-character URL-safe token once base64 encoded.
const accessTokenBytes = 48

// UploadAccessRequest is a tokenized link letting a site's responsible
// employee upload cards for one employee and month without an admin account.
// Lookup is by the unique token index; active=false revokes.
type UploadAccessRequest struct {
	ID              string    `json:"id"`
	Token           string    `json:"token"`
	BusinessID      string    `json:"business_id"`
	SiteID          string    `json:"site_id"`
	EmployeeID      string    `json:"employee_id"`
	ProcessingMonth time.Time `json:"processing_month"`

	CreatedBy      *string    `json:"created_by,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Active         bool       `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUploadAccessRequest creates an active link with a fresh token.
func NewUploadAccessRequest(id, businessID, siteID, employeeID string, month time.Time, createdBy *string, expiresAt *time.Time) (*UploadAccessRequest, error) {
	token, err := NewAccessToken()
	if err != nil {
		return nil, err
	}
	return &UploadAccessRequest{
		ID:              id,
		Token:           token,
		BusinessID:      businessID,
		SiteID:          siteID,
		EmployeeID:      employeeID,
		ProcessingMonth: NormalizeMonth(month),
		CreatedBy:       createdBy,
		ExpiresAt:       expiresAt,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// NewAccessToken returns a 64-character URL-safe random token.
func NewAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsExpired reports whether the link has passed its expiry.
func (r *UploadAccessRequest) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// IsUsable reports whether the link is active and unexpired.
func (r *UploadAccessRequest) IsUsable(now time.Time) bool {
	return r.Active && !r.IsExpired(now)
}
