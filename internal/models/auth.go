package models

import "time"

// Roles carried by admin bearer tokens.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
)

// PortalScope is the only scope portal session tokens carry.
const PortalScope = "RESPONSIBLE_EMPLOYEE_UPLOAD"

// Principal is the request-scoped identity resolved from a bearer token.
// Admin tokens are issued by the identity service and verified here; portal
// tokens are issued and verified here.
type Principal struct {
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`

	// Portal-only fields; zero for admin principals.
	PortalScope     string    `json:"portal_scope,omitempty"`
	AccessRequestID string    `json:"access_request_id,omitempty"`
	SiteID          string    `json:"site_id,omitempty"`
	EmployeeID      string    `json:"employee_id,omitempty"`
	ProcessingMonth time.Time `json:"processing_month,omitempty"`
}

// IsPortal reports whether the principal came from a portal session token.
func (p *Principal) IsPortal() bool {
	return p.PortalScope == PortalScope
}
