package common

import (
	"github.com/google/uuid"
)

// Entity ID constructors. Prefixes make log lines and API payloads
// self-describing; the uuid suffix keeps IDs unique and gives ranked queries
// a deterministic final tiebreak.

// NewCardID generates a work card ID. Format: card_<uuid>
func NewCardID() string {
	return "card_" + uuid.New().String()
}

// NewJobID generates an extraction job ID. Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewEntryID generates a day entry ID. Format: entry_<uuid>
func NewEntryID() string {
	return "entry_" + uuid.New().String()
}

// NewEmployeeID generates an employee ID. Format: emp_<uuid>
func NewEmployeeID() string {
	return "emp_" + uuid.New().String()
}

// NewBusinessID generates a business ID. Format: biz_<uuid>
func NewBusinessID() string {
	return "biz_" + uuid.New().String()
}

// NewSiteID generates a site ID. Format: site_<uuid>
func NewSiteID() string {
	return "site_" + uuid.New().String()
}

// NewAccessRequestID generates an upload access request ID. Format: link_<uuid>
func NewAccessRequestID() string {
	return "link_" + uuid.New().String()
}
