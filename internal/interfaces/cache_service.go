package interfaces

import "time"

// DashboardCache is the best-effort per-business dashboard cache, keyed by
// (business_id, month). Entries expire after a TTL; eviction happens on read.
// It tolerates process restarts and staleness up to the TTL.
type DashboardCache interface {
	Get(businessID string, month time.Time) (interface{}, bool)
	Set(businessID string, month time.Time, payload interface{})

	// Invalidate drops one key, called when uploads or approvals change the
	// underlying counts.
	Invalidate(businessID string, month time.Time)
}
