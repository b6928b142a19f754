// Package cache provides the in-process dashboard cache. Dashboard counts
// are cheap to rebuild, so entries are best-effort: they expire after a TTL
// and survive neither restarts nor cross-process sharing.
package cache

import (
	"sync"
	"time"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/ternarybob/arbor"
)

type entry struct {
	payload   interface{}
	expiresAt time.Time
}

// Service implements DashboardCache keyed by (business_id, month).
type Service struct {
	ttl     time.Duration
	clock   interfaces.Clock
	logger  arbor.ILogger
	mu      sync.Mutex
	entries map[string]entry
}

// NewService creates a dashboard cache. A zero or negative TTL disables
// caching entirely; Get always misses.
func NewService(ttl time.Duration, clock interfaces.Clock, logger arbor.ILogger) *Service {
	return &Service{
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Get returns the cached payload for a business and month, evicting it when
// expired.
func (s *Service) Get(businessID string, month time.Time) (interface{}, bool) {
	if s.ttl <= 0 {
		return nil, false
	}

	key := cacheKey(businessID, month)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.clock.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.payload, true
}

// Set stores a payload for a business and month.
func (s *Service) Set(businessID string, month time.Time, payload interface{}) {
	if s.ttl <= 0 {
		return
	}

	key := cacheKey(businessID, month)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{
		payload:   payload,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
}

// Invalidate drops one key. Called when uploads or approvals change the
// underlying counts.
func (s *Service) Invalidate(businessID string, month time.Time) {
	key := cacheKey(businessID, month)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.logger.Debug().
			Str("business_id", businessID).
			Str("month", models.FormatMonth(month)).
			Msg("Dashboard cache invalidated")
	}
}

func cacheKey(businessID string, month time.Time) string {
	return businessID + ":" + models.FormatMonth(month)
}

// Ensure Service implements DashboardCache interface
var _ interfaces.DashboardCache = (*Service)(nil)
