// Package matching resolves work cards to employees. Resolution is advisory:
// it attaches at most one employee per card and never guesses between
// ambiguous candidates; the admin keeps final authority.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/passport"
)

// Match confidences by method, strongest first.
const (
	ConfidencePrimaryExact   = 1.0
	ConfidenceCandidateExact = 0.95
	ConfidenceNameFallback   = 0.85
)

// Resolver matches extracted identity data to employees within a business.
type Resolver struct {
	employees    interfaces.EmployeeStorage
	normalizer   *passport.Normalizer
	nameFallback bool
	logger       arbor.ILogger
}

// NewResolver creates an employee resolver. The name/site fallback is opt-in
// because full names collide on real sites.
func NewResolver(employees interfaces.EmployeeStorage, normalizer *passport.Normalizer, enableNameSiteFallback bool, logger arbor.ILogger) *Resolver {
	return &Resolver{
		employees:    employees,
		normalizer:   normalizer,
		nameFallback: enableNameSiteFallback,
		logger:       logger,
	}
}

// Resolve walks the match policy in order: primary passport exact, candidate
// passports exact (input order), then the optional single-hit name fallback.
// A nil result with nil error means no confident match.
func (r *Resolver) Resolve(ctx context.Context, query interfaces.MatchQuery) (*models.MatchResult, error) {
	if query.BusinessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}

	primary := ""
	if query.PrimaryRaw != "" {
		if canonical, ok := r.normalizer.Normalize(query.PrimaryRaw); ok {
			primary = canonical
			employee, err := r.employees.GetByPassportNormalized(ctx, query.BusinessID, canonical)
			if err == nil {
				return &models.MatchResult{
					EmployeeID:           employee.ID,
					Method:               models.MatchPassportNormalizedExact,
					Confidence:           ConfidencePrimaryExact,
					IsExact:              true,
					NormalizedPassportID: canonical,
				}, nil
			}
			if !errors.Is(err, interfaces.ErrNotFound) {
				return nil, fmt.Errorf("primary passport lookup: %w", err)
			}
		}
	}

	for _, candidate := range r.normalizer.NormalizeCandidates(query.Candidates) {
		if candidate == primary {
			continue
		}
		employee, err := r.employees.GetByPassportNormalized(ctx, query.BusinessID, candidate)
		if err == nil {
			return &models.MatchResult{
				EmployeeID:           employee.ID,
				Method:               models.MatchPassportCandidateExact,
				Confidence:           ConfidenceCandidateExact,
				IsExact:              true,
				NormalizedPassportID: candidate,
			}, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("candidate passport lookup: %w", err)
		}
	}

	name := strings.TrimSpace(query.Name)
	if r.nameFallback && name != "" {
		hits, err := r.employees.FindByName(ctx, query.BusinessID, query.SiteID, name)
		if err != nil {
			return nil, fmt.Errorf("name lookup: %w", err)
		}
		switch len(hits) {
		case 1:
			return &models.MatchResult{
				EmployeeID: hits[0].ID,
				Method:     models.MatchNameSiteFallback,
				Confidence: ConfidenceNameFallback,
				IsExact:    false,
			}, nil
		case 0:
		default:
			r.logger.Debug().
				Str("business_id", query.BusinessID).
				Str("name", name).
				Int("hits", len(hits)).
				Msg("Name fallback ambiguous, leaving card unmatched")
		}
	}

	return nil, nil
}
