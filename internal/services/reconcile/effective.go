// Package reconcile is the monthly reconciliation engine: effective-card
// selection, conflict classification against the immediate previous card,
// the approval carry-forward protocol, and the approved-day edit lock.
package reconcile

import "github.com/kardex-io/kardex/internal/models"

// CardRanksHigher reports whether card a outranks card b for effective-card
// selection: APPROVED cards beat non-approved, then newer created_at, then
// larger id as the final deterministic tiebreak.
func CardRanksHigher(a, b *models.WorkCard) bool {
	aApproved := a.ReviewStatus == models.ReviewStatusApproved
	bApproved := b.ReviewStatus == models.ReviewStatusApproved
	if aApproved != bApproved {
		return aApproved
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// EffectiveCard selects the authoritative card among one employee's cards for
// a month. With approvedOnly the partition is filtered to APPROVED cards
// before ranking; nil means the employee has no qualifying card.
func EffectiveCard(cards []*models.WorkCard, approvedOnly bool) *models.WorkCard {
	var best *models.WorkCard
	for _, card := range cards {
		if card == nil {
			continue
		}
		if approvedOnly && card.ReviewStatus != models.ReviewStatusApproved {
			continue
		}
		if best == nil || CardRanksHigher(card, best) {
			best = card
		}
	}
	return best
}
