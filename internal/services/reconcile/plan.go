package reconcile

import (
	"fmt"
	"sort"

	"github.com/kardex-io/kardex/internal/models"
)

// ApprovedConflictError rejects an approval whose override days touch
// approved conflicts without explicit confirmation. The HTTP layer maps it
// to 409 with the days in the response data.
type ApprovedConflictError struct {
	Days []int
}

func (e *ApprovedConflictError) Error() string {
	return fmt.Sprintf("overriding approved days %v requires confirmation", e.Days)
}

// CarryForwardPlan is the computed diff one approval applies atomically:
// deletions on either card plus CARRIED_FORWARD clones onto the approving
// card. The post-approval card holds a full-month snapshot of every day ever
// reported in the current or immediate previous card.
type CarryForwardPlan struct {
	DeleteEntryIDs       []string
	InsertEntries        []*models.DayEntry
	ApprovedConflictDays []int
	CarriedForwardDays   []int
	OverriddenDays       []int
}

// PlanCarryForward computes the approval diff functionally. No previous card
// (empty previous set) yields an empty plan. Rules per previous entry:
//   - current equal: nothing;
//   - current differs, previous APPROVED, day overridden: previous entry
//     deleted, current wins;
//   - current differs, previous APPROVED, day not overridden: current entry
//     deleted, previous cloned onto this card as CARRIED_FORWARD;
//   - current differs, previous not APPROVED: previous entry deleted;
//   - no current entry: previous cloned onto this card as CARRIED_FORWARD.
func PlanCarryForward(cardID string, current, previous []*models.DayEntry, previousApproved bool, overrideDays []int, confirmOverrideApproved bool, newEntryID func() string) (*CarryForwardPlan, error) {
	plan := &CarryForwardPlan{
		ApprovedConflictDays: ApprovedConflictDays(current, previous, previousApproved),
	}

	overrides := make(map[int]bool, len(overrideDays))
	for _, day := range overrideDays {
		overrides[day] = true
	}

	if !confirmOverrideApproved {
		for _, day := range plan.ApprovedConflictDays {
			if overrides[day] {
				return nil, &ApprovedConflictError{Days: plan.ApprovedConflictDays}
			}
		}
	}

	currentByDay := entriesByDay(current)

	ordered := make([]*models.DayEntry, 0, len(previous))
	ordered = append(ordered, previous...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].DayOfMonth < ordered[j].DayOfMonth })

	for _, prev := range ordered {
		if prev == nil {
			continue
		}
		cur, exists := currentByDay[prev.DayOfMonth]
		switch {
		case !exists:
			plan.InsertEntries = append(plan.InsertEntries, prev.CloneForCard(newEntryID(), cardID, models.EntrySourceCarriedForward))
			plan.CarriedForwardDays = append(plan.CarriedForwardDays, prev.DayOfMonth)

		case cur.EqualValues(prev):
			// Same reported day on both cards; nothing to reconcile.

		case previousApproved && overrides[prev.DayOfMonth]:
			plan.DeleteEntryIDs = append(plan.DeleteEntryIDs, prev.ID)
			plan.OverriddenDays = append(plan.OverriddenDays, prev.DayOfMonth)

		case previousApproved:
			plan.DeleteEntryIDs = append(plan.DeleteEntryIDs, cur.ID)
			plan.InsertEntries = append(plan.InsertEntries, prev.CloneForCard(newEntryID(), cardID, models.EntrySourceCarriedForward))
			plan.CarriedForwardDays = append(plan.CarriedForwardDays, prev.DayOfMonth)

		default:
			plan.DeleteEntryIDs = append(plan.DeleteEntryIDs, prev.ID)
		}
	}

	sort.Ints(plan.CarriedForwardDays)
	sort.Ints(plan.OverriddenDays)
	return plan, nil
}
