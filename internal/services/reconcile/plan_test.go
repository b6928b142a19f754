package reconcile

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/kardex-io/kardex/internal/models"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("entry_new_%d", n)
	}
}

func TestPlanCarryForwardSnapshot(t *testing.T) {
	// Previous APPROVED card reported days 3 and 5; the new card reports an
	// equal day 3 and a new day 7. Approval must leave the new card with
	// day 3 (unchanged), day 5 (carried forward) and day 7 (kept).
	current := []*models.DayEntry{
		mustEntry(t, "c3", "card_b", 3, "08:00", "16:00", 8),
		mustEntry(t, "c7", "card_b", 7, "08:00", "12:00", 4),
	}
	previous := []*models.DayEntry{
		mustEntry(t, "p3", "card_a", 3, "08:00", "16:00", 8),
		mustEntry(t, "p5", "card_a", 5, "09:00", "17:00", 8),
	}

	plan, err := PlanCarryForward("card_b", current, previous, true, nil, false, sequentialIDs())
	if err != nil {
		t.Fatalf("PlanCarryForward failed: %v", err)
	}

	if len(plan.DeleteEntryIDs) != 0 {
		t.Errorf("DeleteEntryIDs = %v, want none", plan.DeleteEntryIDs)
	}
	if len(plan.InsertEntries) != 1 {
		t.Fatalf("InsertEntries = %d, want 1 (day 5 clone)", len(plan.InsertEntries))
	}
	clone := plan.InsertEntries[0]
	if clone.DayOfMonth != 5 || clone.WorkCardID != "card_b" {
		t.Errorf("clone = day %d on %s, want day 5 on card_b", clone.DayOfMonth, clone.WorkCardID)
	}
	if clone.Source != models.EntrySourceCarriedForward {
		t.Errorf("clone source = %s, want CARRIED_FORWARD", clone.Source)
	}
	if clone.ID == "p5" {
		t.Error("clone reuses the previous entry's identity")
	}
	if !reflect.DeepEqual(plan.CarriedForwardDays, []int{5}) {
		t.Errorf("CarriedForwardDays = %v, want [5]", plan.CarriedForwardDays)
	}
	if len(plan.ApprovedConflictDays) != 0 {
		t.Errorf("ApprovedConflictDays = %v, want none", plan.ApprovedConflictDays)
	}
}

func TestPlanCarryForwardOverrideRequiresConfirmation(t *testing.T) {
	current := []*models.DayEntry{
		mustEntry(t, "c3", "card_b", 3, "07:00", "15:00", 8),
	}
	previous := []*models.DayEntry{
		mustEntry(t, "p3", "card_a", 3, "08:00", "16:00", 8),
	}

	_, err := PlanCarryForward("card_b", current, previous, true, []int{3}, false, sequentialIDs())
	var conflictErr *ApprovedConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("err = %v, want ApprovedConflictError", err)
	}
	if !reflect.DeepEqual(conflictErr.Days, []int{3}) {
		t.Errorf("conflict days = %v, want [3]", conflictErr.Days)
	}

	// Retry with confirmation deletes the previous entry; the current wins.
	plan, err := PlanCarryForward("card_b", current, previous, true, []int{3}, true, sequentialIDs())
	if err != nil {
		t.Fatalf("confirmed PlanCarryForward failed: %v", err)
	}
	if !reflect.DeepEqual(plan.DeleteEntryIDs, []string{"p3"}) {
		t.Errorf("DeleteEntryIDs = %v, want [p3]", plan.DeleteEntryIDs)
	}
	if len(plan.InsertEntries) != 0 {
		t.Errorf("InsertEntries = %v, want none", plan.InsertEntries)
	}
	if !reflect.DeepEqual(plan.OverriddenDays, []int{3}) {
		t.Errorf("OverriddenDays = %v, want [3]", plan.OverriddenDays)
	}
}

func TestPlanCarryForwardApprovedWinsWithoutOverride(t *testing.T) {
	current := []*models.DayEntry{
		mustEntry(t, "c3", "card_b", 3, "07:00", "15:00", 8),
	}
	previous := []*models.DayEntry{
		mustEntry(t, "p3", "card_a", 3, "08:00", "16:00", 8),
	}

	// No override declared: the approval succeeds and the approved previous
	// value replaces the current one.
	plan, err := PlanCarryForward("card_b", current, previous, true, nil, false, sequentialIDs())
	if err != nil {
		t.Fatalf("PlanCarryForward failed: %v", err)
	}
	if !reflect.DeepEqual(plan.DeleteEntryIDs, []string{"c3"}) {
		t.Errorf("DeleteEntryIDs = %v, want [c3] (current loses)", plan.DeleteEntryIDs)
	}
	if len(plan.InsertEntries) != 1 || plan.InsertEntries[0].DayOfMonth != 3 {
		t.Fatalf("InsertEntries = %+v, want day-3 clone", plan.InsertEntries)
	}
	if plan.InsertEntries[0].Source != models.EntrySourceCarriedForward {
		t.Errorf("clone source = %s, want CARRIED_FORWARD", plan.InsertEntries[0].Source)
	}
	if !reflect.DeepEqual(plan.ApprovedConflictDays, []int{3}) {
		t.Errorf("ApprovedConflictDays = %v, want [3]", plan.ApprovedConflictDays)
	}
}

func TestPlanCarryForwardPendingPreviousLoses(t *testing.T) {
	current := []*models.DayEntry{
		mustEntry(t, "c3", "card_b", 3, "07:00", "15:00", 8),
	}
	previous := []*models.DayEntry{
		mustEntry(t, "p3", "card_a", 3, "08:00", "16:00", 8),
		mustEntry(t, "p5", "card_a", 5, "08:00", "16:00", 8),
	}

	plan, err := PlanCarryForward("card_b", current, previous, false, nil, false, sequentialIDs())
	if err != nil {
		t.Fatalf("PlanCarryForward failed: %v", err)
	}
	// Day 3 differs against a non-approved previous: previous entry deleted.
	// Day 5 has no current entry: carried forward even from a pending card.
	if !reflect.DeepEqual(plan.DeleteEntryIDs, []string{"p3"}) {
		t.Errorf("DeleteEntryIDs = %v, want [p3]", plan.DeleteEntryIDs)
	}
	if len(plan.InsertEntries) != 1 || plan.InsertEntries[0].DayOfMonth != 5 {
		t.Fatalf("InsertEntries = %+v, want day-5 clone", plan.InsertEntries)
	}
	if len(plan.ApprovedConflictDays) != 0 {
		t.Errorf("ApprovedConflictDays = %v, want none for pending previous", plan.ApprovedConflictDays)
	}
}

func TestPlanCarryForwardNoPrevious(t *testing.T) {
	current := []*models.DayEntry{
		mustEntry(t, "c1", "card_b", 1, "08:00", "16:00", 8),
	}

	plan, err := PlanCarryForward("card_b", current, nil, false, nil, false, sequentialIDs())
	if err != nil {
		t.Fatalf("PlanCarryForward failed: %v", err)
	}
	if len(plan.DeleteEntryIDs) != 0 || len(plan.InsertEntries) != 0 {
		t.Errorf("plan = %+v, want empty without a previous card", plan)
	}
}
