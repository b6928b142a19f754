package reconcile

import (
	"sort"

	"github.com/kardex-io/kardex/internal/models"
)

// ConflictType classifies a differing day against the previous card.
type ConflictType string

const (
	ConflictWithApproved ConflictType = "WITH_APPROVED"
	ConflictWithPending  ConflictType = "WITH_PENDING"
)

// DayConflict is the classification of one day of the current card against
// the immediate previous card. Equal values are not conflicts; they are
// surfaced as previous context.
type DayConflict struct {
	Day             int          `json:"day"`
	HasConflict     bool         `json:"has_conflict"`
	ConflictType    ConflictType `json:"conflict_type,omitempty"`
	IsLocked        bool         `json:"is_locked"`
	PreviousContext bool         `json:"previous_context"`
}

// ClassifyDay compares one day's current entry to the previous card's entry.
// Equality uses normalized HH:MM times and totals rounded to two decimals.
func ClassifyDay(day int, current, previous *models.DayEntry, previousApproved bool) DayConflict {
	conflict := DayConflict{Day: day}
	if current == nil || previous == nil {
		return conflict
	}
	if current.EqualValues(previous) {
		conflict.PreviousContext = true
		return conflict
	}
	conflict.HasConflict = true
	if previousApproved {
		conflict.ConflictType = ConflictWithApproved
		conflict.IsLocked = true
	} else {
		conflict.ConflictType = ConflictWithPending
	}
	return conflict
}

// ClassifyConflicts classifies every day present on either card, ordered by
// day. No previous card means no conflicts.
func ClassifyConflicts(current, previous []*models.DayEntry, previousApproved bool) []DayConflict {
	currentByDay := entriesByDay(current)
	previousByDay := entriesByDay(previous)

	days := make(map[int]bool, len(currentByDay)+len(previousByDay))
	for day := range currentByDay {
		days[day] = true
	}
	for day := range previousByDay {
		days[day] = true
	}

	ordered := make([]int, 0, len(days))
	for day := range days {
		ordered = append(ordered, day)
	}
	sort.Ints(ordered)

	conflicts := make([]DayConflict, 0, len(ordered))
	for _, day := range ordered {
		conflicts = append(conflicts, ClassifyDay(day, currentByDay[day], previousByDay[day], previousApproved))
	}
	return conflicts
}

// ApprovedConflictDays returns the days where the previous card is APPROVED
// and the current card reports a differing value. These are the days the
// approval protocol needs explicit override confirmation for.
func ApprovedConflictDays(current, previous []*models.DayEntry, previousApproved bool) []int {
	if !previousApproved {
		return nil
	}
	currentByDay := entriesByDay(current)
	previousByDay := entriesByDay(previous)

	var days []int
	for day, prev := range previousByDay {
		cur, ok := currentByDay[day]
		if !ok {
			continue
		}
		if !cur.EqualValues(prev) {
			days = append(days, day)
		}
	}
	sort.Ints(days)
	return days
}

// LockedDayViolations returns the days a proposed entry set is not allowed
// to write: the previous card is APPROVED, has an entry for the day, and the
// proposed signature differs. Equal-signature writes are no-ops and pass.
func LockedDayViolations(proposed, previous []*models.DayEntry, previousApproved bool) []int {
	if !previousApproved {
		return nil
	}
	previousByDay := entriesByDay(previous)

	var locked []int
	seen := make(map[int]bool)
	for _, entry := range proposed {
		prev, ok := previousByDay[entry.DayOfMonth]
		if !ok || seen[entry.DayOfMonth] {
			continue
		}
		if !entry.EqualValues(prev) {
			locked = append(locked, entry.DayOfMonth)
			seen[entry.DayOfMonth] = true
		}
	}
	sort.Ints(locked)
	return locked
}

func entriesByDay(entries []*models.DayEntry) map[int]*models.DayEntry {
	byDay := make(map[int]*models.DayEntry, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		byDay[entry.DayOfMonth] = entry
	}
	return byDay
}
