package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntrySource records how a day entry came to exist.
type EntrySource string

const (
	EntrySourceExtracted      EntrySource = "EXTRACTED"       // written by the extraction pipeline
	EntrySourceManual         EntrySource = "MANUAL"          // admin edit
	EntrySourceCarriedForward EntrySource = "CARRIED_FORWARD" // cloned from the approved previous card
)

// clockPattern matches a 24h wall-clock time with optional leading zero on the hour.
var clockPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// DayEntry is one day row on a work card. At most one entry exists per
// (work_card_id, day_of_month); the store enforces that with a unique index.
type DayEntry struct {
	ID         string `json:"id"`
	WorkCardID string `json:"work_card_id"`
	DayOfMonth int    `json:"day_of_month"` // 1..31

	FromTime   *string  `json:"from_time,omitempty"` // canonical HH:MM
	ToTime     *string  `json:"to_time,omitempty"`   // canonical HH:MM
	TotalHours *float64 `json:"total_hours,omitempty"`

	Source           EntrySource `json:"source"`
	IsValid          bool        `json:"is_valid"`
	ValidationErrors *string     `json:"validation_errors,omitempty"`
	UpdatedBy        *string     `json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDayEntry builds an entry with canonicalized times. Times that do not
// parse are rejected here rather than at the store boundary.
func NewDayEntry(id, workCardID string, day int, fromTime, toTime *string, totalHours *float64, source EntrySource) (*DayEntry, error) {
	if day < 1 || day > 31 {
		return nil, fmt.Errorf("day_of_month %d out of range 1..31", day)
	}
	from, err := canonicalClockPtr(fromTime)
	if err != nil {
		return nil, fmt.Errorf("from_time: %w", err)
	}
	to, err := canonicalClockPtr(toTime)
	if err != nil {
		return nil, fmt.Errorf("to_time: %w", err)
	}
	now := time.Now().UTC()
	return &DayEntry{
		ID:         id,
		WorkCardID: workCardID,
		DayOfMonth: day,
		FromTime:   from,
		ToTime:     to,
		TotalHours: totalHours,
		Source:     source,
		IsValid:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CloneForCard copies the entry onto another card with a new identity and
// source. Used by approval carry-forward.
func (e *DayEntry) CloneForCard(id, workCardID string, source EntrySource) *DayEntry {
	now := time.Now().UTC()
	clone := *e
	clone.ID = id
	clone.WorkCardID = workCardID
	clone.Source = source
	clone.UpdatedBy = nil
	clone.CreatedAt = now
	clone.UpdatedAt = now
	return &clone
}

// Signature renders the comparable value of the entry: canonical times plus
// total hours rounded to two decimals. Two entries with equal signatures are
// the same reported day regardless of who wrote them.
func (e *DayEntry) Signature() string {
	var b strings.Builder
	if e.FromTime != nil {
		b.WriteString(*e.FromTime)
	}
	b.WriteByte('|')
	if e.ToTime != nil {
		b.WriteString(*e.ToTime)
	}
	b.WriteByte('|')
	if e.TotalHours != nil {
		b.WriteString(strconv.FormatFloat(RoundHours(*e.TotalHours), 'f', 2, 64))
	}
	return b.String()
}

// EqualValues reports whether two entries carry the same normalized times and
// rounded total.
func (e *DayEntry) EqualValues(other *DayEntry) bool {
	if other == nil {
		return false
	}
	return e.Signature() == other.Signature()
}

// WorkedSpanHours returns to−from in hours when both times are present.
func (e *DayEntry) WorkedSpanHours() (float64, bool) {
	if e.FromTime == nil || e.ToTime == nil {
		return 0, false
	}
	from, err1 := ClockMinutes(*e.FromTime)
	to, err2 := ClockMinutes(*e.ToTime)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return float64(to-from) / 60.0, true
}

// RoundHours rounds an hours value to two decimal places.
func RoundHours(h float64) float64 {
	return math.Round(h*100) / 100
}

// NormalizeClock canonicalizes a wall-clock string to zero-padded HH:MM.
// "8:30" becomes "08:30"; "24:00" and anything non-clock fail.
func NormalizeClock(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	m := clockPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return "", fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("%02d:%s", hour, m[2]), nil
}

// ClockMinutes converts HH:MM to minutes since midnight.
func ClockMinutes(s string) (int, error) {
	canonical, err := NormalizeClock(s)
	if err != nil {
		return 0, err
	}
	hour, _ := strconv.Atoi(canonical[:2])
	minute, _ := strconv.Atoi(canonical[3:])
	return hour*60 + minute, nil
}

func canonicalClockPtr(s *string) (*string, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	canonical, err := NormalizeClock(*s)
	if err != nil {
		return nil, err
	}
	return &canonical, nil
}
