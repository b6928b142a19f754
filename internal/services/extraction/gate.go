// Package extraction turns raw vision output into persisted day entries. The
// semantic gate screens rows before persistence; the processor drives the
// whole pipeline for one claimed job.
package extraction

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kardex-io/kardex/internal/models"
)

// Gate screens extracted day rows. It never invents or repairs values; it
// only drops impossible rows, nulls totals that contradict an off-day mark,
// and tags rows the review UI must surface.
type Gate struct {
	lowConfidenceThreshold float64
	timeTotalConflictHours float64
}

// NewGate creates a gate with the configured thresholds. Non-positive values
// fall back to the defaults (0.8 confidence, 0.25h conflict).
func NewGate(lowConfidenceThreshold, timeTotalConflictHours float64) *Gate {
	if lowConfidenceThreshold <= 0 {
		lowConfidenceThreshold = 0.8
	}
	if timeTotalConflictHours <= 0 {
		timeTotalConflictHours = 0.25
	}
	return &Gate{
		lowConfidenceThreshold: lowConfidenceThreshold,
		timeTotalConflictHours: timeTotalConflictHours,
	}
}

// Apply screens the rows of one extraction and returns the effective rows
// plus the quality map. Rules, in order per row:
//   - day outside 1..31: row rejected outright;
//   - OFF_MARK without a complete (start,end) pair: total nulled, row kept,
//     day listed in off_mark_days;
//   - total present with both times absent and row confidence below the
//     threshold: row kept, tagged low_conf_total_only, day needs review;
//   - both times present with the total differing from the worked span by
//     more than the conflict threshold: row kept, tagged time_total_conflict,
//     day needs review.
func (g *Gate) Apply(entries []models.ExtractedEntry) ([]models.ExtractedEntry, models.QualityMap) {
	quality := models.NewQualityMap()
	effective := make([]models.ExtractedEntry, 0, len(entries))

	reviewDays := make(map[int]bool)
	offMarkDays := make(map[int]bool)

	for _, entry := range entries {
		if entry.Day < 1 || entry.Day > 31 {
			continue
		}

		hasStart := strings.TrimSpace(entry.StartTime) != ""
		hasEnd := strings.TrimSpace(entry.EndTime) != ""
		var reasons []string

		if entry.RowState == models.RowStateOffMark && !(hasStart && hasEnd) {
			entry.TotalHours = nil
			offMarkDays[entry.Day] = true
			effective = append(effective, entry)
			continue
		}

		if entry.TotalHours != nil && !hasStart && !hasEnd && entry.RowConfidence < g.lowConfidenceThreshold {
			reasons = append(reasons, models.ReasonLowConfTotalOnly)
		}

		if entry.TotalHours != nil && hasStart && hasEnd {
			if span, ok := workedSpan(entry.StartTime, entry.EndTime); ok {
				diff := *entry.TotalHours - span
				if diff < 0 {
					diff = -diff
				}
				if diff > g.timeTotalConflictHours {
					reasons = append(reasons, models.ReasonTimeTotalConflict)
				}
			}
		}

		if len(reasons) > 0 {
			key := strconv.Itoa(entry.Day)
			existing := quality.RowQualityByDay[key]
			existing.Reasons = append(existing.Reasons, reasons...)
			quality.RowQualityByDay[key] = existing
			reviewDays[entry.Day] = true
		}

		effective = append(effective, entry)
	}

	quality.ReviewRequiredDays = sortedDays(reviewDays)
	quality.OffMarkDays = sortedDays(offMarkDays)
	return effective, quality
}

// workedSpan returns end−start in hours. Unparseable times yield no span;
// the row is flagged invalid later at the persistence boundary instead.
func workedSpan(start, end string) (float64, bool) {
	from, err := models.ClockMinutes(start)
	if err != nil {
		return 0, false
	}
	to, err := models.ClockMinutes(end)
	if err != nil {
		return 0, false
	}
	return float64(to-from) / 60.0, true
}

func sortedDays(set map[int]bool) []int {
	days := make([]int, 0, len(set))
	for day := range set {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}
