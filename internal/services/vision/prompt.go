package vision

import (
	"fmt"
	"strings"
	"time"

	"github.com/kardex-io/kardex/internal/models"
)

// systemPrompt anchors every vision call. The output contract is restated in
// the user prompt so weaker chain entries still produce decodable JSON.
const systemPrompt = `You are a meticulous reader of handwritten monthly work-hour cards. ` +
	`Cards are paper forms with one row per day of the month; workers write a start time, ` +
	`an end time and a total for days they worked, and cross out or mark days off. ` +
	`You transcribe exactly what is written. You never guess values that are not on the card, ` +
	`and you report a confidence for every row you read. ` +
	`You respond with a single JSON object and nothing else: no markdown fences, no commentary.`

// cardPrompt is one rendered prompt pair.
type cardPrompt struct {
	System string
	User   string
}

// buildPrompt renders the extraction prompt for a mode and card month. FULL
// reads the identity block and the day rows; HOURS_ONLY skips every identity
// field so re-extractions of already-assigned cards cannot disturb identity.
func buildPrompt(mode models.JobMode, month time.Time) cardPrompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Read the attached work-hour card for %s. The month has %d days; the card has one row per day.\n\n",
		models.FormatMonth(month), daysInMonth(month))

	if mode == models.JobModeHoursOnly {
		b.WriteString("Read ONLY the day rows. Ignore the name, passport and phone fields entirely.\n\n")
	} else {
		b.WriteString("First read the identity block:\n")
		b.WriteString("- employee_name: the handwritten name, transcribed as written.\n")
		b.WriteString("- passport_id_candidates: EVERY identifier-looking string on the card (header field, ")
		b.WriteString("table margin, notes). For each give raw (exactly as written), source_region ")
		b.WriteString("(header, table or margin) and confidence between 0 and 1.\n")
		b.WriteString("- selected_passport_id_normalized: the candidate you judge to be the passport or ID number, ")
		b.WriteString("uppercased with spaces, dots, dashes and slashes removed. Empty if none is legible.\n\n")
	}

	b.WriteString("Then read every day row into entries, one object per row that carries any writing or marking:\n")
	b.WriteString("- day: the printed row number (1-31).\n")
	b.WriteString("- start_time and end_time: 24-hour HH:MM when legible, otherwise omit the field.\n")
	b.WriteString("- total_hours: the written total as a decimal number (7,5 on the card means 7.5). Omit when blank.\n")
	b.WriteString("- row_state: WORKED when the row carries work values, OFF_MARK when the row is crossed out ")
	b.WriteString("or marked with an off-day glyph (X, B, dash, strike-through), EMPTY when the row exists but holds nothing.\n")
	b.WriteString("- mark_type: the literal off-day glyph, only for OFF_MARK rows.\n")
	b.WriteString("- row_confidence: between 0 and 1 for the whole row.\n")
	b.WriteString("- evidence: short strings quoting what you actually saw, for audit.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Transcribe, never infer. A smudged total is a low-confidence total, not a computed one.\n")
	b.WriteString("- Keep rows whose day number falls outside the month; downstream filters them.\n")
	b.WriteString("- Skip rows with no writing and no marks.\n\n")

	b.WriteString("Respond with exactly one JSON object shaped as:\n")
	if mode == models.JobModeHoursOnly {
		b.WriteString(`{"entries": [{"day": 1, "start_time": "07:00", "end_time": "15:30", "total_hours": 8.5, "row_state": "WORKED", "row_confidence": 0.97, "evidence": ["7:00-15:30 / 8,5"]}]}`)
	} else {
		b.WriteString(`{"employee_name": "...", "passport_id_candidates": [{"raw": "AB 123456", "source_region": "header", "confidence": 0.95}], "selected_passport_id_normalized": "AB123456", "entries": [{"day": 1, "start_time": "07:00", "end_time": "15:30", "total_hours": 8.5, "row_state": "WORKED", "row_confidence": 0.97, "evidence": ["7:00-15:30 / 8,5"]}]}`)
	}
	b.WriteString("\n")

	return cardPrompt{System: systemPrompt, User: b.String()}
}

func daysInMonth(month time.Time) int {
	return time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
