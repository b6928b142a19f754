package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RowState classifies one day row as read off the card.
type RowState string

const (
	RowStateWorked  RowState = "WORKED"
	RowStateOffMark RowState = "OFF_MARK" // crossed out, "X", "B" or similar off-day marker
	RowStateEmpty   RowState = "EMPTY"
)

// PassportCandidate is one identifier the model read somewhere on the card.
type PassportCandidate struct {
	Raw          string  `json:"raw" validate:"required"`
	Normalized   string  `json:"normalized,omitempty"`
	SourceRegion string  `json:"source_region,omitempty"` // header, table, margin
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// ExtractedEntry is one day row from a single vision pass.
type ExtractedEntry struct {
	Day           int      `json:"day" validate:"required"`
	StartTime     string   `json:"start_time,omitempty"`
	EndTime       string   `json:"end_time,omitempty"`
	TotalHours    *float64 `json:"total_hours,omitempty"`
	RowState      RowState `json:"row_state" validate:"required,oneof=WORKED OFF_MARK EMPTY"`
	MarkType      string   `json:"mark_type,omitempty"` // the literal off-mark glyph, if any
	RowConfidence float64  `json:"row_confidence" validate:"gte=0,lte=1"`
	Evidence      []string `json:"evidence,omitempty"`
}

// ExtractionResult is the structured contract one successful vision call must
// satisfy. Fields are validated with go-playground/validator tags before the
// result is accepted; a model response that fails validation counts as
// unparseable and the chain moves to the next model.
type ExtractionResult struct {
	EmployeeName                 string              `json:"employee_name,omitempty"`
	PassportIDCandidates         []PassportCandidate `json:"passport_id_candidates" validate:"dive"`
	SelectedPassportIDNormalized string              `json:"selected_passport_id_normalized,omitempty"`
	Entries                      []ExtractedEntry    `json:"entries" validate:"dive"`
}

// Validate validates the result against its schema tags.
func (r *ExtractionResult) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("extraction result failed validation: %w", err)
	}
	return nil
}

// ToJSON serializes the result for persistence on the job row.
func (r *ExtractionResult) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	return string(data), nil
}

// ExtractionResultFromJSON deserializes a persisted result.
func ExtractionResultFromJSON(data string) (*ExtractionResult, error) {
	var r ExtractionResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
	}
	return &r, nil
}

// Gate reason codes attached to day rows.
const (
	ReasonLowConfTotalOnly  = "low_conf_total_only"
	ReasonTimeTotalConflict = "time_total_conflict"
)

// RowQuality carries the gate's per-day diagnostics.
type RowQuality struct {
	Reasons []string `json:"reasons"`
}

// QualityMap is the semantic gate output: per-day reasons plus the day lists
// the review UI surfaces. Day keys are decimal strings.
type QualityMap struct {
	RowQualityByDay    map[string]RowQuality `json:"row_quality_by_day"`
	ReviewRequiredDays []int                 `json:"review_required_days"`
	OffMarkDays        []int                 `json:"off_mark_days"`
}

// NewQualityMap returns an empty, non-nil quality map.
func NewQualityMap() QualityMap {
	return QualityMap{
		RowQualityByDay:    make(map[string]RowQuality),
		ReviewRequiredDays: []int{},
		OffMarkDays:        []int{},
	}
}

// IdentityReason explains the assigned-vs-extracted passport comparison.
type IdentityReason string

const (
	IdentityNoExtractedID  IdentityReason = "NO_EXTRACTED_ID"
	IdentityNoAssignedID   IdentityReason = "NO_ASSIGNED_ID"
	IdentityFormatOnlyDiff IdentityReason = "FORMAT_ONLY_DIFF"
	IdentityValueDiff      IdentityReason = "VALUE_DIFF"
)

// IdentityDiagnostics is stored with the job result when the card already had
// an assigned employee. Only VALUE_DIFF is a mismatch; it flags the card for
// review but never blocks approval.
type IdentityDiagnostics struct {
	Reason              IdentityReason `json:"reason,omitempty"`
	IsMismatch          bool           `json:"is_mismatch"`
	AssignedNormalized  string         `json:"assigned_normalized,omitempty"`
	ExtractedNormalized string         `json:"extracted_normalized,omitempty"`
}

// Match method tags, ordered strongest first.
const (
	MatchPassportNormalizedExact = "passport_normalized_exact"
	MatchPassportCandidateExact  = "passport_candidate_exact"
	MatchNameSiteFallback        = "name_site_high_confidence_fallback"
)

// MatchResult is the resolver's advisory outcome: at most one employee.
type MatchResult struct {
	EmployeeID           string  `json:"employee_id"`
	Method               string  `json:"method"`
	Confidence           float64 `json:"confidence"`
	IsExact              bool    `json:"is_exact"`
	NormalizedPassportID string  `json:"normalized_passport_id,omitempty"`
}
