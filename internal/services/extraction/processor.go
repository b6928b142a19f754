package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/matching"
	"github.com/kardex-io/kardex/internal/services/passport"
)

// PipelineVersion tags finished jobs with the processor revision that
// produced them.
const PipelineVersion = "v1"

// NormalizedPayload is the post-gate result persisted on the job row.
type NormalizedPayload struct {
	Entries            []models.ExtractedEntry     `json:"entries"`
	Quality            models.QualityMap           `json:"quality"`
	PassportCandidates []string                    `json:"passport_candidates"`
	SelectedPassport   string                      `json:"selected_passport_normalized,omitempty"`
	Identity           *models.IdentityDiagnostics `json:"identity,omitempty"`
	FallbackUsed       bool                        `json:"fallback_used"`
}

// ProcessorDeps wires the processor's collaborators.
type ProcessorDeps struct {
	Jobs       interfaces.JobStorage
	Cards      interfaces.WorkCardStorage
	Entries    interfaces.DayEntryStorage
	Employees  interfaces.EmployeeStorage
	Images     interfaces.ImageStorage
	Vision     interfaces.VisionExtractor
	Matcher    interfaces.Matcher
	Events     interfaces.EventService
	Clock      interfaces.Clock
	Gate       *Gate
	Normalizer *passport.Normalizer
	Logger     arbor.ILogger
}

// Processor runs the extraction pipeline for one claimed job: image load,
// vision chain, semantic gate, employee resolution, previous-card dedupe and
// the atomic card/entry write. The worker pool owns claiming and stale
// recovery; the processor owns everything after the claim.
type Processor struct {
	jobs       interfaces.JobStorage
	cards      interfaces.WorkCardStorage
	entries    interfaces.DayEntryStorage
	employees  interfaces.EmployeeStorage
	images     interfaces.ImageStorage
	vision     interfaces.VisionExtractor
	matcher    interfaces.Matcher
	events     interfaces.EventService
	clock      interfaces.Clock
	gate       *Gate
	normalizer *passport.Normalizer
	logger     arbor.ILogger
}

// NewProcessor creates a card processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	return &Processor{
		jobs:       deps.Jobs,
		cards:      deps.Cards,
		entries:    deps.Entries,
		employees:  deps.Employees,
		images:     deps.Images,
		vision:     deps.Vision,
		matcher:    deps.Matcher,
		events:     deps.Events,
		clock:      deps.Clock,
		gate:       deps.Gate,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
	}
}

// Process runs the pipeline for a claimed job. Errors it returns are
// transient: the job keeps its lease and the stale sweep requeues it later.
// Permanent failures (missing image, exhausted vision chain) are written as
// the job's terminal FAILED state and return nil. The day-entry writes and
// the card status land in one transaction; the job's terminal state is
// committed last, so a crash in between replays safely.
func (p *Processor) Process(ctx context.Context, job *models.ExtractionJob) error {
	now := p.clock.Now()
	job.MarkRunning(now)
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("marking job running: %w", err)
	}

	card, err := p.cards.GetByID(ctx, job.WorkCardID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return p.fail(ctx, job, fmt.Sprintf("work card %s missing", job.WorkCardID))
		}
		return fmt.Errorf("loading work card: %w", err)
	}

	image, err := p.images.Get(ctx, card.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return p.fail(ctx, job, "card image missing from blob store")
		}
		return fmt.Errorf("loading card image: %w", err)
	}

	outcome, err := p.vision.ExtractCard(ctx, interfaces.VisionRequest{
		ImageBytes: image.Bytes,
		MimeType:   image.Mime,
		Mode:       job.Mode,
		Month:      card.ProcessingMonth,
	})
	if err != nil {
		return p.fail(ctx, job, fmt.Sprintf("vision chain exhausted: %v", err))
	}
	result := outcome.Result

	effective, quality := p.gate.Apply(result.Entries)

	primaryRaw, candidateRaws := identityInputs(result)
	normalizedCandidates := p.normalizer.NormalizeCandidates(candidateRaws)
	extractedNormalized := ""
	if canonical, ok := p.normalizer.Normalize(primaryRaw); ok {
		extractedNormalized = canonical
	} else if len(normalizedCandidates) > 0 {
		extractedNormalized = normalizedCandidates[0]
	}

	// Resolution always runs in FULL mode so the job records how the
	// extracted identity maps to an employee; for already-assigned cards the
	// match is advisory audit data and only the diagnostics drive the UI.
	var match *models.MatchResult
	var identity *models.IdentityDiagnostics
	if job.Mode != models.JobModeHoursOnly {
		match, err = p.matcher.Resolve(ctx, interfaces.MatchQuery{
			BusinessID: card.BusinessID,
			PrimaryRaw: primaryRaw,
			Candidates: candidateRaws,
			Name:       result.EmployeeName,
			SiteID:     card.SiteID,
		})
		if err != nil {
			return fmt.Errorf("resolving employee: %w", err)
		}
		if card.EmployeeID != nil {
			identity, err = p.diagnoseAssigned(ctx, card, primaryRaw, extractedNormalized)
			if err != nil {
				return err
			}
		}
	}

	employeeID := card.EmployeeID
	if employeeID == nil && match != nil {
		employeeID = &match.EmployeeID
	}

	newEntries, err := p.dedupeAgainstPrevious(ctx, card, employeeID, effective)
	if err != nil {
		return err
	}

	reviewStatus := card.ReviewStatus
	if reviewStatus == models.ReviewStatusNeedsAssignment || reviewStatus == models.ReviewStatusNeedsReview {
		reviewStatus = models.ReviewStatusNeedsAssignment
		if employeeID != nil {
			reviewStatus = models.ReviewStatusNeedsReview
		}
	}

	apply := interfaces.ExtractionApply{
		CardID:       card.ID,
		ReviewStatus: reviewStatus,
		NewEntries:   newEntries,
	}
	if card.EmployeeID == nil && match != nil {
		apply.AssignEmployeeID = &match.EmployeeID
	}
	if err := p.cards.ApplyExtraction(ctx, apply); err != nil {
		return fmt.Errorf("applying extraction: %w", err)
	}

	payload := NormalizedPayload{
		Entries:            effective,
		Quality:            quality,
		PassportCandidates: normalizedCandidates,
		SelectedPassport:   extractedNormalized,
		Identity:           identity,
		FallbackUsed:       outcome.FallbackUsed,
	}
	if err := p.finish(ctx, job, result, outcome, payload, primaryRaw, match); err != nil {
		return err
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("work_card_id", card.ID).
		Str("model", outcome.ModelName).
		Int("entries", len(newEntries)).
		Int("attempts", job.Attempts).
		Msg("Extraction job done")
	return nil
}

// diagnoseAssigned compares the assigned employee's passport to the
// extracted one. Missing employees degrade to a no-assigned-id diagnostic
// rather than failing the job.
func (p *Processor) diagnoseAssigned(ctx context.Context, card *models.WorkCard, extractedRaw, extractedNormalized string) (*models.IdentityDiagnostics, error) {
	employee, err := p.employees.GetByID(ctx, card.BusinessID, *card.EmployeeID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return matching.DiagnoseIdentity("", "", extractedRaw, extractedNormalized), nil
		}
		return nil, fmt.Errorf("loading assigned employee: %w", err)
	}
	assignedRaw := ""
	if employee.PassportID != nil {
		assignedRaw = *employee.PassportID
	}
	assignedNormalized := ""
	if employee.PassportNormalized != nil {
		assignedNormalized = *employee.PassportNormalized
	}
	return matching.DiagnoseIdentity(assignedRaw, assignedNormalized, extractedRaw, extractedNormalized), nil
}

// dedupeAgainstPrevious builds the insertable day entries for the card: rows
// already present on the card are skipped (safe re-runs), and rows equal to
// the immediate previous card's entry for the same day are skipped as
// previous context rather than new information.
func (p *Processor) dedupeAgainstPrevious(ctx context.Context, card *models.WorkCard, employeeID *string, effective []models.ExtractedEntry) ([]*models.DayEntry, error) {
	previousByDay := make(map[int]*models.DayEntry)
	if employeeID != nil {
		previous, err := p.cards.PreviousCard(ctx, card.BusinessID, *employeeID, card.ProcessingMonth, card.ID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("loading previous card: %w", err)
		}
		if err == nil {
			previousEntries, err := p.entries.ListByCard(ctx, previous.ID)
			if err != nil {
				return nil, fmt.Errorf("loading previous card entries: %w", err)
			}
			for _, entry := range previousEntries {
				previousByDay[entry.DayOfMonth] = entry
			}
		}
	}

	newEntries := make([]*models.DayEntry, 0, len(effective))
	for _, row := range effective {
		if !rowReportable(row) {
			continue
		}
		exists, err := p.entries.Exists(ctx, card.ID, row.Day)
		if err != nil {
			return nil, fmt.Errorf("checking day entry existence: %w", err)
		}
		if exists {
			continue
		}
		entry := p.buildEntry(card.ID, row)
		if entry == nil {
			continue
		}
		if previous, ok := previousByDay[row.Day]; ok && entry.EqualValues(previous) {
			continue
		}
		newEntries = append(newEntries, entry)
	}
	return newEntries, nil
}

// rowReportable reports whether a gated row carries anything worth storing:
// a time, a total, or an off-day marker. Blank rows the reader enumerated
// for empty days are dropped here instead of becoming valueless entries.
func rowReportable(row models.ExtractedEntry) bool {
	if row.RowState == models.RowStateOffMark {
		return true
	}
	if strings.TrimSpace(row.StartTime) != "" || strings.TrimSpace(row.EndTime) != "" {
		return true
	}
	return row.TotalHours != nil
}

// buildEntry converts one gated row into a day entry. Rows whose times the
// card reader produced but do not parse keep their totals and are stored
// invalid with the parse error on the row.
func (p *Processor) buildEntry(cardID string, row models.ExtractedEntry) *models.DayEntry {
	var from, to *string
	if s := strings.TrimSpace(row.StartTime); s != "" {
		from = &s
	}
	if s := strings.TrimSpace(row.EndTime); s != "" {
		to = &s
	}
	entry, err := models.NewDayEntry(common.NewEntryID(), cardID, row.Day, from, to, row.TotalHours, models.EntrySourceExtracted)
	if err == nil {
		return entry
	}
	entry, buildErr := models.NewDayEntry(common.NewEntryID(), cardID, row.Day, nil, nil, row.TotalHours, models.EntrySourceExtracted)
	if buildErr != nil {
		return nil
	}
	msg := err.Error()
	entry.IsValid = false
	entry.ValidationErrors = &msg
	return entry
}

// finish writes the job's DONE state with the full result payload. This is
// the last write of the pipeline.
func (p *Processor) finish(ctx context.Context, job *models.ExtractionJob, result *models.ExtractionResult, outcome *interfaces.VisionOutcome, payload NormalizedPayload, primaryRaw string, match *models.MatchResult) error {
	normalized, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	if name := strings.TrimSpace(result.EmployeeName); name != "" {
		job.ExtractedEmployeeName = &name
	}
	if raw := strings.TrimSpace(primaryRaw); raw != "" {
		job.ExtractedPassportID = &raw
	}
	job.RawResult = outcome.RawText
	job.NormalizedResult = normalized
	if match != nil {
		job.MatchedEmployeeID = &match.EmployeeID
		job.MatchMethod = &match.Method
		job.MatchConfidence = &match.Confidence
	}
	job.ModelName = &outcome.ModelName
	version := PipelineVersion
	job.PipelineVersion = &version
	job.MarkDone(p.clock.Now())

	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("marking job done: %w", err)
	}
	p.publish(ctx, interfaces.EventJobDone, job)
	return nil
}

// fail writes the job's terminal FAILED state. A failure to persist it is
// returned so the lease-based recovery picks the job up again.
func (p *Processor) fail(ctx context.Context, job *models.ExtractionJob, msg string) error {
	job.MarkFailed(p.clock.Now(), msg)
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	p.logger.Warn().
		Str("job_id", job.ID).
		Str("work_card_id", job.WorkCardID).
		Str("error", msg).
		Int("attempts", job.Attempts).
		Msg("Extraction job failed")
	p.publish(ctx, interfaces.EventJobFailed, job)
	return nil
}

func (p *Processor) publish(ctx context.Context, eventType interfaces.EventType, job *models.ExtractionJob) {
	if p.events == nil {
		return
	}
	payload := map[string]interface{}{
		"job_id":       job.ID,
		"work_card_id": job.WorkCardID,
		"status":       string(job.Status),
		"attempts":     job.Attempts,
	}
	if job.LastError != nil {
		payload["last_error"] = *job.LastError
	}
	if err := p.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish job event")
	}
}

// identityInputs picks the raw primary identifier and the ordered candidate
// strings out of a vision result. Candidates fall back to their normalized
// text when the model omitted the raw form.
func identityInputs(result *models.ExtractionResult) (string, []string) {
	candidates := make([]string, 0, len(result.PassportIDCandidates))
	for _, c := range result.PassportIDCandidates {
		switch {
		case strings.TrimSpace(c.Raw) != "":
			candidates = append(candidates, c.Raw)
		case strings.TrimSpace(c.Normalized) != "":
			candidates = append(candidates, c.Normalized)
		}
	}
	primary := strings.TrimSpace(result.SelectedPassportIDNormalized)
	if primary == "" && len(candidates) > 0 {
		primary = candidates[0]
	}
	return primary, candidates
}

func marshalPayload(payload NormalizedPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling normalized payload: %w", err)
	}
	return string(data), nil
}
