package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// ExtractionJobHandler serves queue visibility and the operator requeue.
type ExtractionJobHandler struct {
	storage interfaces.StorageManager
	events  interfaces.EventService
	config  *common.Config
	logger  arbor.ILogger
}

// NewExtractionJobHandler creates an extraction job handler.
func NewExtractionJobHandler(storage interfaces.StorageManager, events interfaces.EventService, config *common.Config, logger arbor.ILogger) *ExtractionJobHandler {
	return &ExtractionJobHandler{
		storage: storage,
		events:  events,
		config:  config,
		logger:  logger,
	}
}

// ListHandler lists the caller's jobs, optionally narrowed to a status.
// GET /api/extraction_jobs?status=&page=&page_size=
func (h *ExtractionJobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	var status *models.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := models.JobStatus(strings.ToUpper(raw))
		switch s {
		case models.JobStatusPending, models.JobStatusRunning, models.JobStatusDone, models.JobStatusFailed:
			status = &s
		default:
			WriteError(w, http.StatusBadRequest, "invalid status (want PENDING, RUNNING, DONE or FAILED)")
			return
		}
	}

	page, pageSize := GetPaginationParams(r)
	jobs, total, err := h.storage.Jobs().List(r.Context(), principal.BusinessID, status, pageSize, page*pageSize)
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Listing jobs failed")
		WriteStorageError(w, err)
		return
	}

	WriteList(w, "extraction jobs", map[string]interface{}{"jobs": jobs}, NewPageMeta(page, pageSize, total))
}

// GetHandler returns one job. The tenant check goes through the job's card;
// foreign jobs are indistinguishable from missing ones.
// GET /api/extraction_jobs/{id}
func (h *ExtractionJobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	jobID := PathSegments(r, "/api/extraction_jobs/")[0]

	job, ok := h.loadForBusiness(w, r, principal.BusinessID, jobID)
	if !ok {
		return
	}

	WriteSuccess(w, http.StatusOK, "extraction job", map[string]interface{}{"job": job})
}

// RequeueHandler puts a FAILED job back on the queue, bounded by the retry
// cap. The queue is at-most-once per attempt; requeue is the only way a
// terminal job runs again.
// POST /api/extraction_jobs/{id}/requeue
func (h *ExtractionJobHandler) RequeueHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	jobID := PathSegments(r, "/api/extraction_jobs/")[0]

	job, ok := h.loadForBusiness(w, r, principal.BusinessID, jobID)
	if !ok {
		return
	}

	if job.Status != models.JobStatusFailed {
		WriteError(w, http.StatusConflict, fmt.Sprintf("only FAILED jobs can be requeued (job is %s)", job.Status))
		return
	}
	maxAttempts := h.config.Worker.MaxRetryAttempts
	if maxAttempts > 0 && job.Attempts >= maxAttempts {
		WriteError(w, http.StatusConflict, fmt.Sprintf("retry limit reached (%d attempts)", job.Attempts))
		return
	}

	job.ResetForRetry()
	if err := h.storage.Jobs().Update(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Requeueing job failed")
		WriteStorageError(w, err)
		return
	}

	if h.events != nil {
		if err := h.events.Publish(r.Context(), interfaces.Event{
			Type: interfaces.EventJobRequeued,
			Payload: map[string]interface{}{
				"job_id":       job.ID,
				"work_card_id": job.WorkCardID,
				"attempts":     job.Attempts,
			},
		}); err != nil {
			h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish requeue event")
		}
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int("attempts", job.Attempts).
		Str("requeued_by", principal.UserID).
		Msg("Job requeued")
	WriteSuccess(w, http.StatusOK, "job requeued", map[string]interface{}{"job": job})
}

// loadForBusiness fetches a job and verifies the tenant through its card.
// Writes the error response itself when the job is unavailable.
func (h *ExtractionJobHandler) loadForBusiness(w http.ResponseWriter, r *http.Request, businessID, jobID string) (*models.ExtractionJob, bool) {
	job, err := h.storage.Jobs().GetByID(r.Context(), jobID)
	if err != nil {
		WriteStorageError(w, err)
		return nil, false
	}

	card, err := h.storage.WorkCards().GetByID(r.Context(), job.WorkCardID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "resource not found")
			return nil, false
		}
		WriteStorageError(w, err)
		return nil, false
	}
	if card.BusinessID != businessID {
		WriteError(w, http.StatusNotFound, "resource not found")
		return nil, false
	}
	return job, true
}
