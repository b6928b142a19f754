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
	"github.com/kardex-io/kardex/internal/services/matching"
	"github.com/kardex-io/kardex/internal/services/passport"
	"github.com/kardex-io/kardex/internal/services/reconcile"
)

// WorkCardHandler serves the card lifecycle: ingest, listing, review detail,
// assignment, approval with carry-forward, rejection and day-entry edits.
type WorkCardHandler struct {
	storage    interfaces.StorageManager
	uploader   *Uploader
	reconciler *reconcile.Service
	normalizer *passport.Normalizer
	events     interfaces.EventService
	cache      interfaces.DashboardCache
	logger     arbor.ILogger
}

// NewWorkCardHandler creates a work card handler.
func NewWorkCardHandler(storage interfaces.StorageManager, uploader *Uploader, reconciler *reconcile.Service, normalizer *passport.Normalizer, events interfaces.EventService, cache interfaces.DashboardCache, logger arbor.ILogger) *WorkCardHandler {
	return &WorkCardHandler{
		storage:    storage,
		uploader:   uploader,
		reconciler: reconciler,
		normalizer: normalizer,
		events:     events,
		cache:      cache,
		logger:     logger,
	}
}

// adminUploadSpec reads the shared multipart form fields for admin uploads.
func (h *WorkCardHandler) adminUploadSpec(r *http.Request, principal *models.Principal, source models.CardSource) (uploadSpec, *apiError) {
	spec := uploadSpec{
		BusinessID: principal.BusinessID,
		Source:     source,
		UploadedBy: principal.UserID,
	}

	// ADMIN role may act across tenants.
	if override := strings.TrimSpace(r.FormValue("business_id")); override != "" && override != principal.BusinessID {
		if principal.Role != models.RoleAdmin {
			return spec, &apiError{status: http.StatusForbidden, message: "business does not match token"}
		}
		spec.BusinessID = override
	}

	monthRaw := strings.TrimSpace(r.FormValue("processing_month"))
	if monthRaw == "" {
		return spec, badRequest("processing_month is required")
	}
	month, err := models.ParseMonth(monthRaw)
	if err != nil {
		return spec, badRequest("invalid processing_month: " + err.Error())
	}
	spec.Month = month

	if siteID := strings.TrimSpace(r.FormValue("site_id")); siteID != "" {
		spec.SiteID = &siteID
	}
	if employeeID := strings.TrimSpace(r.FormValue("employee_id")); employeeID != "" {
		spec.EmployeeID = &employeeID
	}

	mode, apiErr := parseJobMode(r.FormValue("mode"))
	if apiErr != nil {
		return spec, apiErr
	}
	spec.Mode = mode
	return spec, nil
}

// UploadHandler ingests one card file.
// POST /api/work_cards/upload/single (multipart: file, processing_month, site_id?, employee_id?, mode?)
func (h *WorkCardHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	if err := r.ParseMultipartForm(maxUploadMemoryBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	spec, apiErr := h.adminUploadSpec(r, principal, models.SourceAdminSingle)
	if apiErr != nil {
		apiErr.write(w)
		return
	}
	if apiErr := h.uploader.ValidateReferences(r.Context(), spec); apiErr != nil {
		apiErr.write(w)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		WriteError(w, http.StatusBadRequest, "file is required")
		return
	}

	card, job, apiErr := h.uploader.Ingest(r.Context(), spec, files[0])
	if apiErr != nil {
		apiErr.write(w)
		return
	}

	WriteSuccess(w, http.StatusCreated, "work card uploaded", map[string]interface{}{
		"card":   card,
		"job_id": job.ID,
	})
}

// batchItemResult reports one file of a batch upload.
type batchItemResult struct {
	Filename   string `json:"filename"`
	Success    bool   `json:"success"`
	WorkCardID string `json:"work_card_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UploadBatchHandler ingests several card files in one request. Files fail
// independently; one bad photo does not sink the batch.
// POST /api/work_cards/upload/batch (multipart: files, shared form fields)
func (h *WorkCardHandler) UploadBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	if err := r.ParseMultipartForm(maxUploadMemoryBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	spec, apiErr := h.adminUploadSpec(r, principal, models.SourceAdminBatch)
	if apiErr != nil {
		apiErr.write(w)
		return
	}
	if apiErr := h.uploader.ValidateReferences(r.Context(), spec); apiErr != nil {
		apiErr.write(w)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		WriteError(w, http.StatusBadRequest, "files are required")
		return
	}

	results := make([]batchItemResult, 0, len(files))
	uploaded := 0
	for _, header := range files {
		item := batchItemResult{Filename: header.Filename}
		card, job, apiErr := h.uploader.Ingest(r.Context(), spec, header)
		if apiErr != nil {
			item.Error = apiErr.message
		} else {
			item.Success = true
			item.WorkCardID = card.ID
			item.JobID = job.ID
			uploaded++
		}
		results = append(results, item)
	}

	h.logger.Info().
		Str("business_id", spec.BusinessID).
		Int("uploaded", uploaded).
		Int("failed", len(files)-uploaded).
		Msg("Batch upload finished")

	data := map[string]interface{}{
		"results":  results,
		"uploaded": uploaded,
		"failed":   len(files) - uploaded,
	}
	message := fmt.Sprintf("%d of %d files uploaded", uploaded, len(files))
	if uploaded == 0 {
		WriteErrorData(w, http.StatusBadRequest, message, data)
		return
	}
	WriteSuccess(w, http.StatusCreated, message, data)
}

// ListHandler lists cards in the caller's business with optional filters.
// GET /api/work_cards?site_id=&employee_id=&month=&review_status=&page=&page_size=
func (h *WorkCardHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	filter := interfaces.CardListFilter{}
	if siteID := strings.TrimSpace(r.URL.Query().Get("site_id")); siteID != "" {
		filter.SiteID = &siteID
	}
	if employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id")); employeeID != "" {
		filter.EmployeeID = &employeeID
	}
	month, present, err := QueryMonth(r, "month")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid month: "+err.Error())
		return
	}
	if present {
		filter.Month = &month
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("review_status")); raw != "" {
		status := models.ReviewStatus(strings.ToUpper(raw))
		switch status {
		case models.ReviewStatusNeedsAssignment, models.ReviewStatusNeedsReview, models.ReviewStatusApproved, models.ReviewStatusRejected:
			filter.ReviewStatus = &status
		default:
			WriteError(w, http.StatusBadRequest, "invalid review_status")
			return
		}
	}

	page, pageSize := GetPaginationParams(r)
	filter.Limit = pageSize
	filter.Offset = page * pageSize

	cards, total, err := h.storage.WorkCards().List(r.Context(), principal.BusinessID, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Listing work cards failed")
		WriteStorageError(w, err)
		return
	}

	WriteList(w, "work cards", map[string]interface{}{"cards": cards}, NewPageMeta(page, pageSize, total))
}

// DetailHandler returns one card with its entries, extraction job and the
// day-level comparison against the previous card.
// GET /api/work_cards/{id}
func (h *WorkCardHandler) DetailHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	card, err := h.storage.WorkCards().GetForBusiness(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	entries, err := h.storage.DayEntries().ListByCard(r.Context(), card.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Loading day entries failed")
		WriteStorageError(w, err)
		return
	}

	data := map[string]interface{}{
		"card":    card,
		"entries": entries,
	}

	if job, err := h.storage.Jobs().GetByCardID(r.Context(), card.ID); err == nil {
		data["job"] = job
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().Err(err).Str("work_card_id", card.ID).Msg("Loading extraction job failed")
	}

	// Conflict annotations are advisory on the detail view; a failure to
	// compute them must not hide the card.
	if conflicts, err := h.reconciler.DayConflicts(r.Context(), card); err == nil {
		data["day_conflicts"] = conflicts
	} else {
		h.logger.Warn().Err(err).Str("work_card_id", card.ID).Msg("Computing day conflicts failed")
	}

	WriteSuccess(w, http.StatusOK, "work card", data)
}

// ImageHandler streams the original uploaded bytes. This is the one endpoint
// that bypasses the JSON envelope.
// GET /api/work_cards/{id}/image
func (h *WorkCardHandler) ImageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	card, err := h.storage.WorkCards().GetForBusiness(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	image, err := h.storage.Images().Get(r.Context(), card.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "card image not found")
			return
		}
		h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Loading card image failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", image.Mime)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(image.Bytes)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", image.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(image.Bytes); err != nil {
		h.logger.Warn().Err(err).Str("work_card_id", card.ID).Msg("Writing image response failed")
	}
}

// AssignHandler attaches or detaches an employee. A present employee_id
// assigns; a null or empty one unassigns and reverts to NEEDS_ASSIGNMENT.
// Assignment is the admin's authority; the extraction match is advisory, so
// the response carries identity diagnostics when the assigned passport
// disagrees with the extracted one.
// POST /api/work_cards/{id}/assign {employee_id?}
func (h *WorkCardHandler) AssignHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	var req struct {
		EmployeeID *string `json:"employee_id"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}

	card, err := h.storage.WorkCards().GetForBusiness(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	if card.IsApproved() {
		WriteError(w, http.StatusConflict, "approved cards cannot be reassigned; reject first")
		return
	}

	if req.EmployeeID == nil || strings.TrimSpace(*req.EmployeeID) == "" {
		h.unassign(w, r, principal, card)
		return
	}

	employee, err := h.storage.Employees().GetByID(r.Context(), principal.BusinessID, strings.TrimSpace(*req.EmployeeID))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusBadRequest, "employee not found")
			return
		}
		WriteStorageError(w, err)
		return
	}

	card.Assign(employee.ID)
	if err := h.storage.WorkCards().Update(r.Context(), card); err != nil {
		h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Assigning work card failed")
		WriteStorageError(w, err)
		return
	}

	data := map[string]interface{}{"card": card}
	if diag := h.assignmentDiagnostics(r, card, employee); diag != nil {
		data["identity_diagnostics"] = diag
	}

	h.publish(r, interfaces.EventCardAssigned, map[string]interface{}{
		"work_card_id":  card.ID,
		"business_id":   card.BusinessID,
		"employee_id":   employee.ID,
		"review_status": string(card.ReviewStatus),
	})
	h.invalidateDashboard(card)

	h.logger.Info().
		Str("work_card_id", card.ID).
		Str("employee_id", employee.ID).
		Str("assigned_by", principal.UserID).
		Msg("Work card assigned")
	WriteSuccess(w, http.StatusOK, "work card assigned", data)
}

// assignmentDiagnostics compares the assigned employee's passport with the
// extraction outcome for the card, when both exist.
func (h *WorkCardHandler) assignmentDiagnostics(r *http.Request, card *models.WorkCard, employee *models.Employee) *models.IdentityDiagnostics {
	job, err := h.storage.Jobs().GetByCardID(r.Context(), card.ID)
	if err != nil || job.ExtractedPassportID == nil {
		return nil
	}

	assignedRaw := ""
	assignedNormalized := ""
	if employee.PassportID != nil {
		assignedRaw = *employee.PassportID
	}
	if employee.PassportNormalized != nil {
		assignedNormalized = *employee.PassportNormalized
	}
	extractedRaw := *job.ExtractedPassportID
	extractedNormalized, _ := h.normalizer.Normalize(extractedRaw)

	return matching.DiagnoseIdentity(assignedRaw, assignedNormalized, extractedRaw, extractedNormalized)
}

// unassign detaches the employee and reverts the card to NEEDS_ASSIGNMENT.
func (h *WorkCardHandler) unassign(w http.ResponseWriter, r *http.Request, principal *models.Principal, card *models.WorkCard) {
	card.Unassign()
	if err := h.storage.WorkCards().Update(r.Context(), card); err != nil {
		h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Unassigning work card failed")
		WriteStorageError(w, err)
		return
	}

	h.publish(r, interfaces.EventCardAssigned, map[string]interface{}{
		"work_card_id":  card.ID,
		"business_id":   card.BusinessID,
		"employee_id":   nil,
		"review_status": string(card.ReviewStatus),
	})
	h.invalidateDashboard(card)

	h.logger.Info().
		Str("work_card_id", card.ID).
		Str("unassigned_by", principal.UserID).
		Msg("Work card unassigned")
	WriteSuccess(w, http.StatusOK, "work card unassigned", map[string]interface{}{"card": card})
}

// ApproveHandler runs the approval protocol with carry-forward.
// POST /api/work_cards/{id}/approve {user_id?, override_conflict_days?, confirm_override_approved?}
func (h *WorkCardHandler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	var req struct {
		UserID                  string `json:"user_id"`
		OverrideConflictDays    []int  `json:"override_conflict_days"`
		ConfirmOverrideApproved bool   `json:"confirm_override_approved"`
	}
	if r.ContentLength != 0 && !DecodeBody(w, r, &req) {
		return
	}
	// The approving identity is the authenticated principal; a user_id in
	// the body is accepted only when it names that same user.
	if req.UserID != "" && req.UserID != principal.UserID {
		WriteError(w, http.StatusForbidden, "user_id does not match the authenticated user")
		return
	}

	result, err := h.reconciler.Approve(r.Context(), reconcile.ApproveRequest{
		BusinessID:              principal.BusinessID,
		CardID:                  cardID,
		UserID:                  principal.UserID,
		OverrideConflictDays:    req.OverrideConflictDays,
		ConfirmOverrideApproved: req.ConfirmOverrideApproved,
	})
	if err != nil {
		h.writeApproveError(w, cardID, err)
		return
	}

	h.invalidateDashboard(result.Card)
	WriteSuccess(w, http.StatusOK, "work card approved", result)
}

func (h *WorkCardHandler) writeApproveError(w http.ResponseWriter, cardID string, err error) {
	var conflictErr *reconcile.ApprovedConflictError
	switch {
	case errors.As(err, &conflictErr):
		WriteErrorData(w, http.StatusConflict, err.Error(), map[string]interface{}{
			"approved_conflict_days": conflictErr.Days,
		})
	case errors.Is(err, reconcile.ErrAlreadyApproved), errors.Is(err, reconcile.ErrNotReviewable):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reconcile.ErrNotAssigned), errors.Is(err, reconcile.ErrSiteRequired):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, http.StatusNotFound, "resource not found")
	default:
		h.logger.Error().Err(err).Str("work_card_id", cardID).Msg("Approval failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// RejectHandler moves a card to REJECTED. Approved cards may be rejected;
// that is the sanctioned path for correcting a wrong approval.
// POST /api/work_cards/{id}/reject
func (h *WorkCardHandler) RejectHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	card, err := h.reconciler.Reject(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "resource not found")
			return
		}
		h.logger.Error().Err(err).Str("work_card_id", cardID).Msg("Rejection failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.invalidateDashboard(card)
	WriteSuccess(w, http.StatusOK, "work card rejected", map[string]interface{}{"card": card})
}

// DayEntriesHandler serves the entry set of one card.
// GET  /api/work_cards/{id}/day-entries
// PUT  /api/work_cards/{id}/day-entries {entries: [{day_of_month, from_time?, to_time?, total_hours?}]}
func (h *WorkCardHandler) DayEntriesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDayEntries(w, r)
	case http.MethodPut:
		h.replaceDayEntries(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *WorkCardHandler) listDayEntries(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	card, err := h.storage.WorkCards().GetForBusiness(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	entries, err := h.storage.DayEntries().ListByCard(r.Context(), card.ID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "day entries", map[string]interface{}{
		"work_card_id": card.ID,
		"entries":      entries,
	})
}

// dayEntryInput is one proposed day row in a bulk edit.
type dayEntryInput struct {
	DayOfMonth int      `json:"day_of_month"`
	FromTime   *string  `json:"from_time"`
	ToTime     *string  `json:"to_time"`
	TotalHours *float64 `json:"total_hours"`
}

func (h *WorkCardHandler) replaceDayEntries(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	cardID := PathSegments(r, "/api/work_cards/")[0]

	var req struct {
		Entries []dayEntryInput `json:"entries"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}

	card, err := h.storage.WorkCards().GetForBusiness(r.Context(), principal.BusinessID, cardID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	proposed := make([]*models.DayEntry, 0, len(req.Entries))
	seen := make(map[int]bool, len(req.Entries))
	for _, in := range req.Entries {
		if seen[in.DayOfMonth] {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("duplicate day %d in entries", in.DayOfMonth))
			return
		}
		seen[in.DayOfMonth] = true

		entry, err := models.NewDayEntry(common.NewEntryID(), card.ID, in.DayOfMonth, in.FromTime, in.ToTime, in.TotalHours, models.EntrySourceManual)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("day %d: %s", in.DayOfMonth, err.Error()))
			return
		}
		userID := principal.UserID
		entry.UpdatedBy = &userID
		proposed = append(proposed, entry)
	}

	if err := h.reconciler.ValidateEntryReplacement(r.Context(), card, proposed); err != nil {
		var lockedErr *reconcile.LockedDayError
		switch {
		case errors.Is(err, reconcile.ErrCardImmutable):
			WriteError(w, http.StatusConflict, err.Error())
		case errors.As(err, &lockedErr):
			WriteErrorData(w, http.StatusConflict, err.Error(), map[string]interface{}{
				"locked_days": lockedErr.Days,
			})
		default:
			h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Entry replacement validation failed")
			WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if err := h.storage.DayEntries().ReplaceForCard(r.Context(), card.ID, proposed); err != nil {
		h.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Replacing day entries failed")
		WriteStorageError(w, err)
		return
	}

	h.invalidateDashboard(card)
	h.logger.Info().
		Str("work_card_id", card.ID).
		Int("entries", len(proposed)).
		Str("updated_by", principal.UserID).
		Msg("Day entries replaced")
	WriteSuccess(w, http.StatusOK, "day entries replaced", map[string]interface{}{
		"work_card_id": card.ID,
		"entries":      proposed,
	})
}

func (h *WorkCardHandler) publish(r *http.Request, eventType interfaces.EventType, payload map[string]interface{}) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(r.Context(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		h.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish card event")
	}
}

func (h *WorkCardHandler) invalidateDashboard(card *models.WorkCard) {
	if h.cache != nil {
		h.cache.Invalidate(card.BusinessID, card.ProcessingMonth)
	}
}
