package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// BusinessHandler serves tenant administration and the per-month dashboard.
// The ADMIN role may act across tenants; MANAGER is confined to its own.
type BusinessHandler struct {
	storage interfaces.StorageManager
	cache   interfaces.DashboardCache
	clock   interfaces.Clock
	logger  arbor.ILogger
}

// NewBusinessHandler creates a business handler.
func NewBusinessHandler(storage interfaces.StorageManager, cache interfaces.DashboardCache, clock interfaces.Clock, logger arbor.ILogger) *BusinessHandler {
	return &BusinessHandler{
		storage: storage,
		cache:   cache,
		clock:   clock,
		logger:  logger,
	}
}

// canAccess reports whether the principal may act on the business.
func (h *BusinessHandler) canAccess(principal *models.Principal, businessID string) bool {
	return principal.Role == models.RoleAdmin || principal.BusinessID == businessID
}

// CreateHandler registers a tenant. ADMIN only.
// POST /api/businesses {name, code?}
func (h *BusinessHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	if principal.Role != models.RoleAdmin {
		WriteError(w, http.StatusForbidden, "creating businesses requires the ADMIN role")
		return
	}

	var req struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	business := models.NewBusiness(common.NewBusinessID(), req.Name, strings.TrimSpace(req.Code))
	if err := h.storage.Businesses().Create(r.Context(), business); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Creating business failed")
		WriteStorageError(w, err)
		return
	}

	h.logger.Info().Str("business_id", business.ID).Str("name", business.Name).Msg("Business created")
	WriteSuccess(w, http.StatusCreated, "business created", map[string]interface{}{"business": business})
}

// ListHandler lists businesses. ADMIN sees all; MANAGER sees its own.
// GET /api/businesses?include_inactive=
func (h *BusinessHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	if principal.Role != models.RoleAdmin {
		business, err := h.storage.Businesses().GetByID(r.Context(), principal.BusinessID)
		if err != nil {
			WriteStorageError(w, err)
			return
		}
		WriteSuccess(w, http.StatusOK, "businesses", map[string]interface{}{
			"businesses": []*models.Business{business},
		})
		return
	}

	businesses, err := h.storage.Businesses().List(r.Context(), QueryBool(r, "include_inactive"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Listing businesses failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "businesses", map[string]interface{}{"businesses": businesses})
}

// GetHandler returns one business.
// GET /api/businesses/{id}
func (h *BusinessHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	businessID := PathSegments(r, "/api/businesses/")[0]
	if !h.canAccess(principal, businessID) {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	business, err := h.storage.Businesses().GetByID(r.Context(), businessID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "business", map[string]interface{}{"business": business})
}

// UpdateHandler changes name, code or active state.
// PUT /api/businesses/{id} {name?, code?, active?}
func (h *BusinessHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	businessID := PathSegments(r, "/api/businesses/")[0]
	if !h.canAccess(principal, businessID) {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	var req struct {
		Name   *string `json:"name"`
		Code   *string `json:"code"`
		Active *bool   `json:"active"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}

	business, err := h.storage.Businesses().GetByID(r.Context(), businessID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			WriteError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		business.Name = name
	}
	if req.Code != nil {
		business.Code = strings.TrimSpace(*req.Code)
	}
	if req.Active != nil {
		business.Active = *req.Active
	}
	business.UpdatedAt = h.clock.Now().UTC()

	if err := h.storage.Businesses().Update(r.Context(), business); err != nil {
		h.logger.Error().Err(err).Str("business_id", business.ID).Msg("Updating business failed")
		WriteStorageError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, "business updated", map[string]interface{}{"business": business})
}

// siteStatusCounts is the dashboard row for one site. A nil site groups the
// cards uploaded without a site.
type siteStatusCounts struct {
	SiteID   *string        `json:"site_id"`
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// DashboardHandler aggregates per-site review-status counts and the job
// backlog for one month. Results are cached per (business, month) with TTL
// and invalidated by uploads and review transitions.
// GET /api/businesses/{id}/dashboard?month=
func (h *BusinessHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	businessID := PathSegments(r, "/api/businesses/")[0]
	if !h.canAccess(principal, businessID) {
		WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	month, present, err := QueryMonth(r, "month")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid month: "+err.Error())
		return
	}
	if !present {
		month = models.NormalizeMonth(h.clock.Now())
	}

	if h.cache != nil {
		if payload, hit := h.cache.Get(businessID, month); hit {
			WriteSuccess(w, http.StatusOK, "dashboard", payload)
			return
		}
	}

	counts, err := h.storage.WorkCards().StatusCounts(r.Context(), businessID, month)
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", businessID).Msg("Dashboard card counts failed")
		WriteStorageError(w, err)
		return
	}
	jobCounts, err := h.storage.Jobs().CountForBusiness(r.Context(), businessID, month)
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", businessID).Msg("Dashboard job counts failed")
		WriteStorageError(w, err)
		return
	}

	payload := buildDashboard(businessID, month, counts, jobCounts)
	if h.cache != nil {
		h.cache.Set(businessID, month, payload)
	}
	WriteSuccess(w, http.StatusOK, "dashboard", payload)
}

func buildDashboard(businessID string, month time.Time, counts []interfaces.StatusCount, jobCounts map[models.JobStatus]int) map[string]interface{} {
	bySite := make(map[string]*siteStatusCounts)
	order := make([]string, 0)
	totals := make(map[string]int)
	totalCards := 0

	for _, c := range counts {
		key := ""
		if c.SiteID != nil {
			key = *c.SiteID
		}
		row, exists := bySite[key]
		if !exists {
			row = &siteStatusCounts{SiteID: c.SiteID, ByStatus: make(map[string]int)}
			bySite[key] = row
			order = append(order, key)
		}
		row.ByStatus[string(c.ReviewStatus)] += c.Count
		row.Total += c.Count
		totals[string(c.ReviewStatus)] += c.Count
		totalCards += c.Count
	}

	sites := make([]*siteStatusCounts, 0, len(order))
	for _, key := range order {
		sites = append(sites, bySite[key])
	}

	jobs := make(map[string]int, len(jobCounts))
	for status, n := range jobCounts {
		jobs[string(status)] = n
	}

	return map[string]interface{}{
		"business_id": businessID,
		"month":       models.FormatMonth(month),
		"total_cards": totalCards,
		"by_status":   totals,
		"sites":       sites,
		"jobs":        jobs,
	}
}
