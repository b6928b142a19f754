package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/matrix"
)

// SiteHandler serves site administration and the hours matrix. The
// responsible-employee reference is validated here because the site and
// employee foreign keys form a cycle the schema cannot enforce.
type SiteHandler struct {
	storage interfaces.StorageManager
	matrix  *matrix.Builder
	logger  arbor.ILogger
}

// NewSiteHandler creates a site handler.
func NewSiteHandler(storage interfaces.StorageManager, builder *matrix.Builder, logger arbor.ILogger) *SiteHandler {
	return &SiteHandler{
		storage: storage,
		matrix:  builder,
		logger:  logger,
	}
}

// validateResponsible checks that the responsible employee exists in the
// tenant, belongs to this site (or no site yet) and is active.
func (h *SiteHandler) validateResponsible(r *http.Request, businessID, siteID, employeeID string) *apiError {
	employee, err := h.storage.Employees().GetByID(r.Context(), businessID, employeeID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return badRequest("responsible employee not found")
		}
		return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
	}
	if !employee.Active {
		return badRequest("responsible employee is inactive")
	}
	if employee.SiteID != nil && *employee.SiteID != siteID {
		return badRequest("responsible employee belongs to a different site")
	}
	if employee.Phone == nil || strings.TrimSpace(*employee.Phone) == "" {
		return badRequest("responsible employee has no phone number")
	}
	return nil
}

// CreateHandler registers a site in the caller's business.
// POST /api/sites {name, code?, responsible_employee_id?}
func (h *SiteHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	var req struct {
		Name                  string  `json:"name"`
		Code                  string  `json:"code"`
		ResponsibleEmployeeID *string `json:"responsible_employee_id"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	site := models.NewSite(common.NewSiteID(), principal.BusinessID, req.Name, strings.TrimSpace(req.Code))
	if req.ResponsibleEmployeeID != nil && *req.ResponsibleEmployeeID != "" {
		if apiErr := h.validateResponsible(r, principal.BusinessID, site.ID, *req.ResponsibleEmployeeID); apiErr != nil {
			apiErr.write(w)
			return
		}
		site.ResponsibleEmployeeID = req.ResponsibleEmployeeID
	}

	if err := h.storage.Sites().Create(r.Context(), site); err != nil {
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Creating site failed")
		WriteStorageError(w, err)
		return
	}

	h.logger.Info().Str("site_id", site.ID).Str("business_id", site.BusinessID).Msg("Site created")
	WriteSuccess(w, http.StatusCreated, "site created", map[string]interface{}{"site": site})
}

// ListHandler lists the caller's sites.
// GET /api/sites?include_inactive=
func (h *SiteHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	sites, err := h.storage.Sites().ListByBusiness(r.Context(), principal.BusinessID, QueryBool(r, "include_inactive"))
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Listing sites failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "sites", map[string]interface{}{"sites": sites})
}

// GetHandler returns one site.
// GET /api/sites/{id}
func (h *SiteHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	siteID := PathSegments(r, "/api/sites/")[0]

	site, err := h.storage.Sites().GetByID(r.Context(), principal.BusinessID, siteID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "site", map[string]interface{}{"site": site})
}

// UpdateHandler changes site fields. Clearing responsible_employee_id is
// expressed by sending an empty string.
// PUT /api/sites/{id} {name?, code?, responsible_employee_id?, active?}
func (h *SiteHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	siteID := PathSegments(r, "/api/sites/")[0]

	var req struct {
		Name                  *string `json:"name"`
		Code                  *string `json:"code"`
		ResponsibleEmployeeID *string `json:"responsible_employee_id"`
		Active                *bool   `json:"active"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}

	site, err := h.storage.Sites().GetByID(r.Context(), principal.BusinessID, siteID)
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
		site.Name = name
	}
	if req.Code != nil {
		site.Code = strings.TrimSpace(*req.Code)
	}
	if req.ResponsibleEmployeeID != nil {
		if *req.ResponsibleEmployeeID == "" {
			site.ResponsibleEmployeeID = nil
		} else {
			if apiErr := h.validateResponsible(r, principal.BusinessID, site.ID, *req.ResponsibleEmployeeID); apiErr != nil {
				apiErr.write(w)
				return
			}
			site.ResponsibleEmployeeID = req.ResponsibleEmployeeID
		}
	}
	if req.Active != nil {
		site.Active = *req.Active
	}

	if err := h.storage.Sites().Update(r.Context(), site); err != nil {
		h.logger.Error().Err(err).Str("site_id", site.ID).Msg("Updating site failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "site updated", map[string]interface{}{"site": site})
}

// MatrixHandler serves the per-employee hours matrix for a month off the
// effective-card selection.
// GET /api/sites/{id}/matrix?processing_month=&approved_only=&include_inactive=
func (h *SiteHandler) MatrixHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	siteID := PathSegments(r, "/api/sites/")[0]

	// The site lookup both authorizes the tenant and 404s unknown sites.
	site, err := h.storage.Sites().GetByID(r.Context(), principal.BusinessID, siteID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	month, present, err := QueryMonth(r, "processing_month")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid processing_month: "+err.Error())
		return
	}
	if !present {
		WriteError(w, http.StatusBadRequest, "processing_month is required")
		return
	}

	result, err := h.matrix.Build(r.Context(), matrix.Request{
		BusinessID:      principal.BusinessID,
		SiteID:          site.ID,
		Month:           month,
		ApprovedOnly:    QueryBool(r, "approved_only"),
		IncludeInactive: QueryBool(r, "include_inactive"),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("site_id", site.ID).Msg("Building matrix failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	WriteSuccess(w, http.StatusOK, "hours matrix", result)
}
