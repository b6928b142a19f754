package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/passport"
)

// EmployeeHandler serves employee administration. Passports are normalized
// here so the storage layer only ever sees the canonical matching key.
type EmployeeHandler struct {
	storage    interfaces.StorageManager
	normalizer *passport.Normalizer
	logger     arbor.ILogger
}

// NewEmployeeHandler creates an employee handler.
func NewEmployeeHandler(storage interfaces.StorageManager, normalizer *passport.Normalizer, logger arbor.ILogger) *EmployeeHandler {
	return &EmployeeHandler{
		storage:    storage,
		normalizer: normalizer,
		logger:     logger,
	}
}

// setPassport normalizes and stores the passport pair on the employee. An
// empty raw value clears both fields.
func (h *EmployeeHandler) setPassport(employee *models.Employee, raw string) *apiError {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		employee.PassportID = nil
		employee.PassportNormalized = nil
		return nil
	}
	normalized, ok := h.normalizer.Normalize(raw)
	if !ok {
		return badRequest("passport_id cannot be normalized to a valid identifier")
	}
	employee.PassportID = &raw
	employee.PassportNormalized = &normalized
	return nil
}

// validateSite checks a site reference against the tenant.
func (h *EmployeeHandler) validateSite(r *http.Request, businessID, siteID string) *apiError {
	if _, err := h.storage.Sites().GetByID(r.Context(), businessID, siteID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return badRequest("site not found")
		}
		return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
	}
	return nil
}

func parseEmployeeStatus(raw string) (models.EmployeeStatus, *apiError) {
	status := models.EmployeeStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case models.EmployeeStatusActive, models.EmployeeStatusReportedInSpark, models.EmployeeStatusReportedReturned:
		return status, nil
	default:
		return "", badRequest("invalid status")
	}
}

// CreateHandler registers an employee in the caller's business.
// POST /api/employees {full_name, passport_id?, phone?, site_id?, status?}
func (h *EmployeeHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	var req struct {
		FullName   string  `json:"full_name"`
		PassportID string  `json:"passport_id"`
		Phone      *string `json:"phone"`
		SiteID     *string `json:"site_id"`
		Status     string  `json:"status"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		WriteError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	employee := models.NewEmployee(common.NewEmployeeID(), principal.BusinessID, req.FullName)
	if apiErr := h.setPassport(employee, req.PassportID); apiErr != nil {
		apiErr.write(w)
		return
	}
	if req.Phone != nil && strings.TrimSpace(*req.Phone) != "" {
		phone := strings.TrimSpace(*req.Phone)
		employee.Phone = &phone
	}
	if req.SiteID != nil && *req.SiteID != "" {
		if apiErr := h.validateSite(r, principal.BusinessID, *req.SiteID); apiErr != nil {
			apiErr.write(w)
			return
		}
		employee.SiteID = req.SiteID
	}
	if req.Status != "" {
		status, apiErr := parseEmployeeStatus(req.Status)
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		employee.Status = status
	}

	if err := h.storage.Employees().Create(r.Context(), employee); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			WriteError(w, http.StatusConflict, "an employee with this passport already exists")
			return
		}
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Creating employee failed")
		WriteStorageError(w, err)
		return
	}

	h.logger.Info().
		Str("employee_id", employee.ID).
		Str("business_id", employee.BusinessID).
		Msg("Employee created")
	WriteSuccess(w, http.StatusCreated, "employee created", map[string]interface{}{"employee": employee})
}

// ListHandler lists the caller's employees, optionally narrowed to a site.
// GET /api/employees?site_id=&include_inactive=
func (h *EmployeeHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	var siteID *string
	if raw := strings.TrimSpace(r.URL.Query().Get("site_id")); raw != "" {
		siteID = &raw
	}

	employees, err := h.storage.Employees().List(r.Context(), principal.BusinessID, siteID, QueryBool(r, "include_inactive"))
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Listing employees failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "employees", map[string]interface{}{"employees": employees})
}

// GetHandler returns one employee.
// GET /api/employees/{id}
func (h *EmployeeHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	employeeID := PathSegments(r, "/api/employees/")[0]

	employee, err := h.storage.Employees().GetByID(r.Context(), principal.BusinessID, employeeID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "employee", map[string]interface{}{"employee": employee})
}

// UpdateHandler changes employee fields. Passport changes re-normalize; an
// empty string clears the passport pair or the site reference.
// PUT /api/employees/{id} {full_name?, passport_id?, phone?, site_id?, status?, active?}
func (h *EmployeeHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	employeeID := PathSegments(r, "/api/employees/")[0]

	var req struct {
		FullName   *string `json:"full_name"`
		PassportID *string `json:"passport_id"`
		Phone      *string `json:"phone"`
		SiteID     *string `json:"site_id"`
		Status     *string `json:"status"`
		Active     *bool   `json:"active"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}

	employee, err := h.storage.Employees().GetByID(r.Context(), principal.BusinessID, employeeID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			WriteError(w, http.StatusBadRequest, "full_name cannot be empty")
			return
		}
		employee.FullName = name
	}
	if req.PassportID != nil {
		if apiErr := h.setPassport(employee, *req.PassportID); apiErr != nil {
			apiErr.write(w)
			return
		}
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			employee.Phone = nil
		} else {
			employee.Phone = &phone
		}
	}
	if req.SiteID != nil {
		if *req.SiteID == "" {
			employee.SiteID = nil
		} else {
			if apiErr := h.validateSite(r, principal.BusinessID, *req.SiteID); apiErr != nil {
				apiErr.write(w)
				return
			}
			employee.SiteID = req.SiteID
		}
	}
	if req.Status != nil {
		status, apiErr := parseEmployeeStatus(*req.Status)
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		employee.Status = status
	}
	if req.Active != nil {
		employee.Active = *req.Active
	}

	if err := h.storage.Employees().Update(r.Context(), employee); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			WriteError(w, http.StatusConflict, "an employee with this passport already exists")
			return
		}
		h.logger.Error().Err(err).Str("employee_id", employee.ID).Msg("Updating employee failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "employee updated", map[string]interface{}{"employee": employee})
}
