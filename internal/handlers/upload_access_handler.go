package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// UploadAccessHandler manages tokenized portal upload links: create, list,
// revoke. Verification and the portal upload itself live in PortalHandler.
type UploadAccessHandler struct {
	storage   interfaces.StorageManager
	messenger interfaces.Messenger
	config    *common.Config
	clock     interfaces.Clock
	logger    arbor.ILogger
}

// NewUploadAccessHandler creates an upload access handler.
func NewUploadAccessHandler(storage interfaces.StorageManager, messenger interfaces.Messenger, config *common.Config, clock interfaces.Clock, logger arbor.ILogger) *UploadAccessHandler {
	return &UploadAccessHandler{
		storage:   storage,
		messenger: messenger,
		config:    config,
		clock:     clock,
		logger:    logger,
	}
}

// portalURL composes the link a responsible employee opens. The configured
// base wins; otherwise the request host is assumed reachable.
func (h *UploadAccessHandler) portalURL(r *http.Request, token string) string {
	base := strings.TrimRight(h.config.Portal.BaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return base + "/portal/upload?token=" + token
}

// CreateHandler issues a link for one employee and month at a site.
// POST /api/upload_access {site_id, employee_id, processing_month, expires_at?}
func (h *UploadAccessHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	var req struct {
		SiteID          string  `json:"site_id"`
		EmployeeID      string  `json:"employee_id"`
		ProcessingMonth string  `json:"processing_month"`
		ExpiresAt       *string `json:"expires_at"`
	}
	if !DecodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SiteID) == "" || strings.TrimSpace(req.EmployeeID) == "" {
		WriteError(w, http.StatusBadRequest, "site_id and employee_id are required")
		return
	}
	month, err := models.ParseMonth(strings.TrimSpace(req.ProcessingMonth))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid processing_month: "+err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid expires_at: want RFC3339")
			return
		}
		if !t.After(h.clock.Now()) {
			WriteError(w, http.StatusBadRequest, "expires_at is in the past")
			return
		}
		utc := t.UTC()
		expiresAt = &utc
	}

	site, err := h.storage.Sites().GetByID(r.Context(), principal.BusinessID, req.SiteID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusBadRequest, "site not found")
			return
		}
		WriteStorageError(w, err)
		return
	}
	if _, err := h.storage.Employees().GetByID(r.Context(), principal.BusinessID, req.EmployeeID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusBadRequest, "employee not found")
			return
		}
		WriteStorageError(w, err)
		return
	}

	createdBy := principal.UserID
	request, err := models.NewUploadAccessRequest(common.NewAccessRequestID(), principal.BusinessID, site.ID, req.EmployeeID, month, &createdBy, expiresAt)
	if err != nil {
		h.logger.Error().Err(err).Msg("Generating upload access token failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.storage.UploadAccess().Create(r.Context(), request); err != nil {
		h.logger.Error().Err(err).Str("site_id", site.ID).Msg("Creating upload access request failed")
		WriteStorageError(w, err)
		return
	}

	url := h.portalURL(r, request.Token)
	h.deliverLink(r, site, request, url)

	h.logger.Info().
		Str("access_request_id", request.ID).
		Str("site_id", request.SiteID).
		Str("employee_id", request.EmployeeID).
		Str("month", models.FormatMonth(request.ProcessingMonth)).
		Str("created_by", principal.UserID).
		Msg("Upload access link created")
	WriteSuccess(w, http.StatusCreated, "upload access link created", map[string]interface{}{
		"access_request": request,
		"portal_url":     url,
	})
}

// deliverLink sends the link to the site's responsible employee, best-effort.
// Links are returned to the admin regardless; delivery failure only logs.
func (h *UploadAccessHandler) deliverLink(r *http.Request, site *models.Site, request *models.UploadAccessRequest, url string) {
	if h.messenger == nil || site.ResponsibleEmployeeID == nil {
		return
	}
	responsible, err := h.storage.Employees().GetByID(r.Context(), site.BusinessID, *site.ResponsibleEmployeeID)
	if err != nil || responsible.Phone == nil || *responsible.Phone == "" {
		h.logger.Warn().
			Str("site_id", site.ID).
			Str("access_request_id", request.ID).
			Msg("No deliverable phone for responsible employee; link not sent")
		return
	}
	if err := h.messenger.SendUploadLink(r.Context(), *responsible.Phone, request, url); err != nil {
		h.logger.Warn().Err(err).Str("access_request_id", request.ID).Msg("Sending upload link failed")
	}
}

// ListHandler lists the caller's links.
// GET /api/upload_access?include_inactive=
func (h *UploadAccessHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}

	requests, err := h.storage.UploadAccess().ListByBusiness(r.Context(), principal.BusinessID, QueryBool(r, "include_inactive"))
	if err != nil {
		h.logger.Error().Err(err).Str("business_id", principal.BusinessID).Msg("Listing upload access requests failed")
		WriteStorageError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, "upload access links", map[string]interface{}{"access_requests": requests})
}

// RevokeHandler deactivates a link. Revocation is immediate; in-flight portal
// sessions fail their next usability check.
// POST /api/upload_access/{id}/revoke
func (h *UploadAccessHandler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	requestID := PathSegments(r, "/api/upload_access/")[0]

	if err := h.storage.UploadAccess().Revoke(r.Context(), principal.BusinessID, requestID); err != nil {
		WriteStorageError(w, err)
		return
	}

	h.logger.Info().
		Str("access_request_id", requestID).
		Str("revoked_by", principal.UserID).
		Msg("Upload access link revoked")
	WriteSuccess(w, http.StatusOK, "upload access link revoked", nil)
}
