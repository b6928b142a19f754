package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/passport"
)

// verifyAccessRequest is the public verification payload. The token is the
// 64-character link token, not a JWT.
type verifyAccessRequest struct {
	Token       string `json:"token" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
}

// PortalHandler serves the public upload portal: link verification issuing a
// scoped session token, and the portal upload itself. Verification is the
// only unauthenticated mutation path, so it sits behind a per-IP limiter.
type PortalHandler struct {
	storage  interfaces.StorageManager
	auth     interfaces.AuthService
	uploader *Uploader
	config   *common.Config
	clock    interfaces.Clock
	validate *validator.Validate
	logger   arbor.ILogger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewPortalHandler creates a portal handler.
func NewPortalHandler(storage interfaces.StorageManager, auth interfaces.AuthService, uploader *Uploader, config *common.Config, clock interfaces.Clock, logger arbor.ILogger) *PortalHandler {
	return &PortalHandler{
		storage:  storage,
		auth:     auth,
		uploader: uploader,
		config:   config,
		clock:    clock,
		validate: validator.New(),
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the caller's token bucket: N attempts per rolling
// window, process-local.
func (h *PortalHandler) limiterFor(ip string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()

	if limiter, exists := h.limiters[ip]; exists {
		return limiter
	}
	attempts := h.config.Portal.RateLimitAttempts
	if attempts <= 0 {
		attempts = 5
	}
	window := h.config.PortalRateWindow()
	if window <= 0 {
		window = time.Minute
	}
	limiter := rate.NewLimiter(rate.Every(window/time.Duration(attempts)), attempts)
	h.limiters[ip] = limiter
	return limiter
}

// clientIP extracts the caller address, honoring the first X-Forwarded-For
// hop when a proxy fronts the service.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.Index(forwarded, ","); i >= 0 {
			forwarded = forwarded[:i]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// VerifyAccessHandler exchanges a link token plus the employee's phone for a
// portal session token. Unknown tokens and wrong phones are both 401 without
// distinguishing detail; revoked or expired links are 403.
// POST /api/public/verify-access {token, phone_number}
func (h *PortalHandler) VerifyAccessHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if !h.limiterFor(clientIP(r)).Allow() {
		WriteError(w, http.StatusTooManyRequests, "too many verification attempts; try again later")
		return
	}

	var req verifyAccessRequest
	if !DecodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "token and phone_number are required")
		return
	}

	request, err := h.storage.UploadAccess().GetByToken(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusUnauthorized, "invalid access token")
			return
		}
		WriteStorageError(w, err)
		return
	}

	now := h.clock.Now()
	if !request.IsUsable(now) {
		WriteError(w, http.StatusForbidden, "this upload link has been revoked or expired")
		return
	}

	// The phone on file belongs to the link's site responsible employee
	// chain; the uploader proves possession of the employee's number.
	employee, err := h.storage.Employees().GetByID(r.Context(), request.BusinessID, request.EmployeeID)
	if err != nil {
		h.logger.Error().Err(err).Str("access_request_id", request.ID).Msg("Loading link employee failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if employee.Phone == nil || !passport.PhonesEqual(*employee.Phone, req.PhoneNumber) {
		h.logger.Warn().
			Str("access_request_id", request.ID).
			Str("ip", clientIP(r)).
			Msg("Portal verification phone mismatch")
		WriteError(w, http.StatusUnauthorized, "phone number does not match this upload link")
		return
	}

	sessionToken, expiresAt, err := h.auth.IssuePortalToken(request)
	if err != nil {
		h.logger.Error().Err(err).Str("access_request_id", request.ID).Msg("Issuing portal token failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.storage.UploadAccess().TouchAccess(r.Context(), request.ID, now); err != nil {
		h.logger.Warn().Err(err).Str("access_request_id", request.ID).Msg("Recording link access failed")
	}

	h.logger.Info().
		Str("access_request_id", request.ID).
		Str("business_id", request.BusinessID).
		Msg("Portal access verified")
	WriteSuccess(w, http.StatusOK, "access verified", map[string]interface{}{
		"session_token":    sessionToken,
		"expires_at":       expiresAt.UTC().Format(time.RFC3339),
		"site_id":          request.SiteID,
		"employee_id":      request.EmployeeID,
		"processing_month": models.FormatMonth(request.ProcessingMonth),
	})
}

// UploadHandler ingests card photos from a verified portal session. The
// card's scope comes from the session claims, never from the form.
// POST /api/public/upload (multipart: files)
func (h *PortalHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal, ok := RequirePrincipal(w, r)
	if !ok {
		return
	}
	if !principal.IsPortal() {
		WriteError(w, http.StatusForbidden, "portal session required")
		return
	}

	// Re-check the link on every upload: revocation must bite mid-session.
	request, err := h.storage.UploadAccess().GetByID(r.Context(), principal.BusinessID, principal.AccessRequestID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusForbidden, "this upload link has been revoked or expired")
			return
		}
		WriteStorageError(w, err)
		return
	}
	if !request.IsUsable(h.clock.Now()) {
		WriteError(w, http.StatusForbidden, "this upload link has been revoked or expired")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	if err := r.ParseMultipartForm(maxUploadMemoryBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
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

	siteID := request.SiteID
	employeeID := request.EmployeeID
	spec := uploadSpec{
		BusinessID: request.BusinessID,
		SiteID:     &siteID,
		EmployeeID: &employeeID,
		Month:      request.ProcessingMonth,
		Source:     models.SourceResponsibleEmployee,
		Mode:       models.JobModeFull,
		UploadedBy: principal.UserID,
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

	if err := h.storage.UploadAccess().TouchAccess(r.Context(), request.ID, h.clock.Now()); err != nil {
		h.logger.Warn().Err(err).Str("access_request_id", request.ID).Msg("Recording link access failed")
	}

	h.logger.Info().
		Str("access_request_id", request.ID).
		Str("business_id", request.BusinessID).
		Int("uploaded", uploaded).
		Int("failed", len(files)-uploaded).
		Msg("Portal upload finished")

	data := map[string]interface{}{
		"results":  results,
		"uploaded": uploaded,
		"failed":   len(files) - uploaded,
	}
	if uploaded == 0 {
		WriteErrorData(w, http.StatusBadRequest, "no files were accepted", data)
		return
	}
	WriteSuccess(w, http.StatusCreated, "portal upload processed", data)
}
