package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// Response is the envelope every endpoint answers with. Success mirrors the
// status class; Error is only set on failures; Meta carries pagination.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// PageMeta is the pagination block attached to list responses.
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPageMeta builds pagination metadata from a page window and total count.
func NewPageMeta(page, pageSize, totalItems int) PageMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}
	return PageMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
	}
}

// WriteJSON writes a JSON response with the specified status code.
func WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(payload)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) error {
	return WriteJSON(w, statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// WriteList writes a success envelope with pagination metadata.
func WriteList(w http.ResponseWriter, message string, data interface{}, meta PageMeta) error {
	return WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, Response{
		Success: false,
		Message: message,
		Error:   message,
	})
}

// WriteErrorData writes an error envelope carrying a structured payload. The
// 409 conflict responses use this to report the contested days.
func WriteErrorData(w http.ResponseWriter, statusCode int, message string, data interface{}) error {
	return WriteJSON(w, statusCode, Response{
		Success: false,
		Message: message,
		Error:   message,
		Data:    data,
	})
}

// WriteStorageError maps the storage sentinels onto the response taxonomy.
// Unknown errors become a generic 500; the detail stays in the server log.
func WriteStorageError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return WriteError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, interfaces.ErrDuplicate):
		return WriteError(w, http.StatusConflict, "duplicate value violates a unique constraint")
	default:
		return WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// RequireMethod validates the HTTP method, writing 405 on mismatch.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// DecodeBody decodes a JSON request body into dst, writing 400 on failure.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// GetPaginationParams extracts page (0-indexed) and pageSize (default 20,
// max 100) from the query string.
func GetPaginationParams(r *http.Request) (page, pageSize int) {
	page = 0
	pageSize = 20

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p >= 0 {
			page = p
		}
	}
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return page, pageSize
}

// PathSegments splits the request path after a prefix into its segments.
// "/api/work_cards/card_1/approve" with prefix "/api/work_cards/" yields
// ["card_1", "approve"].
func PathSegments(r *http.Request, prefix string) []string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// QueryBool reads a boolean query parameter; absent or unparseable is false.
func QueryBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// QueryMonth parses a processing-month query parameter. The second return is
// false when the parameter is absent.
func QueryMonth(r *http.Request, name string) (time.Time, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false, nil
	}
	month, err := models.ParseMonth(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return month, true, nil
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal attaches a verified principal to the request context. The
// auth middleware is the only writer.
func WithPrincipal(ctx context.Context, principal *models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFrom returns the request principal, nil when the route ran
// without authentication.
func PrincipalFrom(r *http.Request) *models.Principal {
	principal, _ := r.Context().Value(principalContextKey).(*models.Principal)
	return principal
}

// RequirePrincipal fetches the principal, writing 401 when the middleware
// did not set one.
func RequirePrincipal(w http.ResponseWriter, r *http.Request) (*models.Principal, bool) {
	principal := PrincipalFrom(r)
	if principal == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return principal, true
}
