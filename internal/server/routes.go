package server

import (
	"net/http"
	"strings"

	"github.com/kardex-io/kardex/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Public system routes
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/status", s.app.APIHandler.StatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// Public portal routes. Verification carries its own per-IP rate limit;
	// upload requires the portal session token verification mints.
	mux.HandleFunc("/api/public/verify-access", s.app.PortalHandler.VerifyAccessHandler)
	mux.HandleFunc("/api/public/upload", s.requirePortal(s.app.PortalHandler.UploadHandler))

	// API routes - Businesses
	mux.HandleFunc("/api/businesses", s.requireAuth(s.handleBusinessesRoute))
	mux.HandleFunc("/api/businesses/", s.requireAuth(s.handleBusinessRoutes)) // GET/PUT /{id}, GET /{id}/dashboard

	// API routes - Sites
	mux.HandleFunc("/api/sites", s.requireAuth(s.handleSitesRoute))
	mux.HandleFunc("/api/sites/", s.requireAuth(s.handleSiteRoutes)) // GET/PUT /{id}, GET /{id}/matrix

	// API routes - Employees
	mux.HandleFunc("/api/employees", s.requireAuth(s.handleEmployeesRoute))
	mux.HandleFunc("/api/employees/", s.requireAuth(s.handleEmployeeRoutes)) // GET/PUT /{id}

	// API routes - Work cards (upload, review, day entries)
	mux.HandleFunc("/api/work_cards", s.requireAuth(s.handleWorkCardsRoute))
	mux.HandleFunc("/api/work_cards/", s.requireAuth(s.handleWorkCardRoutes)) // /{id} and subpaths

	// API routes - Extraction jobs
	mux.HandleFunc("/api/extraction_jobs", s.requireAuth(s.handleJobsRoute))
	mux.HandleFunc("/api/extraction_jobs/", s.requireAuth(s.handleJobRoutes)) // GET /{id}, POST /{id}/requeue

	// API routes - Upload access links
	mux.HandleFunc("/api/upload_access", s.requireAuth(s.handleUploadAccessRoute))
	mux.HandleFunc("/api/upload_access/", s.requireAuth(s.handleUploadAccessRoutes)) // POST /{id}/revoke

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleBusinessesRoute routes /api/businesses requests (list and create)
func (s *Server) handleBusinessesRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.BusinessHandler.ListHandler, s.app.BusinessHandler.CreateHandler)
}

// handleBusinessRoutes routes /api/businesses/{id} requests and the dashboard subpath
func (s *Server) handleBusinessRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) <= len("/api/businesses/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	// GET /api/businesses/{id}/dashboard
	if strings.HasSuffix(path, "/dashboard") {
		if r.Method != "GET" {
			handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.app.BusinessHandler.DashboardHandler(w, r)
		return
	}

	RouteResourceItem(w, r, s.app.BusinessHandler.GetHandler, s.app.BusinessHandler.UpdateHandler)
}

// handleSitesRoute routes /api/sites requests (list and create)
func (s *Server) handleSitesRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.SiteHandler.ListHandler, s.app.SiteHandler.CreateHandler)
}

// handleSiteRoutes routes /api/sites/{id} requests and the matrix subpath
func (s *Server) handleSiteRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) <= len("/api/sites/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	// GET /api/sites/{id}/matrix
	if strings.HasSuffix(path, "/matrix") {
		if r.Method != "GET" {
			handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.app.SiteHandler.MatrixHandler(w, r)
		return
	}

	RouteResourceItem(w, r, s.app.SiteHandler.GetHandler, s.app.SiteHandler.UpdateHandler)
}

// handleEmployeesRoute routes /api/employees requests (list and create)
func (s *Server) handleEmployeesRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.EmployeeHandler.ListHandler, s.app.EmployeeHandler.CreateHandler)
}

// handleEmployeeRoutes routes /api/employees/{id} requests
func (s *Server) handleEmployeeRoutes(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) <= len("/api/employees/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}
	RouteResourceItem(w, r, s.app.EmployeeHandler.GetHandler, s.app.EmployeeHandler.UpdateHandler)
}

// handleWorkCardsRoute routes /api/work_cards requests (list only; creation
// goes through the upload subpaths)
func (s *Server) handleWorkCardsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.WorkCardHandler.ListHandler, nil)
}

// handleWorkCardRoutes routes /api/work_cards/{id} requests and subpaths
func (s *Server) handleWorkCardRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) <= len("/api/work_cards/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	// POST /api/work_cards/upload/single and /api/work_cards/upload/batch
	if strings.HasPrefix(path, "/api/work_cards/upload/") {
		if r.Method != "POST" {
			handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch path {
		case "/api/work_cards/upload/single":
			s.app.WorkCardHandler.UploadHandler(w, r)
		case "/api/work_cards/upload/batch":
			s.app.WorkCardHandler.UploadBatchHandler(w, r)
		default:
			handlers.WriteError(w, http.StatusNotFound, "resource not found")
		}
		return
	}

	// POST /api/work_cards/{id}/approve, /assign, /reject
	if r.Method == "POST" {
		matched := RouteByPathSuffix(w, r, "/api/work_cards/", []PathSuffixRouter{
			{Suffix: "/approve", Handler: s.app.WorkCardHandler.ApproveHandler},
			{Suffix: "/assign", Handler: s.app.WorkCardHandler.AssignHandler},
			{Suffix: "/reject", Handler: s.app.WorkCardHandler.RejectHandler},
		})
		if !matched {
			handlers.WriteError(w, http.StatusNotFound, "resource not found")
		}
		return
	}

	// GET/PUT /api/work_cards/{id}/day-entries
	if strings.HasSuffix(path, "/day-entries") {
		s.app.WorkCardHandler.DayEntriesHandler(w, r)
		return
	}

	// GET /api/work_cards/{id}/image (raw bytes, not enveloped)
	if strings.HasSuffix(path, "/image") {
		if r.Method != "GET" {
			handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.app.WorkCardHandler.ImageHandler(w, r)
		return
	}

	// GET /api/work_cards/{id}
	if r.Method == "GET" {
		s.app.WorkCardHandler.DetailHandler(w, r)
		return
	}

	handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleJobsRoute routes /api/extraction_jobs requests (list only; jobs are
// created by uploads and retried through requeue)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListHandler, nil)
}

// handleJobRoutes routes /api/extraction_jobs/{id} requests and the requeue subpath
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) <= len("/api/extraction_jobs/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	// POST /api/extraction_jobs/{id}/requeue
	if r.Method == "POST" && strings.HasSuffix(path, "/requeue") {
		s.app.JobHandler.RequeueHandler(w, r)
		return
	}

	// GET /api/extraction_jobs/{id}
	if r.Method == "GET" {
		s.app.JobHandler.GetHandler(w, r)
		return
	}

	handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleUploadAccessRoute routes /api/upload_access requests (list and create)
func (s *Server) handleUploadAccessRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.UploadAccessHandler.ListHandler, s.app.UploadAccessHandler.CreateHandler)
}

// handleUploadAccessRoutes routes /api/upload_access/{id}/revoke
func (s *Server) handleUploadAccessRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if len(path) <= len("/api/upload_access/") {
		handlers.WriteError(w, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method == "POST" && strings.HasSuffix(path, "/revoke") {
		s.app.UploadAccessHandler.RevokeHandler(w, r)
		return
	}

	handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
