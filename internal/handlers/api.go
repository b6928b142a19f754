package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
)

// WorkerLiveness reports whether the extraction worker pool is polling. The
// health endpoint surfaces it so a deploy with a dead pool fails its probe.
type WorkerLiveness interface {
	IsRunning() bool
}

// APIHandler serves the system endpoints: version, health and status.
type APIHandler struct {
	storage   interfaces.StorageManager
	worker    WorkerLiveness
	scheduler interfaces.SchedulerService
	config    *common.Config
	startedAt time.Time
	logger    arbor.ILogger
}

// NewAPIHandler creates the system endpoint handler.
func NewAPIHandler(storage interfaces.StorageManager, worker WorkerLiveness, scheduler interfaces.SchedulerService, config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage:   storage,
		worker:    worker,
		scheduler: scheduler,
		config:    config,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// VersionHandler returns build metadata.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, http.StatusOK, "version", map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler probes the relational store, the blob store and the worker
// pool. Any failed check turns the response into a 503.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := map[string]string{
		"database": "up",
		"blobs":    "up",
		"worker":   "running",
	}

	if err := h.storage.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Health check: database ping failed")
		checks["database"] = "down"
		healthy = false
	}

	// Reading a key that cannot exist proves the blob store answers;
	// ErrNotFound is the healthy outcome.
	if _, err := h.storage.Images().Get(ctx, "health-probe"); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		h.logger.Warn().Err(err).Msg("Health check: blob store probe failed")
		checks["blobs"] = "down"
		healthy = false
	}

	if h.worker == nil || !h.worker.IsRunning() {
		checks["worker"] = "stopped"
		healthy = false
	}

	status := http.StatusOK
	message := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		message = "unhealthy"
	}
	WriteJSON(w, status, Response{
		Success: healthy,
		Message: message,
		Data:    checks,
	})
}

// StatusHandler reports runtime state: uptime, environment and the
// maintenance job registry.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	type jobStatus struct {
		Name      string     `json:"name"`
		Schedule  string     `json:"schedule"`
		IsRunning bool       `json:"is_running"`
		LastRun   *time.Time `json:"last_run,omitempty"`
		NextRun   *time.Time `json:"next_run,omitempty"`
		LastError string     `json:"last_error,omitempty"`
	}

	jobs := make([]jobStatus, 0)
	schedulerRunning := false
	if h.scheduler != nil {
		schedulerRunning = h.scheduler.IsRunning()
		for _, status := range h.scheduler.GetAllJobStatuses() {
			jobs = append(jobs, jobStatus{
				Name:      status.Name,
				Schedule:  status.Schedule,
				IsRunning: status.IsRunning,
				LastRun:   status.LastRun,
				NextRun:   status.NextRun,
				LastError: status.LastError,
			})
		}
	}

	WriteSuccess(w, http.StatusOK, "status", map[string]interface{}{
		"environment":       h.config.Environment,
		"version":           common.GetVersion(),
		"uptime_seconds":    int(time.Since(h.startedAt).Seconds()),
		"worker_running":    h.worker != nil && h.worker.IsRunning(),
		"scheduler_running": schedulerRunning,
		"maintenance_jobs":  jobs,
	})
}

// NotFoundHandler answers unmatched API routes.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "endpoint not found")
}
