package interfaces

import "time"

// ScheduledJobStatus reports one registered maintenance job.
type ScheduledJobStatus struct {
	Name        string
	Enabled     bool
	Schedule    string
	Description string
	LastRun     *time.Time
	NextRun     *time.Time
	IsRunning   bool
	LastError   string
}

// SchedulerService manages the cron-driven maintenance jobs (expired link
// sweeps, job retention purges, blob GC).
type SchedulerService interface {
	// RegisterJob registers a handler under a cron schedule.
	RegisterJob(name, schedule, description string, handler func() error) error

	// Start begins running registered jobs.
	Start() error

	// Stop halts the scheduler and waits for running jobs.
	Stop() error

	// IsRunning returns true while the scheduler is active.
	IsRunning() bool

	// GetAllJobStatuses returns the status of every registered job.
	GetAllJobStatuses() map[string]*ScheduledJobStatus
}
