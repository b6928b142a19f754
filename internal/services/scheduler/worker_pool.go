// Package scheduler runs the persistent extraction queue: a pool of workers
// that poll for PENDING jobs, claim them with a conditional lease update and
// hand them to the card processor. Stale leases left by crashed workers are
// swept back to PENDING (or FAILED past the attempt cap) before each claim
// round. The lease columns are the only cross-worker synchronization.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// claimBatchSize bounds how many PENDING jobs one poll inspects. Losing a
// claim race just moves a worker to the next row.
const claimBatchSize = 5

// WorkerPool drives the extraction queue.
type WorkerPool struct {
	jobs      interfaces.JobStorage
	processor interfaces.CardProcessor
	events    interfaces.EventService
	clock     interfaces.Clock
	logger    arbor.ILogger

	pollInterval   time.Duration
	concurrency    int
	maxAttempts    int
	staleThreshold time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// WorkerPoolConfig carries the queue tuning knobs.
type WorkerPoolConfig struct {
	PollInterval   time.Duration
	Concurrency    int
	MaxAttempts    int
	StaleThreshold time.Duration
}

// NewWorkerPool creates a stopped worker pool.
func NewWorkerPool(cfg WorkerPoolConfig, jobs interfaces.JobStorage, processor interfaces.CardProcessor, events interfaces.EventService, clock interfaces.Clock, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 30 * time.Minute
	}
	return &WorkerPool{
		jobs:           jobs,
		processor:      processor,
		events:         events,
		clock:          clock,
		logger:         logger,
		pollInterval:   cfg.PollInterval,
		concurrency:    cfg.Concurrency,
		maxAttempts:    cfg.MaxAttempts,
		staleThreshold: cfg.StaleThreshold,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the worker goroutines. Starts are staggered across the poll
// interval to spread database contention.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return fmt.Errorf("worker pool already running")
	}
	wp.running = true
	wp.mu.Unlock()

	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Dur("stale_threshold", wp.staleThreshold).
		Int("max_attempts", wp.maxAttempts).
		Msg("Starting extraction worker pool")

	for i := 0; i < wp.concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to hand back.
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.mu.Unlock()

	wp.logger.Info().Msg("Stopping extraction worker pool")
	wp.cancel()
	wp.wg.Wait()
	return nil
}

// IsRunning reports worker liveness for the health endpoint.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.running
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger starts across the poll interval to reduce lock contention.
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	owner := wp.leaseOwner(workerID)
	wp.logger.Debug().
		Int("worker_id", workerID).
		Str("lease_owner", owner).
		Msg("Extraction worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Extraction worker stopped")
			return
		case <-ticker.C:
			wp.sweepStale(wp.ctx)
			if err := wp.claimAndProcess(wp.ctx, owner); err != nil {
				msg := err.Error()
				if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
					wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Worker poll failed")
				}
			}
		}
	}
}

// sweepStale requeues or fails jobs whose lease outlived the threshold. The
// reset and fail writes are compare-and-swap on the observed lease timestamp,
// so concurrent sweepers cannot double-apply.
func (wp *WorkerPool) sweepStale(ctx context.Context) {
	now := wp.clock.Now()
	stale, err := wp.jobs.StaleJobs(ctx, now.Add(-wp.staleThreshold))
	if err != nil {
		wp.logger.Warn().Err(err).Msg("Stale job sweep query failed")
		return
	}

	for _, job := range stale {
		if job.LeaseAcquiredAt == nil {
			continue
		}
		if job.Attempts >= wp.maxAttempts {
			applied, err := wp.jobs.FailStale(ctx, job.ID, *job.LeaseAcquiredAt, "max attempts exceeded")
			if err != nil {
				wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failing stale job failed")
				continue
			}
			if applied {
				wp.logger.Warn().
					Str("job_id", job.ID).
					Int("attempts", job.Attempts).
					Msg("Stale job failed permanently")
				wp.publish(ctx, interfaces.EventJobFailed, job.ID, job.WorkCardID, string(models.JobStatusFailed), job.Attempts)
			}
			continue
		}

		applied, err := wp.jobs.ResetStale(ctx, job.ID, *job.LeaseAcquiredAt)
		if err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Resetting stale job failed")
			continue
		}
		if applied {
			wp.logger.Info().
				Str("job_id", job.ID).
				Str("lease_owner", stringOrEmpty(job.LeaseOwner)).
				Int("attempts", job.Attempts).
				Msg("Stale job lease recovered, requeued")
			wp.publish(ctx, interfaces.EventJobRequeued, job.ID, job.WorkCardID, string(models.JobStatusPending), job.Attempts)
		}
	}
}

// claimAndProcess polls for PENDING work and runs the first job this worker
// wins. Claim losses are not errors; the row simply belongs to someone else.
func (wp *WorkerPool) claimAndProcess(ctx context.Context, owner string) error {
	pending, err := wp.jobs.NextPending(ctx, claimBatchSize)
	if err != nil {
		return fmt.Errorf("polling pending jobs: %w", err)
	}

	for _, job := range pending {
		now := wp.clock.Now()
		won, err := wp.jobs.Claim(ctx, job.ID, owner, now)
		if err != nil {
			return fmt.Errorf("claiming job %s: %w", job.ID, err)
		}
		if !won {
			continue
		}

		job.LeaseOwner = &owner
		job.LeaseAcquiredAt = &now
		wp.logger.Debug().
			Str("job_id", job.ID).
			Str("work_card_id", job.WorkCardID).
			Str("lease_owner", owner).
			Msg("Claimed extraction job")
		wp.publish(ctx, interfaces.EventJobClaimed, job.ID, job.WorkCardID, string(models.JobStatusRunning), job.Attempts+1)

		if err := wp.processor.Process(ctx, job); err != nil {
			// Transient failure: the lease stays held and the stale sweep
			// requeues the job once it ages out.
			wp.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Job processing hit a transient error, leaving lease for recovery")
		}
		return nil
	}
	return nil
}

func (wp *WorkerPool) leaseOwner(workerID int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kardex"
	}
	return fmt.Sprintf("%s:%d:w%d", host, os.Getpid(), workerID)
}

func (wp *WorkerPool) publish(ctx context.Context, eventType interfaces.EventType, jobID, cardID, status string, attempts int) {
	if wp.events == nil {
		return
	}
	event := interfaces.Event{
		Type: eventType,
		Payload: map[string]interface{}{
			"job_id":       jobID,
			"work_card_id": cardID,
			"status":       status,
			"attempts":     attempts,
		},
	}
	if err := wp.events.Publish(ctx, event); err != nil {
		wp.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish job event")
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
