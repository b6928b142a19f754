package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// Maintenance job names, also surfaced by the status endpoint.
const (
	JobLinkExpiry = "upload_link_expiry"
	JobQueuePurge = "extraction_job_purge"
	JobBlobGC     = "blob_gc"
)

// RegisterMaintenanceJobs wires the background sweeps onto the scheduler:
// expired upload links are deactivated, old terminal extraction jobs are
// purged, and the blob store value log is compacted.
func RegisterMaintenanceJobs(
	scheduler interfaces.SchedulerService,
	config *common.Config,
	storage interfaces.StorageManager,
	clock interfaces.Clock,
	logger arbor.ILogger,
) error {
	if err := scheduler.RegisterJob(
		JobLinkExpiry,
		config.Maintenance.LinkExpirySchedule,
		"Deactivate expired upload access links",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			count, err := storage.UploadAccess().DeactivateExpired(ctx, clock.Now())
			if err != nil {
				return fmt.Errorf("deactivating expired links: %w", err)
			}
			if count > 0 {
				logger.Info().Int64("count", count).Msg("Expired upload links deactivated")
			}
			return nil
		},
	); err != nil {
		return err
	}

	if err := scheduler.RegisterJob(
		JobQueuePurge,
		config.Maintenance.JobPurgeSchedule,
		"Purge old terminal extraction jobs",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			cutoff := clock.Now().AddDate(0, 0, -config.Maintenance.JobRetentionDays)
			count, err := storage.Jobs().PurgeTerminalBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("purging terminal jobs: %w", err)
			}
			if count > 0 {
				logger.Info().
					Int64("count", count).
					Str("cutoff", cutoff.Format(time.RFC3339)).
					Msg("Terminal extraction jobs purged")
			}
			return nil
		},
	); err != nil {
		return err
	}

	if err := scheduler.RegisterJob(
		JobBlobGC,
		config.Maintenance.BlobGCSchedule,
		"Garbage collect the card image store",
		func() error {
			return storage.Images().RunGC()
		},
	); err != nil {
		return err
	}

	return nil
}
