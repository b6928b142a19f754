package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// JobStorage implements interfaces.JobStorage. The claim and the stale
// transitions are single conditional UPDATEs; SQLite's write serialization
// makes the affected-row count the race verdict.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewJobStorage creates a job storage instance.
func NewJobStorage(db *DB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

const jobColumns = "id, work_card_id, status, attempts, lease_owner, lease_acquired_at, started_at, finished_at, mode, extracted_employee_name, extracted_passport_id, raw_result, normalized_result, matched_employee_id, match_method, match_confidence, model_name, pipeline_version, last_error, created_at, updated_at"

// prefixedJobColumns qualifies jobColumns with a table alias for joins.
func prefixedJobColumns(alias string) string {
	return alias + "." + strings.ReplaceAll(jobColumns, ", ", ", "+alias+".")
}

func insertJob(ctx context.Context, ex execer, job *models.ExtractionJob) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO extraction_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkCardID, string(job.Status), job.Attempts,
		nullString(job.LeaseOwner), nullUnix(job.LeaseAcquiredAt),
		nullUnix(job.StartedAt), nullUnix(job.FinishedAt), string(job.Mode),
		nullString(job.ExtractedEmployeeName), nullString(job.ExtractedPassportID),
		job.RawResult, job.NormalizedResult,
		nullString(job.MatchedEmployeeID), nullString(job.MatchMethod), nullFloat(job.MatchConfidence),
		nullString(job.ModelName), nullString(job.PipelineVersion), nullString(job.LastError),
		job.CreatedAt.Unix(), job.UpdatedAt.Unix(),
	)
	return mapConstraintErr(err)
}

func (s *JobStorage) Create(ctx context.Context, job *models.ExtractionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := insertJob(ctx, s.db.db, job); err != nil {
		return fmt.Errorf("creating extraction job: %w", err)
	}
	return nil
}

func (s *JobStorage) Update(ctx context.Context, job *models.ExtractionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE extraction_jobs
		 SET status = ?, attempts = ?, lease_owner = ?, lease_acquired_at = ?,
		     started_at = ?, finished_at = ?, mode = ?,
		     extracted_employee_name = ?, extracted_passport_id = ?,
		     raw_result = ?, normalized_result = ?,
		     matched_employee_id = ?, match_method = ?, match_confidence = ?,
		     model_name = ?, pipeline_version = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Attempts,
		nullString(job.LeaseOwner), nullUnix(job.LeaseAcquiredAt),
		nullUnix(job.StartedAt), nullUnix(job.FinishedAt), string(job.Mode),
		nullString(job.ExtractedEmployeeName), nullString(job.ExtractedPassportID),
		job.RawResult, job.NormalizedResult,
		nullString(job.MatchedEmployeeID), nullString(job.MatchMethod), nullFloat(job.MatchConfidence),
		nullString(job.ModelName), nullString(job.PipelineVersion), nullString(job.LastError),
		job.UpdatedAt.Unix(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating extraction job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *JobStorage) GetByID(ctx context.Context, id string) (*models.ExtractionJob, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *JobStorage) GetByCardID(ctx context.Context, workCardID string) (*models.ExtractionJob, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE work_card_id = ?`, workCardID)
	return scanJob(row)
}

func (s *JobStorage) NextPending(ctx context.Context, limit int) ([]*models.ExtractionJob, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
		 WHERE status = ? AND lease_owner IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		string(models.JobStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Claim sets the lease where none is held. The affected-row count is the
// race verdict: 1 means this owner won, 0 means another worker got there
// first (or the job left PENDING).
func (s *JobStorage) Claim(ctx context.Context, id, owner string, at time.Time) (bool, error) {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE extraction_jobs
		 SET lease_owner = ?, lease_acquired_at = ?, updated_at = ?
		 WHERE id = ? AND lease_owner IS NULL AND status = ?`,
		owner, at.UTC().Unix(), at.UTC().Unix(), id, string(models.JobStatusPending))
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *JobStorage) StaleJobs(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
		 WHERE status IN (?, ?) AND lease_acquired_at IS NOT NULL AND lease_acquired_at < ?
		 ORDER BY lease_acquired_at ASC`,
		string(models.JobStatusPending), string(models.JobStatusRunning), cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ResetStale requeues a stale job. The compare-and-swap on the observed
// lease timestamp keeps a concurrent sweeper from clobbering a lease that
// was re-acquired between observation and reset.
func (s *JobStorage) ResetStale(ctx context.Context, id string, leaseAcquiredAt time.Time) (bool, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE extraction_jobs
		 SET status = ?, lease_owner = NULL, lease_acquired_at = NULL,
		     started_at = NULL, finished_at = NULL, updated_at = ?
		 WHERE id = ? AND lease_acquired_at = ?`,
		string(models.JobStatusPending), now, id, leaseAcquiredAt.UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("resetting stale job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// FailStale marks a stale job FAILED, guarded the same way as ResetStale.
func (s *JobStorage) FailStale(ctx context.Context, id string, leaseAcquiredAt time.Time, errMsg string) (bool, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE extraction_jobs
		 SET status = ?, lease_owner = NULL, lease_acquired_at = NULL,
		     finished_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND lease_acquired_at = ?`,
		string(models.JobStatusFailed), now, errMsg, now, id, leaseAcquiredAt.UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("failing stale job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *JobStorage) List(ctx context.Context, businessID string, status *models.JobStatus, limit, offset int) ([]*models.ExtractionJob, int, error) {
	if businessID == "" {
		return nil, 0, interfaces.ErrMissingBusiness
	}
	where := ` WHERE c.business_id = ?`
	args := []interface{}{businessID}
	if status != nil {
		where += ` AND j.status = ?`
		args = append(args, string(*status))
	}
	from := ` FROM extraction_jobs j JOIN work_cards c ON c.id = j.work_card_id`

	var total int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	query := `SELECT ` + prefixedJobColumns("j") + from + where + ` ORDER BY j.created_at DESC, j.id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *JobStorage) CountForBusiness(ctx context.Context, businessID string, month time.Time) (map[models.JobStatus]int, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT j.status, COUNT(*)
		 FROM extraction_jobs j
		 JOIN work_cards c ON c.id = j.work_card_id
		 WHERE c.business_id = ? AND c.processing_month = ?
		 GROUP BY j.status`,
		businessID, models.FormatMonth(month))
	if err != nil {
		return nil, fmt.Errorf("counting jobs for business: %w", err)
	}
	defer rows.Close()

	out := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		out[models.JobStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *JobStorage) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM extraction_jobs
		 WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		string(models.JobStatusDone), string(models.JobStatusFailed), cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

func collectJobs(rows *sql.Rows) ([]*models.ExtractionJob, error) {
	var out []*models.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*models.ExtractionJob, error) {
	var j models.ExtractionJob
	var status, mode string
	var leaseOwner, extractedName, extractedPassport sql.NullString
	var matchedEmployee, matchMethod, modelName, pipelineVersion, lastError sql.NullString
	var leaseAt, startedAt, finishedAt sql.NullInt64
	var matchConfidence sql.NullFloat64
	var createdAt, updatedAt int64

	err := row.Scan(&j.ID, &j.WorkCardID, &status, &j.Attempts,
		&leaseOwner, &leaseAt, &startedAt, &finishedAt, &mode,
		&extractedName, &extractedPassport, &j.RawResult, &j.NormalizedResult,
		&matchedEmployee, &matchMethod, &matchConfidence,
		&modelName, &pipelineVersion, &lastError, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning extraction job: %w", err)
	}

	j.Status = models.JobStatus(status)
	j.Mode = models.JobMode(mode)
	j.LeaseOwner = stringPtr(leaseOwner)
	j.LeaseAcquiredAt = timePtr(leaseAt)
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	j.ExtractedEmployeeName = stringPtr(extractedName)
	j.ExtractedPassportID = stringPtr(extractedPassport)
	j.MatchedEmployeeID = stringPtr(matchedEmployee)
	j.MatchMethod = stringPtr(matchMethod)
	j.MatchConfidence = floatPtr(matchConfidence)
	j.ModelName = stringPtr(modelName)
	j.PipelineVersion = stringPtr(pipelineVersion)
	j.LastError = stringPtr(lastError)
	j.CreatedAt = unixToTime(createdAt)
	j.UpdatedAt = unixToTime(updatedAt)
	return &j, nil
}
