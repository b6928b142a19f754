package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

var testMonth = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(arbor.NewLogger(), &common.DatabaseConfig{
		URL:           filepath.Join(t.TempDir(), "kardex.db"),
		CacheSizeMB:   16,
		BusyTimeoutMS: 1000,
		WALMode:       true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedCard inserts the tenant and a work card so job rows satisfy their
// foreign keys. Tenants are created on first use and shared after that.
func seedCard(t *testing.T, db *DB, businessID, cardID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Unix()
	_, err := db.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO businesses (id, name, code, active, created_at, updated_at)
		 VALUES (?, ?, '', 1, ?, ?)`,
		businessID, "Tenant "+businessID, now, now)
	if err != nil {
		t.Fatalf("Failed to seed business: %v", err)
	}
	card := models.NewWorkCard(cardID, businessID, nil, nil, testMonth,
		models.SourceAdminSingle, cardID+".jpg", "image/jpeg", 2048)
	if err := insertCard(ctx, db.db, card); err != nil {
		t.Fatalf("Failed to seed work card: %v", err)
	}
}

func seedJob(t *testing.T, storage interfaces.JobStorage, id, cardID string, createdAt time.Time) *models.ExtractionJob {
	t.Helper()
	job := models.NewExtractionJob(id, cardID, models.JobModeFull)
	job.CreatedAt = createdAt.UTC()
	job.UpdatedAt = createdAt.UTC()
	if err := storage.Create(context.Background(), job); err != nil {
		t.Fatalf("Failed to create job %s: %v", id, err)
	}
	return job
}

func TestClaimSingleWinner(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedJob(t, storage, "job_1", "card_1", time.Now())

	at := time.Now().UTC()

	// 1. First worker takes the lease.
	won, err := storage.Claim(ctx, "job_1", "worker-a", at)
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	if !won {
		t.Fatal("Expected first claim to win the lease")
	}

	// 2. Second worker must lose while the lease is held.
	won, err = storage.Claim(ctx, "job_1", "worker-b", at.Add(time.Second))
	if err != nil {
		t.Fatalf("Second claim errored: %v", err)
	}
	if won {
		t.Error("Expected second claim to lose")
	}

	// 3. The row carries the winner, not the latecomer.
	job, err := storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.LeaseOwner == nil || *job.LeaseOwner != "worker-a" {
		t.Errorf("Expected lease owner worker-a, got %v", job.LeaseOwner)
	}
	if job.LeaseAcquiredAt == nil || job.LeaseAcquiredAt.Unix() != at.Unix() {
		t.Errorf("Expected lease acquired at %d, got %v", at.Unix(), job.LeaseAcquiredAt)
	}
}

func TestClaimRefusesTerminalJob(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	job := seedJob(t, storage, "job_1", "card_1", time.Now())

	job.MarkDone(time.Now())
	if err := storage.Update(ctx, job); err != nil {
		t.Fatalf("Failed to mark job done: %v", err)
	}

	won, err := storage.Claim(ctx, "job_1", "worker-a", time.Now())
	if err != nil {
		t.Fatalf("Claim errored: %v", err)
	}
	if won {
		t.Error("Expected claim of a DONE job to be refused")
	}
}

func TestNextPendingSkipsLeasedJobs(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	seedCard(t, db, "biz_1", "card_1")
	seedCard(t, db, "biz_1", "card_2")
	seedCard(t, db, "biz_1", "card_3")
	seedJob(t, storage, "job_1", "card_1", base)
	seedJob(t, storage, "job_2", "card_2", base.Add(10*time.Second))
	seedJob(t, storage, "job_3", "card_3", base.Add(20*time.Second))

	// 1. Oldest first.
	jobs, err := storage.NextPending(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list pending jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 pending jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job_1" || jobs[1].ID != "job_2" || jobs[2].ID != "job_3" {
		t.Errorf("Expected oldest-first order, got %s, %s, %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}

	// 2. A leased job drops out of the feed even while still PENDING.
	if _, err := storage.Claim(ctx, "job_1", "worker-a", time.Now()); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	jobs, err = storage.NextPending(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list pending jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 claimable jobs after lease, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.ID == "job_1" {
			t.Error("Expected leased job to be excluded from the pending feed")
		}
	}

	// 3. The limit caps the batch.
	jobs, err = storage.NextPending(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list pending jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job_2" {
		t.Fatalf("Expected the single oldest claimable job, got %d jobs", len(jobs))
	}
}

func TestResetStaleRequiresObservedLease(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedJob(t, storage, "job_1", "card_1", time.Now().Add(-time.Hour))

	// 1. A worker claims the job, marks it running, then crashes.
	leaseAt := time.Now().Add(-30 * time.Minute).UTC()
	won, err := storage.Claim(ctx, "job_1", "worker-a", leaseAt)
	if err != nil || !won {
		t.Fatalf("Failed to claim job (won=%v): %v", won, err)
	}
	job, err := storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	job.MarkRunning(leaseAt)
	if err := storage.Update(ctx, job); err != nil {
		t.Fatalf("Failed to mark job running: %v", err)
	}

	// 2. The sweeper sees it once the lease passes the cutoff.
	stale, err := storage.StaleJobs(ctx, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("Failed to list stale jobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "job_1" {
		t.Fatalf("Expected job_1 in the stale set, got %d jobs", len(stale))
	}
	observed := stale[0].LeaseAcquiredAt

	// 3. A reset with a mismatched lease timestamp must not fire: someone
	// re-acquired between observation and reset.
	reset, err := storage.ResetStale(ctx, "job_1", observed.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ResetStale errored: %v", err)
	}
	if reset {
		t.Error("Expected reset with a mismatched lease timestamp to be refused")
	}

	// 4. The reset with the observed timestamp requeues the job.
	reset, err = storage.ResetStale(ctx, "job_1", *observed)
	if err != nil {
		t.Fatalf("ResetStale errored: %v", err)
	}
	if !reset {
		t.Fatal("Expected reset with the observed lease timestamp to succeed")
	}

	job, err = storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("Expected status PENDING after reset, got %s", job.Status)
	}
	if job.LeaseOwner != nil || job.LeaseAcquiredAt != nil || job.StartedAt != nil {
		t.Error("Expected lease and start fields cleared after reset")
	}
	if job.Attempts != 1 {
		t.Errorf("Expected attempts preserved at 1, got %d", job.Attempts)
	}
}

func TestFailStaleRecordsTerminalFailure(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedJob(t, storage, "job_1", "card_1", time.Now().Add(-time.Hour))

	leaseAt := time.Now().Add(-45 * time.Minute).UTC()
	won, err := storage.Claim(ctx, "job_1", "worker-a", leaseAt)
	if err != nil || !won {
		t.Fatalf("Failed to claim job (won=%v): %v", won, err)
	}
	job, err := storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	job.MarkRunning(leaseAt)
	if err := storage.Update(ctx, job); err != nil {
		t.Fatalf("Failed to mark job running: %v", err)
	}

	failed, err := storage.FailStale(ctx, "job_1", leaseAt, "lease expired after 3 attempts")
	if err != nil {
		t.Fatalf("FailStale errored: %v", err)
	}
	if !failed {
		t.Fatal("Expected FailStale with the held lease timestamp to succeed")
	}

	job, err = storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected status FAILED, got %s", job.Status)
	}
	if job.LastError == nil || *job.LastError != "lease expired after 3 attempts" {
		t.Errorf("Expected the failure message recorded, got %v", job.LastError)
	}
	if job.FinishedAt == nil {
		t.Error("Expected finished_at stamped")
	}
	if job.LeaseOwner != nil || job.LeaseAcquiredAt != nil {
		t.Error("Expected lease released on terminal failure")
	}
}

func TestJobLifecycleWriteback(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedJob(t, storage, "job_1", "card_1", time.Now())

	// 1. Claim and transition to RUNNING the way the worker does.
	at := time.Now().UTC()
	won, err := storage.Claim(ctx, "job_1", "worker-a", at)
	if err != nil || !won {
		t.Fatalf("Failed to claim job (won=%v): %v", won, err)
	}
	job, err := storage.GetByID(ctx, "job_1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	job.MarkRunning(at)
	if err := storage.Update(ctx, job); err != nil {
		t.Fatalf("Failed to mark job running: %v", err)
	}

	// 2. Write the extraction outcome back and finish.
	name := "ANNA KOVACS"
	passport := "AB1234567"
	employee := "emp_9"
	method := "passport"
	confidence := 0.97
	model := "claude-sonnet-4-20250514"
	job.ExtractedEmployeeName = &name
	job.ExtractedPassportID = &passport
	job.MatchedEmployeeID = &employee
	job.MatchMethod = &method
	job.MatchConfidence = &confidence
	job.ModelName = &model
	job.RawResult = `{"days":[{"day":3,"total_hours":8}]}`
	job.NormalizedResult = `{"days":[{"day":3,"total_hours":8}]}`
	job.MarkDone(at.Add(2 * time.Second))
	if err := storage.Update(ctx, job); err != nil {
		t.Fatalf("Failed to finish job: %v", err)
	}

	// 3. The card lookup sees the terminal row with the outcome attached.
	got, err := storage.GetByCardID(ctx, "card_1")
	if err != nil {
		t.Fatalf("Failed to get job by card: %v", err)
	}
	if got.Status != models.JobStatusDone {
		t.Errorf("Expected status DONE, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", got.Attempts)
	}
	if got.ExtractedPassportID == nil || *got.ExtractedPassportID != passport {
		t.Errorf("Expected extracted passport %s, got %v", passport, got.ExtractedPassportID)
	}
	if got.MatchedEmployeeID == nil || *got.MatchedEmployeeID != employee {
		t.Errorf("Expected matched employee %s, got %v", employee, got.MatchedEmployeeID)
	}
	if got.MatchConfidence == nil || *got.MatchConfidence != confidence {
		t.Errorf("Expected match confidence %v, got %v", confidence, got.MatchConfidence)
	}
	if got.ModelName == nil || *got.ModelName != model {
		t.Errorf("Expected model name %s, got %v", model, got.ModelName)
	}
	if got.LeaseOwner != nil {
		t.Error("Expected lease released after completion")
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished_at stamped")
	}
}

func TestJobListIsBusinessScoped(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	seedCard(t, db, "biz_1", "card_1")
	seedCard(t, db, "biz_1", "card_2")
	seedCard(t, db, "biz_2", "card_3")
	seedJob(t, storage, "job_1", "card_1", base)
	job2 := seedJob(t, storage, "job_2", "card_2", base.Add(10*time.Second))
	seedJob(t, storage, "job_3", "card_3", base.Add(20*time.Second))

	// 1. The empty business ID is rejected, not read as "all tenants".
	if _, _, err := storage.List(ctx, "", nil, 10, 0); !errors.Is(err, interfaces.ErrMissingBusiness) {
		t.Fatalf("Expected ErrMissingBusiness, got %v", err)
	}

	// 2. A tenant only sees its own jobs, newest first.
	jobs, total, err := storage.List(ctx, "biz_1", nil, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if total != 2 || len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs for biz_1, got %d (total %d)", len(jobs), total)
	}
	if jobs[0].ID != "job_2" || jobs[1].ID != "job_1" {
		t.Errorf("Expected newest-first order, got %s, %s", jobs[0].ID, jobs[1].ID)
	}

	// 3. The status filter narrows both the page and the total.
	job2.MarkFailed(time.Now(), "model unreachable")
	if err := storage.Update(ctx, job2); err != nil {
		t.Fatalf("Failed to fail job: %v", err)
	}
	failed := models.JobStatusFailed
	jobs, total, err = storage.List(ctx, "biz_1", &failed, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list failed jobs: %v", err)
	}
	if total != 1 || len(jobs) != 1 || jobs[0].ID != "job_2" {
		t.Fatalf("Expected only job_2 in the FAILED list, got %d jobs (total %d)", len(jobs), total)
	}
}

func TestCountForBusinessGroupsByStatus(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedCard(t, db, "biz_1", "card_2")
	seedCard(t, db, "biz_2", "card_3")
	seedJob(t, storage, "job_1", "card_1", time.Now())
	job2 := seedJob(t, storage, "job_2", "card_2", time.Now())
	seedJob(t, storage, "job_3", "card_3", time.Now())

	job2.MarkFailed(time.Now(), "model unreachable")
	if err := storage.Update(ctx, job2); err != nil {
		t.Fatalf("Failed to fail job: %v", err)
	}

	counts, err := storage.CountForBusiness(ctx, "biz_1", testMonth)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if counts[models.JobStatusPending] != 1 {
		t.Errorf("Expected 1 pending job, got %d", counts[models.JobStatusPending])
	}
	if counts[models.JobStatusFailed] != 1 {
		t.Errorf("Expected 1 failed job, got %d", counts[models.JobStatusFailed])
	}
	if len(counts) != 2 {
		t.Errorf("Expected counts for 2 statuses, got %d", len(counts))
	}

	if _, err := storage.CountForBusiness(ctx, "", testMonth); !errors.Is(err, interfaces.ErrMissingBusiness) {
		t.Fatalf("Expected ErrMissingBusiness, got %v", err)
	}
}

func TestPurgeTerminalBeforeKeepsLiveJobs(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedCard(t, db, "biz_1", "card_2")
	seedCard(t, db, "biz_1", "card_3")
	old := seedJob(t, storage, "job_old", "card_1", time.Now().Add(-72*time.Hour))
	recent := seedJob(t, storage, "job_recent", "card_2", time.Now().Add(-time.Hour))
	seedJob(t, storage, "job_live", "card_3", time.Now())

	old.MarkDone(time.Now().Add(-72 * time.Hour))
	if err := storage.Update(ctx, old); err != nil {
		t.Fatalf("Failed to finish old job: %v", err)
	}
	recent.MarkFailed(time.Now(), "model unreachable")
	if err := storage.Update(ctx, recent); err != nil {
		t.Fatalf("Failed to fail recent job: %v", err)
	}

	purged, err := storage.PurgeTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to purge jobs: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged job, got %d", purged)
	}

	if _, err := storage.GetByID(ctx, "job_old"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected old terminal job purged, got %v", err)
	}
	if _, err := storage.GetByID(ctx, "job_recent"); err != nil {
		t.Errorf("Expected recent terminal job kept: %v", err)
	}
	if _, err := storage.GetByID(ctx, "job_live"); err != nil {
		t.Errorf("Expected pending job kept: %v", err)
	}
}

func TestOneJobPerCard(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	seedCard(t, db, "biz_1", "card_1")
	seedJob(t, storage, "job_1", "card_1", time.Now())

	dup := models.NewExtractionJob("job_2", "card_1", models.JobModeFull)
	if err := storage.Create(ctx, dup); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for a second job on the same card, got %v", err)
	}
}

func TestUpdateMissingJobIsNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewJobStorage(db, arbor.NewLogger())

	ghost := models.NewExtractionJob("job_ghost", "card_ghost", models.JobModeFull)
	if err := storage.Update(context.Background(), ghost); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
