package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/kardex-io/kardex/internal/models"
)

// Sentinel errors shared by all storage implementations. Callers branch with
// errors.Is; the HTTP layer maps them onto the response taxonomy.
var (
	// ErrNotFound is returned when a row does not exist in the caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate value")

	// ErrMissingBusiness is returned by serving-path queries called without a
	// business scope. Tenant filtering is not optional.
	ErrMissingBusiness = errors.New("business scope is required")
)

// BusinessStorage persists tenants.
type BusinessStorage interface {
	Create(ctx context.Context, business *models.Business) error
	Update(ctx context.Context, business *models.Business) error
	GetByID(ctx context.Context, id string) (*models.Business, error)
	GetByName(ctx context.Context, name string) (*models.Business, error)
	List(ctx context.Context, includeInactive bool) ([]*models.Business, error)
}

// SiteStorage persists work locations, always scoped to a business.
type SiteStorage interface {
	Create(ctx context.Context, site *models.Site) error
	Update(ctx context.Context, site *models.Site) error
	GetByID(ctx context.Context, businessID, id string) (*models.Site, error)
	ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.Site, error)
}

// EmployeeStorage persists employees, always scoped to a business.
type EmployeeStorage interface {
	Create(ctx context.Context, employee *models.Employee) error
	Update(ctx context.Context, employee *models.Employee) error
	GetByID(ctx context.Context, businessID, id string) (*models.Employee, error)
	List(ctx context.Context, businessID string, siteID *string, includeInactive bool) ([]*models.Employee, error)

	// GetByPassportNormalized looks up the unique holder of a canonical
	// passport within a business. ErrNotFound when absent.
	GetByPassportNormalized(ctx context.Context, businessID, normalized string) (*models.Employee, error)

	// FindByName returns active employees whose full name matches
	// case-insensitively, optionally narrowed to a site. The resolver treats
	// anything but exactly one hit as no match.
	FindByName(ctx context.Context, businessID string, siteID *string, fullName string) ([]*models.Employee, error)
}

// CardListFilter narrows work card listings. Zero fields are ignored.
type CardListFilter struct {
	SiteID       *string
	EmployeeID   *string
	Month        *time.Time
	ReviewStatus *models.ReviewStatus
	Limit        int
	Offset       int
}

// ExtractionApply is the atomic write unit for a finished pipeline run:
// freshly extracted day entries, the resulting review status, and the
// advisory assignment when an unassigned card matched. Applied in one
// transaction; the job's terminal state is written separately afterwards.
type ExtractionApply struct {
	CardID           string
	ReviewStatus     models.ReviewStatus
	AssignEmployeeID *string
	NewEntries       []*models.DayEntry
}

// ApprovalApply is the carry-forward plan for one approval: entry deletions
// (on either card), CARRIED_FORWARD clones onto the approving card, and the
// approval stamp. Applied in one transaction.
type ApprovalApply struct {
	CardID         string
	ApprovedBy     string
	ApprovedAt     time.Time
	DeleteEntryIDs []string
	InsertEntries  []*models.DayEntry
}

// MatrixRow is one row of the ranked effective-card selection joined to day
// entries. Day and TotalHours are null for employees whose effective card has
// no entries.
type MatrixRow struct {
	EmployeeID   string
	CardID       string
	ReviewStatus models.ReviewStatus
	Day          *int
	TotalHours   *float64
}

// StatusCount aggregates cards by review status for dashboards.
type StatusCount struct {
	SiteID       *string
	ReviewStatus models.ReviewStatus
	Count        int
}

// WorkCardStorage persists cards and the transactional units built on them.
type WorkCardStorage interface {
	// CreateWithJob inserts the card and its PENDING extraction job in one
	// transaction so no card can exist without a queue row.
	CreateWithJob(ctx context.Context, card *models.WorkCard, job *models.ExtractionJob) error

	// GetByID loads a card without tenant scope. Pipeline use only; handlers
	// go through GetForBusiness.
	GetByID(ctx context.Context, id string) (*models.WorkCard, error)
	GetForBusiness(ctx context.Context, businessID, id string) (*models.WorkCard, error)
	List(ctx context.Context, businessID string, filter CardListFilter) ([]*models.WorkCard, int, error)
	Update(ctx context.Context, card *models.WorkCard) error

	// PreviousCard returns the newest other card for the same employee and
	// month (created_at DESC, id DESC), or ErrNotFound.
	PreviousCard(ctx context.Context, businessID, employeeID string, month time.Time, excludeCardID string) (*models.WorkCard, error)

	// ApplyExtraction persists a pipeline outcome atomically.
	ApplyExtraction(ctx context.Context, apply ExtractionApply) error

	// ApplyApproval persists an approval plan atomically.
	ApplyApproval(ctx context.Context, apply ApprovalApply) error

	// MatrixRows materializes the effective-card selection for a site and
	// month in a single ranked query.
	MatrixRows(ctx context.Context, businessID, siteID string, month time.Time, approvedOnly bool) ([]MatrixRow, error)

	// StatusCounts aggregates card counts by site and review status.
	StatusCounts(ctx context.Context, businessID string, month time.Time) ([]StatusCount, error)
}

// DayEntryStorage persists per-day rows. (work_card_id, day_of_month) is
// unique; Insert surfaces ErrDuplicate when the index rejects a row.
type DayEntryStorage interface {
	ListByCard(ctx context.Context, workCardID string) ([]*models.DayEntry, error)
	Exists(ctx context.Context, workCardID string, day int) (bool, error)
	Insert(ctx context.Context, entry *models.DayEntry) error

	// ReplaceForCard swaps the card's full entry set in one transaction.
	// Admin bulk edits go through here after the locked-day check.
	ReplaceForCard(ctx context.Context, workCardID string, entries []*models.DayEntry) error
}

// JobStorage persists the extraction queue. The claim and the stale
// transitions are conditional updates; their boolean result is the race
// outcome, not an error.
type JobStorage interface {
	Create(ctx context.Context, job *models.ExtractionJob) error
	Update(ctx context.Context, job *models.ExtractionJob) error
	GetByID(ctx context.Context, id string) (*models.ExtractionJob, error)
	GetByCardID(ctx context.Context, workCardID string) (*models.ExtractionJob, error)

	// NextPending returns up to limit unclaimed PENDING jobs, oldest first.
	NextPending(ctx context.Context, limit int) ([]*models.ExtractionJob, error)

	// Claim atomically sets the lease where no lease is held. True means this
	// owner won the job.
	Claim(ctx context.Context, id, owner string, at time.Time) (bool, error)

	// StaleJobs returns PENDING/RUNNING jobs whose lease is older than cutoff.
	StaleJobs(ctx context.Context, cutoff time.Time) ([]*models.ExtractionJob, error)

	// ResetStale clears the lease and requeues the job, guarded by a
	// compare-and-swap on the observed lease timestamp.
	ResetStale(ctx context.Context, id string, leaseAcquiredAt time.Time) (bool, error)

	// FailStale marks a stale job FAILED with the given error, guarded the
	// same way.
	FailStale(ctx context.Context, id string, leaseAcquiredAt time.Time, errMsg string) (bool, error)

	// List returns a business's jobs newest first, optionally narrowed to a
	// status. The business scope is mandatory on this serving path.
	List(ctx context.Context, businessID string, status *models.JobStatus, limit, offset int) ([]*models.ExtractionJob, int, error)

	// CountForBusiness aggregates job statuses for one business and month,
	// joining through the cards.
	CountForBusiness(ctx context.Context, businessID string, month time.Time) (map[models.JobStatus]int, error)

	// PurgeTerminalBefore deletes DONE/FAILED jobs finished before cutoff.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UploadAccessStorage persists tokenized portal upload links.
type UploadAccessStorage interface {
	Create(ctx context.Context, request *models.UploadAccessRequest) error
	GetByToken(ctx context.Context, token string) (*models.UploadAccessRequest, error)
	GetByID(ctx context.Context, businessID, id string) (*models.UploadAccessRequest, error)
	ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.UploadAccessRequest, error)
	Revoke(ctx context.Context, businessID, id string) error
	TouchAccess(ctx context.Context, id string, at time.Time) error

	// DeactivateExpired flips active off for links past their expiry.
	// Returns the number of links deactivated.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// ImageStorage persists original card bytes, keyed by card ID, exactly one
// blob per card and immutable after create.
type ImageStorage interface {
	Put(ctx context.Context, image *models.CardImage) error
	Get(ctx context.Context, workCardID string) (*models.CardImage, error)
	Delete(ctx context.Context, workCardID string) error

	// RunGC triggers a value-log garbage collection pass.
	RunGC() error
}

// StorageManager bundles the stores behind one lifecycle.
type StorageManager interface {
	Businesses() BusinessStorage
	Sites() SiteStorage
	Employees() EmployeeStorage
	WorkCards() WorkCardStorage
	DayEntries() DayEntryStorage
	Jobs() JobStorage
	UploadAccess() UploadAccessStorage
	Images() ImageStorage

	Ping(ctx context.Context) error
	Close() error
}
