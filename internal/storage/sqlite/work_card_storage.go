package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// WorkCardStorage implements interfaces.WorkCardStorage. The multi-row
// writes (card+job creation, extraction results, approval plans) are single
// transactions; a card can never exist without its queue row and an approval
// can never half-apply.
type WorkCardStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewWorkCardStorage creates a work card storage instance.
func NewWorkCardStorage(db *DB, logger arbor.ILogger) interfaces.WorkCardStorage {
	return &WorkCardStorage{db: db, logger: logger}
}

const cardColumns = "id, business_id, site_id, employee_id, processing_month, source, original_filename, mime_type, size_bytes, review_status, approved_by, approved_at, created_at, updated_at"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertCard(ctx context.Context, ex execer, card *models.WorkCard) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO work_cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.BusinessID, nullString(card.SiteID), nullString(card.EmployeeID),
		card.MonthKey(), string(card.Source),
		card.OriginalFilename, card.MimeType, card.SizeBytes,
		string(card.ReviewStatus), nullString(card.ApprovedBy), nullUnix(card.ApprovedAt),
		card.CreatedAt.Unix(), card.UpdatedAt.Unix(),
	)
	return mapConstraintErr(err)
}

func (s *WorkCardStorage) CreateWithJob(ctx context.Context, card *models.WorkCard, job *models.ExtractionJob) error {
	if err := card.Validate(); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.WorkCardID != card.ID {
		return fmt.Errorf("job %s does not belong to card %s", job.ID, card.ID)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning card creation: %w", err)
	}
	defer tx.Rollback()

	if err := insertCard(ctx, tx, card); err != nil {
		return fmt.Errorf("creating work card: %w", err)
	}
	if err := insertJob(ctx, tx, job); err != nil {
		return fmt.Errorf("creating extraction job: %w", err)
	}

	return tx.Commit()
}

func (s *WorkCardStorage) GetByID(ctx context.Context, id string) (*models.WorkCard, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM work_cards WHERE id = ?`, id)
	return scanCard(row)
}

func (s *WorkCardStorage) GetForBusiness(ctx context.Context, businessID, id string) (*models.WorkCard, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM work_cards WHERE id = ? AND business_id = ?`, id, businessID)
	return scanCard(row)
}

func (s *WorkCardStorage) List(ctx context.Context, businessID string, filter interfaces.CardListFilter) ([]*models.WorkCard, int, error) {
	if businessID == "" {
		return nil, 0, interfaces.ErrMissingBusiness
	}

	where := ` WHERE business_id = ?`
	args := []interface{}{businessID}
	if filter.SiteID != nil {
		where += ` AND site_id = ?`
		args = append(args, *filter.SiteID)
	}
	if filter.EmployeeID != nil {
		where += ` AND employee_id = ?`
		args = append(args, *filter.EmployeeID)
	}
	if filter.Month != nil {
		where += ` AND processing_month = ?`
		args = append(args, models.FormatMonth(*filter.Month))
	}
	if filter.ReviewStatus != nil {
		where += ` AND review_status = ?`
		args = append(args, string(*filter.ReviewStatus))
	}

	var total int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_cards`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting work cards: %w", err)
	}

	query := `SELECT ` + cardColumns + ` FROM work_cards` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing work cards: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, card)
	}
	return out, total, rows.Err()
}

func (s *WorkCardStorage) Update(ctx context.Context, card *models.WorkCard) error {
	if err := card.Validate(); err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE work_cards
		 SET site_id = ?, employee_id = ?, processing_month = ?, review_status = ?,
		     approved_by = ?, approved_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(card.SiteID), nullString(card.EmployeeID), card.MonthKey(),
		string(card.ReviewStatus), nullString(card.ApprovedBy), nullUnix(card.ApprovedAt),
		card.UpdatedAt.Unix(), card.ID,
	)
	if err != nil {
		return fmt.Errorf("updating work card: %w", mapConstraintErr(err))
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

func (s *WorkCardStorage) PreviousCard(ctx context.Context, businessID, employeeID string, month time.Time, excludeCardID string) (*models.WorkCard, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM work_cards
		 WHERE business_id = ? AND employee_id = ? AND processing_month = ? AND id != ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		businessID, employeeID, models.FormatMonth(month), excludeCardID)
	return scanCard(row)
}

func (s *WorkCardStorage) ApplyExtraction(ctx context.Context, apply interfaces.ExtractionApply) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning extraction apply: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	if apply.AssignEmployeeID != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE work_cards SET employee_id = ?, review_status = ?, updated_at = ? WHERE id = ?`,
			*apply.AssignEmployeeID, string(apply.ReviewStatus), now, apply.CardID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE work_cards SET review_status = ?, updated_at = ? WHERE id = ?`,
			string(apply.ReviewStatus), now, apply.CardID)
	}
	if err != nil {
		return fmt.Errorf("updating card from extraction: %w", mapConstraintErr(err))
	}

	// Existing days always win over re-extraction; the unique index plus
	// DO NOTHING makes the insert idempotent under races.
	for _, entry := range apply.NewEntries {
		if err := insertDayEntry(ctx, tx, entry, true); err != nil {
			return fmt.Errorf("inserting extracted entry day %d: %w", entry.DayOfMonth, err)
		}
	}

	return tx.Commit()
}

func (s *WorkCardStorage) ApplyApproval(ctx context.Context, apply interfaces.ApprovalApply) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning approval apply: %w", err)
	}
	defer tx.Rollback()

	for _, entryID := range apply.DeleteEntryIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM day_entries WHERE id = ?`, entryID); err != nil {
			return fmt.Errorf("deleting superseded entry %s: %w", entryID, err)
		}
	}
	for _, entry := range apply.InsertEntries {
		if err := insertDayEntry(ctx, tx, entry, false); err != nil {
			return fmt.Errorf("inserting carried-forward entry day %d: %w", entry.DayOfMonth, err)
		}
	}

	approvedAt := apply.ApprovedAt.UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE work_cards SET review_status = ?, approved_by = ?, approved_at = ?, updated_at = ? WHERE id = ?`,
		string(models.ReviewStatusApproved), apply.ApprovedBy, approvedAt.Unix(), approvedAt.Unix(), apply.CardID)
	if err != nil {
		return fmt.Errorf("stamping approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}

	return tx.Commit()
}

// MatrixRows materializes the effective-card selection in one ranked query:
// cards in scope are partitioned per employee, ranked APPROVED-first then
// created_at DESC then id DESC, and the rank-1 card is left-joined to its day
// entries.
func (s *WorkCardStorage) MatrixRows(ctx context.Context, businessID, siteID string, month time.Time, approvedOnly bool) ([]interfaces.MatrixRow, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}

	approvedFlag := 0
	if approvedOnly {
		approvedFlag = 1
	}

	query := `
	WITH ranked_cards AS (
		SELECT c.id, c.employee_id, c.review_status,
			ROW_NUMBER() OVER (
				PARTITION BY c.employee_id
				ORDER BY (c.review_status = 'APPROVED') DESC, c.created_at DESC, c.id DESC
			) AS rank
		FROM work_cards c
		WHERE c.business_id = ?
		  AND c.site_id = ?
		  AND c.processing_month = ?
		  AND c.employee_id IS NOT NULL
		  AND (? = 0 OR c.review_status = 'APPROVED')
	),
	selected_cards AS (
		SELECT id, employee_id, review_status FROM ranked_cards WHERE rank = 1
	)
	SELECT sc.employee_id, sc.id, sc.review_status, e.day_of_month, e.total_hours
	FROM selected_cards sc
	LEFT JOIN day_entries e ON e.work_card_id = sc.id
	ORDER BY sc.employee_id, e.day_of_month`

	rows, err := s.db.db.QueryContext(ctx, query,
		businessID, siteID, models.FormatMonth(month), approvedFlag)
	if err != nil {
		return nil, fmt.Errorf("materializing matrix rows: %w", err)
	}
	defer rows.Close()

	var out []interfaces.MatrixRow
	for rows.Next() {
		var r interfaces.MatrixRow
		var status string
		var day sql.NullInt64
		var total sql.NullFloat64
		if err := rows.Scan(&r.EmployeeID, &r.CardID, &status, &day, &total); err != nil {
			return nil, fmt.Errorf("scanning matrix row: %w", err)
		}
		r.ReviewStatus = models.ReviewStatus(status)
		if day.Valid {
			d := int(day.Int64)
			r.Day = &d
		}
		r.TotalHours = floatPtr(total)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *WorkCardStorage) StatusCounts(ctx context.Context, businessID string, month time.Time) ([]interfaces.StatusCount, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT site_id, review_status, COUNT(*)
		 FROM work_cards
		 WHERE business_id = ? AND processing_month = ?
		 GROUP BY site_id, review_status`,
		businessID, models.FormatMonth(month))
	if err != nil {
		return nil, fmt.Errorf("counting card statuses: %w", err)
	}
	defer rows.Close()

	var out []interfaces.StatusCount
	for rows.Next() {
		var c interfaces.StatusCount
		var siteID sql.NullString
		var status string
		if err := rows.Scan(&siteID, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		c.SiteID = stringPtr(siteID)
		c.ReviewStatus = models.ReviewStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCard(row rowScanner) (*models.WorkCard, error) {
	var card models.WorkCard
	var siteID, employeeID, approvedBy sql.NullString
	var monthKey, source, status string
	var approvedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&card.ID, &card.BusinessID, &siteID, &employeeID, &monthKey, &source,
		&card.OriginalFilename, &card.MimeType, &card.SizeBytes,
		&status, &approvedBy, &approvedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning work card: %w", err)
	}

	month, err := models.ParseMonth(monthKey)
	if err != nil {
		return nil, fmt.Errorf("card %s has invalid month %q: %w", card.ID, monthKey, err)
	}
	card.SiteID = stringPtr(siteID)
	card.EmployeeID = stringPtr(employeeID)
	card.ProcessingMonth = month
	card.Source = models.CardSource(source)
	card.ReviewStatus = models.ReviewStatus(status)
	card.ApprovedBy = stringPtr(approvedBy)
	card.ApprovedAt = timePtr(approvedAt)
	card.CreatedAt = unixToTime(createdAt)
	card.UpdatedAt = unixToTime(updatedAt)
	return &card, nil
}
