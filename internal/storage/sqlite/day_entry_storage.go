package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// DayEntryStorage implements interfaces.DayEntryStorage. The unique index on
// (work_card_id, day_of_month) is the at-most-one-entry-per-day invariant.
type DayEntryStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewDayEntryStorage creates a day entry storage instance.
func NewDayEntryStorage(db *DB, logger arbor.ILogger) interfaces.DayEntryStorage {
	return &DayEntryStorage{db: db, logger: logger}
}

const entryColumns = "id, work_card_id, day_of_month, from_time, to_time, total_hours, source, is_valid, validation_errors, updated_by, created_at, updated_at"

// insertDayEntry writes one entry. With ignoreConflict the unique day index
// silently drops the row instead of erroring, which is the re-extraction
// dedupe semantic: existing days always win.
func insertDayEntry(ctx context.Context, ex execer, entry *models.DayEntry, ignoreConflict bool) error {
	conflict := ""
	if ignoreConflict {
		conflict = ` ON CONFLICT (work_card_id, day_of_month) DO NOTHING`
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO day_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict,
		entry.ID, entry.WorkCardID, entry.DayOfMonth,
		nullString(entry.FromTime), nullString(entry.ToTime), nullFloat(entry.TotalHours),
		string(entry.Source), entry.IsValid, nullString(entry.ValidationErrors),
		nullString(entry.UpdatedBy),
		entry.CreatedAt.Unix(), entry.UpdatedAt.Unix(),
	)
	return mapConstraintErr(err)
}

func (s *DayEntryStorage) ListByCard(ctx context.Context, workCardID string) ([]*models.DayEntry, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM day_entries WHERE work_card_id = ? ORDER BY day_of_month`,
		workCardID)
	if err != nil {
		return nil, fmt.Errorf("listing day entries: %w", err)
	}
	defer rows.Close()

	var out []*models.DayEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *DayEntryStorage) Exists(ctx context.Context, workCardID string, day int) (bool, error) {
	var one int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT 1 FROM day_entries WHERE work_card_id = ? AND day_of_month = ?`,
		workCardID, day).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking day entry existence: %w", err)
	}
	return true, nil
}

func (s *DayEntryStorage) Insert(ctx context.Context, entry *models.DayEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := insertDayEntry(ctx, s.db.db, entry, false); err != nil {
		return fmt.Errorf("inserting day entry: %w", err)
	}
	return nil
}

// ReplaceForCard swaps the card's full entry set in one transaction.
func (s *DayEntryStorage) ReplaceForCard(ctx context.Context, workCardID string, entries []*models.DayEntry) error {
	for _, entry := range entries {
		if entry.WorkCardID != workCardID {
			return fmt.Errorf("entry %s belongs to card %s, not %s", entry.ID, entry.WorkCardID, workCardID)
		}
		if err := entry.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning entry replacement: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM day_entries WHERE work_card_id = ?`, workCardID); err != nil {
		return fmt.Errorf("clearing day entries: %w", err)
	}
	for _, entry := range entries {
		if err := insertDayEntry(ctx, tx, entry, false); err != nil {
			return fmt.Errorf("inserting replacement entry day %d: %w", entry.DayOfMonth, err)
		}
	}

	return tx.Commit()
}

func scanEntry(row rowScanner) (*models.DayEntry, error) {
	var e models.DayEntry
	var fromTime, toTime, validationErrors, updatedBy sql.NullString
	var total sql.NullFloat64
	var source string
	var createdAt, updatedAt int64

	err := row.Scan(&e.ID, &e.WorkCardID, &e.DayOfMonth, &fromTime, &toTime, &total,
		&source, &e.IsValid, &validationErrors, &updatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning day entry: %w", err)
	}

	e.FromTime = stringPtr(fromTime)
	e.ToTime = stringPtr(toTime)
	e.TotalHours = floatPtr(total)
	e.Source = models.EntrySource(source)
	e.ValidationErrors = stringPtr(validationErrors)
	e.UpdatedBy = stringPtr(updatedBy)
	e.CreatedAt = unixToTime(createdAt)
	e.UpdatedAt = unixToTime(updatedAt)
	return &e, nil
}
