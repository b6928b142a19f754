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

// SiteStorage implements interfaces.SiteStorage. Every read is scoped to a
// business; there is no unscoped lookup.
type SiteStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewSiteStorage creates a site storage instance.
func NewSiteStorage(db *DB, logger arbor.ILogger) interfaces.SiteStorage {
	return &SiteStorage{db: db, logger: logger}
}

const siteColumns = "id, business_id, name, code, active, responsible_employee_id, created_at, updated_at"

func (s *SiteStorage) Create(ctx context.Context, site *models.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO sites (`+siteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.BusinessID, site.Name, site.Code, site.Active,
		nullString(site.ResponsibleEmployeeID),
		site.CreatedAt.Unix(), site.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating site: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *SiteStorage) Update(ctx context.Context, site *models.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE sites SET name = ?, code = ?, active = ?, responsible_employee_id = ?, updated_at = ?
		 WHERE id = ? AND business_id = ?`,
		site.Name, site.Code, site.Active, nullString(site.ResponsibleEmployeeID),
		site.UpdatedAt.Unix(), site.ID, site.BusinessID,
	)
	if err != nil {
		return fmt.Errorf("updating site: %w", mapConstraintErr(err))
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

func (s *SiteStorage) GetByID(ctx context.Context, businessID, id string) (*models.Site, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = ? AND business_id = ?`, id, businessID)
	return scanSite(row)
}

func (s *SiteStorage) ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.Site, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	query := `SELECT ` + siteColumns + ` FROM sites WHERE business_id = ?`
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	defer rows.Close()

	var out []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func scanSite(row rowScanner) (*models.Site, error) {
	var site models.Site
	var responsible sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&site.ID, &site.BusinessID, &site.Name, &site.Code, &site.Active,
		&responsible, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning site: %w", err)
	}
	site.ResponsibleEmployeeID = stringPtr(responsible)
	site.CreatedAt = unixToTime(createdAt)
	site.UpdatedAt = unixToTime(updatedAt)
	return &site, nil
}
