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

// UploadAccessStorage implements interfaces.UploadAccessStorage.
type UploadAccessStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewUploadAccessStorage creates an upload access storage instance.
func NewUploadAccessStorage(db *DB, logger arbor.ILogger) interfaces.UploadAccessStorage {
	return &UploadAccessStorage{db: db, logger: logger}
}

const uploadAccessColumns = "id, token, business_id, site_id, employee_id, processing_month, created_by, expires_at, last_accessed_at, active, created_at"

func (s *UploadAccessStorage) Create(ctx context.Context, request *models.UploadAccessRequest) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO upload_access_requests (`+uploadAccessColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID, request.Token, request.BusinessID, request.SiteID, request.EmployeeID,
		models.FormatMonth(request.ProcessingMonth),
		nullString(request.CreatedBy), nullUnix(request.ExpiresAt), nullUnix(request.LastAccessedAt),
		request.Active, request.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating upload access request: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *UploadAccessStorage) GetByToken(ctx context.Context, token string) (*models.UploadAccessRequest, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+uploadAccessColumns+` FROM upload_access_requests WHERE token = ?`, token)
	return scanUploadAccess(row)
}

func (s *UploadAccessStorage) GetByID(ctx context.Context, businessID, id string) (*models.UploadAccessRequest, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+uploadAccessColumns+` FROM upload_access_requests WHERE business_id = ? AND id = ?`,
		businessID, id)
	return scanUploadAccess(row)
}

func (s *UploadAccessStorage) ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.UploadAccessRequest, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	query := `SELECT ` + uploadAccessColumns + ` FROM upload_access_requests WHERE business_id = ?`
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("listing upload access requests: %w", err)
	}
	defer rows.Close()

	var out []*models.UploadAccessRequest
	for rows.Next() {
		request, err := scanUploadAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, request)
	}
	return out, rows.Err()
}

func (s *UploadAccessStorage) Revoke(ctx context.Context, businessID, id string) error {
	if businessID == "" {
		return interfaces.ErrMissingBusiness
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE upload_access_requests SET active = 0 WHERE business_id = ? AND id = ?`,
		businessID, id)
	if err != nil {
		return fmt.Errorf("revoking upload access request: %w", err)
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

func (s *UploadAccessStorage) TouchAccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.db.ExecContext(ctx,
		`UPDATE upload_access_requests SET last_accessed_at = ? WHERE id = ?`,
		at.UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("touching upload access request: %w", err)
	}
	return nil
}

func (s *UploadAccessStorage) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE upload_access_requests
		 SET active = 0
		 WHERE active = 1 AND expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("deactivating expired upload links: %w", err)
	}
	return res.RowsAffected()
}

func scanUploadAccess(row rowScanner) (*models.UploadAccessRequest, error) {
	var r models.UploadAccessRequest
	var monthKey string
	var createdBy sql.NullString
	var expiresAt, lastAccessedAt sql.NullInt64
	var createdAt, active int64

	err := row.Scan(&r.ID, &r.Token, &r.BusinessID, &r.SiteID, &r.EmployeeID,
		&monthKey, &createdBy, &expiresAt, &lastAccessedAt, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning upload access request: %w", err)
	}

	month, err := models.ParseMonth(monthKey)
	if err != nil {
		return nil, fmt.Errorf("parsing stored month %q: %w", monthKey, err)
	}
	r.ProcessingMonth = month
	r.CreatedBy = stringPtr(createdBy)
	r.ExpiresAt = timePtr(expiresAt)
	r.LastAccessedAt = timePtr(lastAccessedAt)
	r.Active = active != 0
	r.CreatedAt = unixToTime(createdAt)
	return &r, nil
}
