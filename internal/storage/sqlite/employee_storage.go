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

// EmployeeStorage implements interfaces.EmployeeStorage. The partial unique
// index on (business_id, passport_normalized) makes the canonical passport
// an identity key within a tenant.
type EmployeeStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewEmployeeStorage creates an employee storage instance.
func NewEmployeeStorage(db *DB, logger arbor.ILogger) interfaces.EmployeeStorage {
	return &EmployeeStorage{db: db, logger: logger}
}

const employeeColumns = "id, business_id, site_id, full_name, passport_id, passport_normalized, phone, status, active, created_at, updated_at"

func (s *EmployeeStorage) Create(ctx context.Context, employee *models.Employee) error {
	if err := employee.Validate(); err != nil {
		return err
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO employees (`+employeeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		employee.ID, employee.BusinessID, nullString(employee.SiteID), employee.FullName,
		nullString(employee.PassportID), nullString(employee.PassportNormalized),
		nullString(employee.Phone), string(employee.Status), employee.Active,
		employee.CreatedAt.Unix(), employee.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating employee: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *EmployeeStorage) Update(ctx context.Context, employee *models.Employee) error {
	if err := employee.Validate(); err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE employees
		 SET site_id = ?, full_name = ?, passport_id = ?, passport_normalized = ?,
		     phone = ?, status = ?, active = ?, updated_at = ?
		 WHERE id = ? AND business_id = ?`,
		nullString(employee.SiteID), employee.FullName,
		nullString(employee.PassportID), nullString(employee.PassportNormalized),
		nullString(employee.Phone), string(employee.Status), employee.Active,
		employee.UpdatedAt.Unix(), employee.ID, employee.BusinessID,
	)
	if err != nil {
		return fmt.Errorf("updating employee: %w", mapConstraintErr(err))
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

func (s *EmployeeStorage) GetByID(ctx context.Context, businessID, id string) (*models.Employee, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = ? AND business_id = ?`, id, businessID)
	return scanEmployee(row)
}

func (s *EmployeeStorage) List(ctx context.Context, businessID string, siteID *string, includeInactive bool) ([]*models.Employee, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE business_id = ?`
	args := []interface{}{businessID}
	if siteID != nil {
		query += ` AND site_id = ?`
		args = append(args, *siteID)
	}
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY full_name, id`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing employees: %w", err)
	}
	defer rows.Close()

	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *EmployeeStorage) GetByPassportNormalized(ctx context.Context, businessID, normalized string) (*models.Employee, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	if normalized == "" {
		return nil, interfaces.ErrNotFound
	}
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees
		 WHERE business_id = ? AND passport_normalized = ?`, businessID, normalized)
	return scanEmployee(row)
}

func (s *EmployeeStorage) FindByName(ctx context.Context, businessID string, siteID *string, fullName string) ([]*models.Employee, error) {
	if businessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}
	// full_name is COLLATE NOCASE so equality is case-insensitive.
	query := `SELECT ` + employeeColumns + ` FROM employees
		WHERE business_id = ? AND active = 1 AND full_name = ?`
	args := []interface{}{businessID, fullName}
	if siteID != nil {
		query += ` AND site_id = ?`
		args = append(args, *siteID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding employees by name: %w", err)
	}
	defer rows.Close()

	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row rowScanner) (*models.Employee, error) {
	var e models.Employee
	var siteID, passportID, passportNorm, phone sql.NullString
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&e.ID, &e.BusinessID, &siteID, &e.FullName, &passportID, &passportNorm,
		&phone, &status, &e.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning employee: %w", err)
	}
	e.SiteID = stringPtr(siteID)
	e.PassportID = stringPtr(passportID)
	e.PassportNormalized = stringPtr(passportNorm)
	e.Phone = stringPtr(phone)
	e.Status = models.EmployeeStatus(status)
	e.CreatedAt = unixToTime(createdAt)
	e.UpdatedAt = unixToTime(updatedAt)
	return &e, nil
}
