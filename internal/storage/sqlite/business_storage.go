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

// BusinessStorage implements interfaces.BusinessStorage.
type BusinessStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewBusinessStorage creates a business storage instance.
func NewBusinessStorage(db *DB, logger arbor.ILogger) interfaces.BusinessStorage {
	return &BusinessStorage{db: db, logger: logger}
}

const businessColumns = "id, name, code, active, created_at, updated_at"

func (s *BusinessStorage) Create(ctx context.Context, business *models.Business) error {
	if err := business.Validate(); err != nil {
		return err
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO businesses (`+businessColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		business.ID, business.Name, business.Code, business.Active,
		business.CreatedAt.Unix(), business.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating business: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *BusinessStorage) Update(ctx context.Context, business *models.Business) error {
	if err := business.Validate(); err != nil {
		return err
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE businesses SET name = ?, code = ?, active = ?, updated_at = ? WHERE id = ?`,
		business.Name, business.Code, business.Active, business.UpdatedAt.Unix(), business.ID,
	)
	if err != nil {
		return fmt.Errorf("updating business: %w", mapConstraintErr(err))
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

func (s *BusinessStorage) GetByID(ctx context.Context, id string) (*models.Business, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
	return scanBusiness(row)
}

func (s *BusinessStorage) GetByName(ctx context.Context, name string) (*models.Business, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE name = ?`, name)
	return scanBusiness(row)
}

func (s *BusinessStorage) List(ctx context.Context, includeInactive bool) ([]*models.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing businesses: %w", err)
	}
	defer rows.Close()

	var out []*models.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBusiness(row rowScanner) (*models.Business, error) {
	var b models.Business
	var createdAt, updatedAt int64
	err := row.Scan(&b.ID, &b.Name, &b.Code, &b.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning business: %w", err)
	}
	b.CreatedAt = unixToTime(createdAt)
	b.UpdatedAt = unixToTime(updatedAt)
	return &b, nil
}
