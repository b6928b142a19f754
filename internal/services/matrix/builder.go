// Package matrix serves the per-employee hour matrices for a site and month
// off the effective-card selection.
package matrix

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// StatusNoUpload marks employees without an effective card for the month.
const StatusNoUpload = "NO_UPLOAD"

// Request scopes one matrix build.
type Request struct {
	BusinessID      string
	SiteID          string
	Month           time.Time
	ApprovedOnly    bool
	IncludeInactive bool
}

// Matrix is the serving payload: employees in display order, per-day totals
// from each employee's effective card and the effective card's review status.
type Matrix struct {
	Month     string                     `json:"month"`
	Employees []*models.Employee         `json:"employees"`
	Matrix    map[string]map[int]float64 `json:"matrix"`
	StatusMap map[string]string          `json:"status_map"`
}

// Builder materializes matrices.
type Builder struct {
	employees interfaces.EmployeeStorage
	cards     interfaces.WorkCardStorage
	logger    arbor.ILogger
}

// NewBuilder creates a matrix builder.
func NewBuilder(employees interfaces.EmployeeStorage, cards interfaces.WorkCardStorage, logger arbor.ILogger) *Builder {
	return &Builder{
		employees: employees,
		cards:     cards,
		logger:    logger,
	}
}

// Build returns the matrix for a site and month. The effective-card selection
// is materialized by one ranked query; employees without a selected card are
// reported as NO_UPLOAD. Null totals are skipped; duplicate day rows resolve
// latest-wins within the ranking order.
func (b *Builder) Build(ctx context.Context, req Request) (*Matrix, error) {
	if req.BusinessID == "" {
		return nil, interfaces.ErrMissingBusiness
	}

	siteID := req.SiteID
	employees, err := b.employees.List(ctx, req.BusinessID, &siteID, req.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("listing site employees: %w", err)
	}
	sortEmployees(employees)

	rows, err := b.cards.MatrixRows(ctx, req.BusinessID, req.SiteID, req.Month, req.ApprovedOnly)
	if err != nil {
		return nil, fmt.Errorf("materializing effective cards: %w", err)
	}

	listed := make(map[string]bool, len(employees))
	matrix := make(map[string]map[int]float64, len(employees))
	statusMap := make(map[string]string, len(employees))
	for _, employee := range employees {
		listed[employee.ID] = true
		matrix[employee.ID] = make(map[int]float64)
		statusMap[employee.ID] = StatusNoUpload
	}

	for _, row := range rows {
		if !listed[row.EmployeeID] {
			continue
		}
		statusMap[row.EmployeeID] = string(row.ReviewStatus)
		if row.Day == nil || row.TotalHours == nil {
			continue
		}
		matrix[row.EmployeeID][*row.Day] = *row.TotalHours
	}

	return &Matrix{
		Month:     models.FormatMonth(req.Month),
		Employees: employees,
		Matrix:    matrix,
		StatusMap: statusMap,
	}, nil
}

// sortEmployees orders the display list by (lower(full_name),
// lower(passport_id), id). Employees without a passport sort before those
// with one at the same name.
func sortEmployees(employees []*models.Employee) {
	sort.Slice(employees, func(i, j int) bool {
		a, b := employees[i], employees[j]
		an, bn := strings.ToLower(a.FullName), strings.ToLower(b.FullName)
		if an != bn {
			return an < bn
		}
		ap, bp := passportSortKey(a), passportSortKey(b)
		if ap != bp {
			return ap < bp
		}
		return a.ID < b.ID
	})
}

func passportSortKey(e *models.Employee) string {
	if e.PassportID == nil {
		return ""
	}
	return strings.ToLower(*e.PassportID)
}
