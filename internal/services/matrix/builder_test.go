package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

type employeeStoreFake struct {
	interfaces.EmployeeStorage
	employees []*models.Employee
	lastSite  *string
	inactive  bool
}

func (f *employeeStoreFake) List(ctx context.Context, businessID string, siteID *string, includeInactive bool) ([]*models.Employee, error) {
	f.lastSite = siteID
	f.inactive = includeInactive
	out := make([]*models.Employee, len(f.employees))
	copy(out, f.employees)
	return out, nil
}

type cardStoreFake struct {
	interfaces.WorkCardStorage
	rows         []interfaces.MatrixRow
	approvedOnly bool
}

func (f *cardStoreFake) MatrixRows(ctx context.Context, businessID, siteID string, month time.Time, approvedOnly bool) ([]interfaces.MatrixRow, error) {
	f.approvedOnly = approvedOnly
	return f.rows, nil
}

func strptr(s string) *string { return &s }
func intptr(v int) *int       { return &v }
func f64ptr(v float64) *float64 {
	return &v
}

func employee(id, name, passport string) *models.Employee {
	e := &models.Employee{ID: id, BusinessID: "biz_1", FullName: name, Active: true}
	if passport != "" {
		e.PassportID = strptr(passport)
	}
	return e
}

func month(t *testing.T, value string) time.Time {
	t.Helper()
	m, err := models.ParseMonth(value)
	if err != nil {
		t.Fatalf("ParseMonth(%q): %v", value, err)
	}
	return m
}

func TestBuildAssemblesMatrixAndStatuses(t *testing.T) {
	employees := &employeeStoreFake{employees: []*models.Employee{
		employee("emp_1", "Anna Kovacs", "AB12345"),
		employee("emp_2", "Bela Nagy", "CD67890"),
		employee("emp_3", "Csilla Toth", ""),
	}}
	cards := &cardStoreFake{rows: []interfaces.MatrixRow{
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: intptr(1), TotalHours: f64ptr(8)},
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: intptr(2), TotalHours: f64ptr(7.5)},
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: intptr(3), TotalHours: nil},
		{EmployeeID: "emp_2", CardID: "card_2", ReviewStatus: models.ReviewStatusNeedsReview, Day: nil, TotalHours: nil},
	}}

	builder := NewBuilder(employees, cards, arbor.NewLogger())
	result, err := builder.Build(context.Background(), Request{
		BusinessID: "biz_1",
		SiteID:     "site_1",
		Month:      month(t, "2025-03"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if result.Month != "2025-03" {
		t.Errorf("month = %q, want 2025-03", result.Month)
	}
	if got := result.Matrix["emp_1"]; len(got) != 2 || got[1] != 8 || got[2] != 7.5 {
		t.Errorf("emp_1 hours = %v, want {1:8 2:7.5}", got)
	}
	if len(result.Matrix["emp_2"]) != 0 {
		t.Errorf("emp_2 hours = %v, want empty", result.Matrix["emp_2"])
	}
	if result.StatusMap["emp_1"] != string(models.ReviewStatusApproved) {
		t.Errorf("emp_1 status = %q", result.StatusMap["emp_1"])
	}
	if result.StatusMap["emp_2"] != string(models.ReviewStatusNeedsReview) {
		t.Errorf("emp_2 status = %q", result.StatusMap["emp_2"])
	}
	if result.StatusMap["emp_3"] != StatusNoUpload {
		t.Errorf("emp_3 status = %q, want %s", result.StatusMap["emp_3"], StatusNoUpload)
	}
	if employees.lastSite == nil || *employees.lastSite != "site_1" {
		t.Errorf("site filter not forwarded: %v", employees.lastSite)
	}
}

func TestBuildSortsEmployeesByNamePassportID(t *testing.T) {
	employees := &employeeStoreFake{employees: []*models.Employee{
		employee("emp_9", "zoltan kis", "ZZ999"),
		employee("emp_2", "Anna Kovacs", "bb222"),
		employee("emp_5", "anna kovacs", "AA111"),
		employee("emp_1", "Anna Kovacs", "AA111"),
		employee("emp_3", "Anna Kovacs", ""),
	}}
	cards := &cardStoreFake{}

	builder := NewBuilder(employees, cards, arbor.NewLogger())
	result, err := builder.Build(context.Background(), Request{
		BusinessID: "biz_1",
		SiteID:     "site_1",
		Month:      month(t, "2025-03"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var order []string
	for _, e := range result.Employees {
		order = append(order, e.ID)
	}
	want := []string{"emp_3", "emp_1", "emp_5", "emp_2", "emp_9"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBuildIgnoresRowsOutsideEmployeeList(t *testing.T) {
	employees := &employeeStoreFake{employees: []*models.Employee{
		employee("emp_1", "Anna Kovacs", "AB12345"),
	}}
	cards := &cardStoreFake{rows: []interfaces.MatrixRow{
		{EmployeeID: "emp_gone", CardID: "card_9", ReviewStatus: models.ReviewStatusApproved, Day: intptr(4), TotalHours: f64ptr(6)},
	}}

	builder := NewBuilder(employees, cards, arbor.NewLogger())
	result, err := builder.Build(context.Background(), Request{
		BusinessID: "biz_1",
		SiteID:     "site_1",
		Month:      month(t, "2025-03"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := result.Matrix["emp_gone"]; ok {
		t.Error("row for unlisted employee leaked into matrix")
	}
	if _, ok := result.StatusMap["emp_gone"]; ok {
		t.Error("status for unlisted employee leaked into status map")
	}
}

func TestBuildForwardsApprovedOnly(t *testing.T) {
	employees := &employeeStoreFake{}
	cards := &cardStoreFake{}

	builder := NewBuilder(employees, cards, arbor.NewLogger())
	if _, err := builder.Build(context.Background(), Request{
		BusinessID:   "biz_1",
		SiteID:       "site_1",
		Month:        month(t, "2025-03"),
		ApprovedOnly: true,
	}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !cards.approvedOnly {
		t.Error("approved_only flag not forwarded to storage")
	}
}

func TestBuildRequiresBusiness(t *testing.T) {
	builder := NewBuilder(&employeeStoreFake{}, &cardStoreFake{}, arbor.NewLogger())
	if _, err := builder.Build(context.Background(), Request{SiteID: "site_1", Month: month(t, "2025-03")}); err != interfaces.ErrMissingBusiness {
		t.Fatalf("err = %v, want ErrMissingBusiness", err)
	}
}

func TestBuildLatestRowWinsPerDay(t *testing.T) {
	// The ranked query orders duplicate day rows so the last one read is the
	// winning value.
	employees := &employeeStoreFake{employees: []*models.Employee{
		employee("emp_1", "Anna Kovacs", "AB12345"),
	}}
	cards := &cardStoreFake{rows: []interfaces.MatrixRow{
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: intptr(5), TotalHours: f64ptr(4)},
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: intptr(5), TotalHours: f64ptr(9)},
	}}

	builder := NewBuilder(employees, cards, arbor.NewLogger())
	result, err := builder.Build(context.Background(), Request{
		BusinessID: "biz_1",
		SiteID:     "site_1",
		Month:      month(t, "2025-03"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := result.Matrix["emp_1"][5]; got != 9 {
		t.Errorf("day 5 = %v, want 9", got)
	}
}
