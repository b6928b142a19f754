package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/matrix"
)

func newSiteFixture() (*fakeStorage, *SiteHandler) {
	storage := newFakeStorage()
	logger := arbor.NewLogger()
	builder := matrix.NewBuilder(storage.employees, storage.cards, logger)
	handler := NewSiteHandler(storage, builder, logger)
	return storage, handler
}

func TestCreateSiteWithResponsibleEmployee(t *testing.T) {
	storage, handler := newSiteFixture()
	responsible := models.NewEmployee("emp_1", "biz_1", "Nino Beridze")
	responsible.Phone = strPtr("+995 555 123 456")
	storage.employees.byID["emp_1"] = responsible

	req := authedRequest(t, http.MethodPost, "/api/sites",
		map[string]interface{}{"name": "North Yard", "code": "NY", "responsible_employee_id": "emp_1"},
		managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.CreateHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if len(storage.sites.created) != 1 {
		t.Fatalf("created = %d, want 1", len(storage.sites.created))
	}
	site := storage.sites.created[0]
	if site.ResponsibleEmployeeID == nil || *site.ResponsibleEmployeeID != "emp_1" {
		t.Errorf("ResponsibleEmployeeID = %v, want emp_1", site.ResponsibleEmployeeID)
	}
}

// A responsible employee must carry a phone, or the upload link could never
// be delivered or verified.
func TestCreateSiteResponsibleWithoutPhoneIsBadRequest(t *testing.T) {
	storage, handler := newSiteFixture()
	storage.employees.byID["emp_1"] = models.NewEmployee("emp_1", "biz_1", "Nino Beridze")

	req := authedRequest(t, http.MethodPost, "/api/sites",
		map[string]interface{}{"name": "North Yard", "responsible_employee_id": "emp_1"},
		managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.CreateHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != "responsible employee has no phone number" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestCreateSiteResponsibleFromOtherSiteIsBadRequest(t *testing.T) {
	storage, handler := newSiteFixture()
	responsible := models.NewEmployee("emp_1", "biz_1", "Nino Beridze")
	responsible.Phone = strPtr("+995 555 123 456")
	responsible.SiteID = strPtr("site_other")
	storage.employees.byID["emp_1"] = responsible

	req := authedRequest(t, http.MethodPost, "/api/sites",
		map[string]interface{}{"name": "North Yard", "responsible_employee_id": "emp_1"},
		managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.CreateHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != "responsible employee belongs to a different site" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestUpdateSiteClearsResponsibleWithEmptyString(t *testing.T) {
	storage, handler := newSiteFixture()
	site := models.NewSite("site_1", "biz_1", "North Yard", "NY")
	site.ResponsibleEmployeeID = strPtr("emp_1")
	storage.sites.byID["site_1"] = site

	req := authedRequest(t, http.MethodPut, "/api/sites/site_1",
		map[string]interface{}{"responsible_employee_id": ""}, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.UpdateHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if site.ResponsibleEmployeeID != nil {
		t.Errorf("ResponsibleEmployeeID = %v, want cleared", site.ResponsibleEmployeeID)
	}
}

func TestGetSiteForeignTenantIsNotFound(t *testing.T) {
	storage, handler := newSiteFixture()
	storage.sites.byID["site_1"] = models.NewSite("site_1", "biz_2", "Other Yard", "")

	req := authedRequest(t, http.MethodGet, "/api/sites/site_1", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.GetHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMatrixRequiresProcessingMonth(t *testing.T) {
	storage, handler := newSiteFixture()
	storage.sites.byID["site_1"] = models.NewSite("site_1", "biz_1", "North Yard", "NY")

	req := authedRequest(t, http.MethodGet, "/api/sites/site_1/matrix", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.MatrixHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Error != "processing_month is required" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestMatrixBuildsHoursGrid(t *testing.T) {
	storage, handler := newSiteFixture()
	storage.sites.byID["site_1"] = models.NewSite("site_1", "biz_1", "North Yard", "NY")

	worked := models.NewEmployee("emp_1", "biz_1", "Ivan Petrov")
	worked.SiteID = strPtr("site_1")
	idle := models.NewEmployee("emp_2", "biz_1", "Nino Beridze")
	idle.SiteID = strPtr("site_1")
	storage.employees.byID["emp_1"] = worked
	storage.employees.byID["emp_2"] = idle

	day3, day4 := 3, 4
	hours8, hours6 := 8.0, 6.0
	storage.cards.matrixRows = []interfaces.MatrixRow{
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: &day3, TotalHours: &hours8},
		{EmployeeID: "emp_1", CardID: "card_1", ReviewStatus: models.ReviewStatusApproved, Day: &day4, TotalHours: &hours6},
	}

	req := authedRequest(t, http.MethodGet, "/api/sites/site_1/matrix?processing_month=2025-03", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	handler.MatrixHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["month"] != "2025-03" {
		t.Errorf("month = %v, want 2025-03", data["month"])
	}

	grid := data["matrix"].(map[string]interface{})
	hours := grid["emp_1"].(map[string]interface{})
	if hours["3"].(float64) != 8 || hours["4"].(float64) != 6 {
		t.Errorf("emp_1 hours = %v, want day 3 -> 8 and day 4 -> 6", hours)
	}

	statusMap := data["status_map"].(map[string]interface{})
	if statusMap["emp_1"] != "APPROVED" {
		t.Errorf("emp_1 status = %v, want APPROVED", statusMap["emp_1"])
	}
	if statusMap["emp_2"] != matrix.StatusNoUpload {
		t.Errorf("emp_2 status = %v, want NO_UPLOAD", statusMap["emp_2"])
	}
}
