package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

type businessFixture struct {
	storage *fakeStorage
	cache   *fakeDashboardCache
	handler *BusinessHandler
}

func newBusinessFixture() *businessFixture {
	storage := newFakeStorage()
	cache := newFakeDashboardCache()
	clock := testClock{now: time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)}
	handler := NewBusinessHandler(storage, cache, clock, arbor.NewLogger())
	return &businessFixture{storage: storage, cache: cache, handler: handler}
}

func adminPrincipal() *models.Principal {
	return &models.Principal{UserID: "user_admin", BusinessID: "biz_hq", Role: models.RoleAdmin}
}

func TestCreateBusinessRequiresAdmin(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodPost, "/api/businesses",
		map[string]interface{}{"name": "Acme"}, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.CreateHandler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for MANAGER", rec.Code)
	}
	if len(f.storage.businesses.created) != 0 {
		t.Error("business created despite the role check")
	}
}

func TestCreateBusiness(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodPost, "/api/businesses",
		map[string]interface{}{"name": "  Acme  ", "code": "ACM"}, adminPrincipal())
	rec := httptest.NewRecorder()
	f.handler.CreateHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if len(f.storage.businesses.created) != 1 {
		t.Fatalf("created = %d, want 1", len(f.storage.businesses.created))
	}
	business := f.storage.businesses.created[0]
	if business.Name != "Acme" {
		t.Errorf("Name = %q, want trimmed Acme", business.Name)
	}
	if business.Code != "ACM" {
		t.Errorf("Code = %q, want ACM", business.Code)
	}
	if !business.Active {
		t.Error("new business not active")
	}
}

func TestCreateBusinessEmptyNameIsBadRequest(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodPost, "/api/businesses",
		map[string]interface{}{"name": "   "}, adminPrincipal())
	rec := httptest.NewRecorder()
	f.handler.CreateHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// MANAGER asking for a foreign business reads the same as a missing one.
func TestGetBusinessForeignTenantIsNotFound(t *testing.T) {
	f := newBusinessFixture()
	f.storage.businesses.byID["biz_2"] = models.NewBusiness("biz_2", "Other", "")

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_2", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.GetHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateBusinessPartialFields(t *testing.T) {
	f := newBusinessFixture()
	business := models.NewBusiness("biz_1", "Acme", "ACM")
	f.storage.businesses.byID["biz_1"] = business

	req := authedRequest(t, http.MethodPut, "/api/businesses/biz_1",
		map[string]interface{}{"active": false}, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.UpdateHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if business.Active {
		t.Error("active flag not cleared")
	}
	if business.Name != "Acme" || business.Code != "ACM" {
		t.Errorf("untouched fields changed: %q/%q", business.Name, business.Code)
	}
}

func TestDashboardAggregatesBySite(t *testing.T) {
	f := newBusinessFixture()
	f.storage.cards.statusCounts = []interfaces.StatusCount{
		{SiteID: strPtr("site_1"), ReviewStatus: models.ReviewStatusApproved, Count: 2},
		{SiteID: strPtr("site_1"), ReviewStatus: models.ReviewStatusNeedsReview, Count: 1},
		{SiteID: nil, ReviewStatus: models.ReviewStatusNeedsAssignment, Count: 3},
	}
	f.storage.jobs.counts = map[models.JobStatus]int{models.JobStatusPending: 4}

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_1/dashboard?month=2025-03", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.DashboardHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["business_id"] != "biz_1" || data["month"] != "2025-03" {
		t.Errorf("scope = %v/%v, want biz_1/2025-03", data["business_id"], data["month"])
	}
	if data["total_cards"].(float64) != 6 {
		t.Errorf("total_cards = %v, want 6", data["total_cards"])
	}
	byStatus := data["by_status"].(map[string]interface{})
	if byStatus["APPROVED"].(float64) != 2 || byStatus["NEEDS_ASSIGNMENT"].(float64) != 3 {
		t.Errorf("by_status = %v", byStatus)
	}
	sites := data["sites"].([]interface{})
	if len(sites) != 2 {
		t.Fatalf("sites = %d, want 2 (one keyed nil)", len(sites))
	}
	first := sites[0].(map[string]interface{})
	if first["site_id"] != "site_1" || first["total"].(float64) != 3 {
		t.Errorf("first site row = %v", first)
	}
	jobs := data["jobs"].(map[string]interface{})
	if jobs["PENDING"].(float64) != 4 {
		t.Errorf("jobs = %v, want PENDING 4", jobs)
	}

	if _, hit := f.cache.Get("biz_1", march()); !hit {
		t.Error("computed dashboard not cached")
	}
}

// A cached payload answers without touching the stores.
func TestDashboardCacheHitShortCircuits(t *testing.T) {
	f := newBusinessFixture()
	sentinel := map[string]interface{}{"business_id": "biz_1", "total_cards": 99}
	f.cache.Set("biz_1", march(), sentinel)

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_1/dashboard?month=2025-03", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.DashboardHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	if data["total_cards"].(float64) != 99 {
		t.Errorf("total_cards = %v, want the cached sentinel", data["total_cards"])
	}
}

func TestDashboardDefaultsToCurrentMonth(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_1/dashboard", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.DashboardHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	// Clock sits in April 2025.
	if data := dataMap(t, decodeResponse(t, rec)); data["month"] != "2025-04" {
		t.Errorf("month = %v, want 2025-04", data["month"])
	}
}

func TestDashboardInvalidMonthIsBadRequest(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_1/dashboard?month=last-tuesday", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.DashboardHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDashboardForeignTenantIsNotFound(t *testing.T) {
	f := newBusinessFixture()

	req := authedRequest(t, http.MethodGet, "/api/businesses/biz_2/dashboard", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.DashboardHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListBusinessesScopedForManager(t *testing.T) {
	f := newBusinessFixture()
	f.storage.businesses.byID["biz_1"] = models.NewBusiness("biz_1", "Mine", "")
	f.storage.businesses.byID["biz_2"] = models.NewBusiness("biz_2", "Other", "")

	req := authedRequest(t, http.MethodGet, "/api/businesses", nil, managerPrincipal("biz_1"))
	rec := httptest.NewRecorder()
	f.handler.ListHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := dataMap(t, decodeResponse(t, rec))
	businesses := data["businesses"].([]interface{})
	if len(businesses) != 1 {
		t.Fatalf("businesses = %d, want only the caller's own", len(businesses))
	}
	if row := businesses[0].(map[string]interface{}); row["id"] != "biz_1" {
		t.Errorf("business id = %v, want biz_1", row["id"])
	}
}
