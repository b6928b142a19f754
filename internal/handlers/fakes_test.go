package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// Fakes embed their interface so only the methods a handler actually calls
// need stubs; an unexpected call nil-panics and fails the test.

type fakeBusinessStore struct {
	interfaces.BusinessStorage
	byID    map[string]*models.Business
	created []*models.Business
	updated []*models.Business
}

func (f *fakeBusinessStore) Create(ctx context.Context, business *models.Business) error {
	f.created = append(f.created, business)
	f.byID[business.ID] = business
	return nil
}

func (f *fakeBusinessStore) Update(ctx context.Context, business *models.Business) error {
	f.updated = append(f.updated, business)
	f.byID[business.ID] = business
	return nil
}

func (f *fakeBusinessStore) GetByID(ctx context.Context, id string) (*models.Business, error) {
	if b, ok := f.byID[id]; ok {
		return b, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeBusinessStore) List(ctx context.Context, includeInactive bool) ([]*models.Business, error) {
	out := make([]*models.Business, 0, len(f.byID))
	for _, b := range f.byID {
		if b.Active || includeInactive {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeSiteStore struct {
	interfaces.SiteStorage
	byID    map[string]*models.Site
	created []*models.Site
	updated []*models.Site
}

func (f *fakeSiteStore) Create(ctx context.Context, site *models.Site) error {
	f.created = append(f.created, site)
	f.byID[site.ID] = site
	return nil
}

func (f *fakeSiteStore) Update(ctx context.Context, site *models.Site) error {
	f.updated = append(f.updated, site)
	f.byID[site.ID] = site
	return nil
}

func (f *fakeSiteStore) GetByID(ctx context.Context, businessID, id string) (*models.Site, error) {
	if s, ok := f.byID[id]; ok && s.BusinessID == businessID {
		return s, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeSiteStore) ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.Site, error) {
	out := make([]*models.Site, 0, len(f.byID))
	for _, s := range f.byID {
		if s.BusinessID == businessID && (s.Active || includeInactive) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeEmployeeStore struct {
	interfaces.EmployeeStorage
	byID      map[string]*models.Employee
	created   []*models.Employee
	updated   []*models.Employee
	createErr error
	updateErr error
}

func (f *fakeEmployeeStore) Create(ctx context.Context, employee *models.Employee) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, employee)
	f.byID[employee.ID] = employee
	return nil
}

func (f *fakeEmployeeStore) Update(ctx context.Context, employee *models.Employee) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, employee)
	f.byID[employee.ID] = employee
	return nil
}

func (f *fakeEmployeeStore) GetByID(ctx context.Context, businessID, id string) (*models.Employee, error) {
	if e, ok := f.byID[id]; ok && e.BusinessID == businessID {
		return e, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeEmployeeStore) List(ctx context.Context, businessID string, siteID *string, includeInactive bool) ([]*models.Employee, error) {
	out := make([]*models.Employee, 0, len(f.byID))
	for _, e := range f.byID {
		if e.BusinessID != businessID {
			continue
		}
		if siteID != nil && (e.SiteID == nil || *e.SiteID != *siteID) {
			continue
		}
		if !e.Active && !includeInactive {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fakeCardStore struct {
	interfaces.WorkCardStorage
	byID     map[string]*models.WorkCard
	previous *models.WorkCard

	updated      []*models.WorkCard
	createdCards []*models.WorkCard
	createdJobs  []*models.ExtractionJob
	createErr    error

	approvals   []interfaces.ApprovalApply
	approvalErr error

	listCards  []*models.WorkCard
	listTotal  int
	lastFilter interfaces.CardListFilter

	statusCounts []interfaces.StatusCount
	matrixRows   []interfaces.MatrixRow
}

func (f *fakeCardStore) CreateWithJob(ctx context.Context, card *models.WorkCard, job *models.ExtractionJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdCards = append(f.createdCards, card)
	f.createdJobs = append(f.createdJobs, job)
	f.byID[card.ID] = card
	return nil
}

func (f *fakeCardStore) GetByID(ctx context.Context, id string) (*models.WorkCard, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeCardStore) GetForBusiness(ctx context.Context, businessID, id string) (*models.WorkCard, error) {
	if c, ok := f.byID[id]; ok && c.BusinessID == businessID {
		return c, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeCardStore) List(ctx context.Context, businessID string, filter interfaces.CardListFilter) ([]*models.WorkCard, int, error) {
	f.lastFilter = filter
	return f.listCards, f.listTotal, nil
}

func (f *fakeCardStore) Update(ctx context.Context, card *models.WorkCard) error {
	f.updated = append(f.updated, card)
	return nil
}

func (f *fakeCardStore) PreviousCard(ctx context.Context, businessID, employeeID string, month time.Time, excludeCardID string) (*models.WorkCard, error) {
	if f.previous == nil {
		return nil, interfaces.ErrNotFound
	}
	return f.previous, nil
}

func (f *fakeCardStore) ApplyApproval(ctx context.Context, apply interfaces.ApprovalApply) error {
	if f.approvalErr != nil {
		return f.approvalErr
	}
	f.approvals = append(f.approvals, apply)
	return nil
}

func (f *fakeCardStore) StatusCounts(ctx context.Context, businessID string, month time.Time) ([]interfaces.StatusCount, error) {
	return f.statusCounts, nil
}

func (f *fakeCardStore) MatrixRows(ctx context.Context, businessID, siteID string, month time.Time, approvedOnly bool) ([]interfaces.MatrixRow, error) {
	return f.matrixRows, nil
}

type fakeEntryStore struct {
	interfaces.DayEntryStorage
	byCard     map[string][]*models.DayEntry
	replaced   map[string][]*models.DayEntry
	replaceErr error
}

func (f *fakeEntryStore) ListByCard(ctx context.Context, workCardID string) ([]*models.DayEntry, error) {
	return f.byCard[workCardID], nil
}

func (f *fakeEntryStore) ReplaceForCard(ctx context.Context, workCardID string, entries []*models.DayEntry) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced[workCardID] = entries
	return nil
}

type fakeJobStore struct {
	interfaces.JobStorage
	byID    map[string]*models.ExtractionJob
	byCard  map[string]*models.ExtractionJob
	updated []*models.ExtractionJob

	listJobs   []*models.ExtractionJob
	listTotal  int
	lastStatus *models.JobStatus
	lastLimit  int
	lastOffset int
	counts     map[models.JobStatus]int
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.ExtractionJob, error) {
	if j, ok := f.byID[id]; ok {
		return j, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeJobStore) GetByCardID(ctx context.Context, workCardID string) (*models.ExtractionJob, error) {
	if j, ok := f.byCard[workCardID]; ok {
		return j, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeJobStore) Update(ctx context.Context, job *models.ExtractionJob) error {
	f.updated = append(f.updated, job)
	return nil
}

func (f *fakeJobStore) List(ctx context.Context, businessID string, status *models.JobStatus, limit, offset int) ([]*models.ExtractionJob, int, error) {
	f.lastStatus = status
	f.lastLimit = limit
	f.lastOffset = offset
	return f.listJobs, f.listTotal, nil
}

func (f *fakeJobStore) CountForBusiness(ctx context.Context, businessID string, month time.Time) (map[models.JobStatus]int, error) {
	if f.counts == nil {
		return map[models.JobStatus]int{}, nil
	}
	return f.counts, nil
}

type fakeAccessStore struct {
	interfaces.UploadAccessStorage
	byToken map[string]*models.UploadAccessRequest
	byID    map[string]*models.UploadAccessRequest
	touched []string
	revoked []string
}

func (f *fakeAccessStore) Create(ctx context.Context, request *models.UploadAccessRequest) error {
	f.byToken[request.Token] = request
	f.byID[request.ID] = request
	return nil
}

func (f *fakeAccessStore) ListByBusiness(ctx context.Context, businessID string, includeInactive bool) ([]*models.UploadAccessRequest, error) {
	out := make([]*models.UploadAccessRequest, 0, len(f.byID))
	for _, r := range f.byID {
		if r.BusinessID == businessID && (r.Active || includeInactive) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAccessStore) Revoke(ctx context.Context, businessID, id string) error {
	r, ok := f.byID[id]
	if !ok || r.BusinessID != businessID {
		return interfaces.ErrNotFound
	}
	r.Active = false
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeAccessStore) GetByToken(ctx context.Context, token string) (*models.UploadAccessRequest, error) {
	if r, ok := f.byToken[token]; ok {
		return r, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeAccessStore) GetByID(ctx context.Context, businessID, id string) (*models.UploadAccessRequest, error) {
	if r, ok := f.byID[id]; ok && r.BusinessID == businessID {
		return r, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeAccessStore) TouchAccess(ctx context.Context, id string, at time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeImageStore struct {
	interfaces.ImageStorage
	images  map[string]*models.CardImage
	putErr  error
	deleted []string
}

func (f *fakeImageStore) Put(ctx context.Context, image *models.CardImage) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.images[image.WorkCardID] = image
	return nil
}

func (f *fakeImageStore) Get(ctx context.Context, workCardID string) (*models.CardImage, error) {
	if img, ok := f.images[workCardID]; ok {
		return img, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeImageStore) Delete(ctx context.Context, workCardID string) error {
	f.deleted = append(f.deleted, workCardID)
	delete(f.images, workCardID)
	return nil
}

// fakeStorage bundles the store fakes behind the manager interface.
type fakeStorage struct {
	interfaces.StorageManager
	businesses *fakeBusinessStore
	sites      *fakeSiteStore
	employees  *fakeEmployeeStore
	cards      *fakeCardStore
	entries    *fakeEntryStore
	jobs       *fakeJobStore
	access     *fakeAccessStore
	images     *fakeImageStore

	pingErr error
}

func (f *fakeStorage) Ping(ctx context.Context) error { return f.pingErr }

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		businesses: &fakeBusinessStore{byID: map[string]*models.Business{}},
		sites:      &fakeSiteStore{byID: map[string]*models.Site{}},
		employees:  &fakeEmployeeStore{byID: map[string]*models.Employee{}},
		cards:      &fakeCardStore{byID: map[string]*models.WorkCard{}},
		entries:    &fakeEntryStore{byCard: map[string][]*models.DayEntry{}, replaced: map[string][]*models.DayEntry{}},
		jobs:       &fakeJobStore{byID: map[string]*models.ExtractionJob{}, byCard: map[string]*models.ExtractionJob{}},
		access:     &fakeAccessStore{byToken: map[string]*models.UploadAccessRequest{}, byID: map[string]*models.UploadAccessRequest{}},
		images:     &fakeImageStore{images: map[string]*models.CardImage{}},
	}
}

func (f *fakeStorage) Businesses() interfaces.BusinessStorage      { return f.businesses }
func (f *fakeStorage) Sites() interfaces.SiteStorage               { return f.sites }
func (f *fakeStorage) Employees() interfaces.EmployeeStorage       { return f.employees }
func (f *fakeStorage) WorkCards() interfaces.WorkCardStorage       { return f.cards }
func (f *fakeStorage) DayEntries() interfaces.DayEntryStorage      { return f.entries }
func (f *fakeStorage) Jobs() interfaces.JobStorage                 { return f.jobs }
func (f *fakeStorage) UploadAccess() interfaces.UploadAccessStorage { return f.access }
func (f *fakeStorage) Images() interfaces.ImageStorage             { return f.images }

type sentLink struct {
	phone string
	url   string
}

type fakeMessenger struct {
	sent    []sentLink
	sendErr error
}

func (f *fakeMessenger) SendUploadLink(ctx context.Context, phone string, request *models.UploadAccessRequest, url string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentLink{phone: phone, url: url})
	return nil
}

type fakeBus struct {
	published  []interfaces.Event
	subscribed []interfaces.EventType
}

func (f *fakeBus) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	f.subscribed = append(f.subscribed, eventType)
	return nil
}
func (f *fakeBus) Publish(ctx context.Context, event interfaces.Event) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeBus) PublishSync(ctx context.Context, event interfaces.Event) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) eventTypes() []interfaces.EventType {
	types := make([]interfaces.EventType, 0, len(f.published))
	for _, e := range f.published {
		types = append(types, e.Type)
	}
	return types
}

type fakeDashboardCache struct {
	entries     map[string]interface{}
	invalidated []string
}

func newFakeDashboardCache() *fakeDashboardCache {
	return &fakeDashboardCache{entries: map[string]interface{}{}}
}

func cacheKey(businessID string, month time.Time) string {
	return businessID + "|" + models.FormatMonth(month)
}

func (f *fakeDashboardCache) Get(businessID string, month time.Time) (interface{}, bool) {
	payload, ok := f.entries[cacheKey(businessID, month)]
	return payload, ok
}

func (f *fakeDashboardCache) Set(businessID string, month time.Time, payload interface{}) {
	f.entries[cacheKey(businessID, month)] = payload
}

func (f *fakeDashboardCache) Invalidate(businessID string, month time.Time) {
	f.invalidated = append(f.invalidated, cacheKey(businessID, month))
	delete(f.entries, cacheKey(businessID, month))
}

type testClock struct{ now time.Time }

func (c testClock) Now() time.Time { return c.now }

type fakeAuthService struct {
	principal  *models.Principal
	verifyErr  error
	issued     string
	issuedAt   time.Time
	issueErr   error
	issueCalls int
}

func (f *fakeAuthService) VerifyAccessToken(token string) (*models.Principal, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.principal, nil
}

func (f *fakeAuthService) IssuePortalToken(request *models.UploadAccessRequest) (string, time.Time, error) {
	f.issueCalls++
	if f.issueErr != nil {
		return "", time.Time{}, f.issueErr
	}
	return f.issued, f.issuedAt, nil
}

func (f *fakeAuthService) VerifyPortalToken(token string) (*models.Principal, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.principal, nil
}

// managerPrincipal builds the tenant-scoped admin identity most tests run as.
func managerPrincipal(businessID string) *models.Principal {
	return &models.Principal{
		UserID:     "user_1",
		BusinessID: businessID,
		Role:       models.RoleManager,
	}
}

// authedRequest builds a JSON request carrying a verified principal, the way
// the auth middleware would hand it to a handler.
func authedRequest(t *testing.T, method, target string, body interface{}, principal *models.Principal) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if principal != nil {
		req = req.WithContext(WithPrincipal(req.Context(), principal))
	}
	return req
}

// decodeResponse parses the envelope every endpoint answers with.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return resp
}

// dataMap returns the envelope's data block for field assertions.
func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("response data is %T, want object", resp.Data)
	}
	return data
}

// intSlice converts a decoded JSON array of numbers to ints.
func intSlice(t *testing.T, v interface{}) []int {
	t.Helper()
	raw, ok := v.([]interface{})
	if !ok {
		t.Fatalf("value is %T, want array", v)
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, ok := item.(float64)
		if !ok {
			t.Fatalf("array item is %T, want number", item)
		}
		out = append(out, int(n))
	}
	return out
}

// fileHeader builds a real multipart file header by round-tripping a form,
// which is the only way to get readable content into one.
func fileHeader(t *testing.T, filename, contentType string, data []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("creating multipart part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing multipart part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parsing multipart form: %v", err)
	}
	return req.MultipartForm.File["file"][0]
}

// jpegBytes is a minimal payload carrying the JPEG magic number, enough for
// content sniffing.
func jpegBytes() []byte {
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
}

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64  { return &f }
