package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/pdf"
)

func newUploaderFixture() (*fakeStorage, *fakeBus, *Uploader) {
	logger := arbor.NewLogger()
	storage := newFakeStorage()
	events := &fakeBus{}
	cache := newFakeDashboardCache()
	uploader := NewUploader(storage.cards, storage.images, storage.employees, storage.sites, pdf.NewValidator(logger), events, cache, logger)
	return storage, events, uploader
}

func adminSpec() uploadSpec {
	return uploadSpec{
		BusinessID: "biz_1",
		Month:      march(),
		Source:     models.SourceAdminSingle,
		Mode:       models.JobModeFull,
		UploadedBy: "user_1",
	}
}

func pngBytes() []byte {
	return []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}
}

func TestResolveMimeType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
		wantErr  bool
	}{
		{name: "declared jpeg trusted", declared: "image/jpeg", data: []byte("not really"), want: "image/jpeg"},
		{name: "jpg alias normalized", declared: "image/jpg", data: []byte("not really"), want: "image/jpeg"},
		{name: "case and params stripped", declared: "IMAGE/PNG; charset=binary", data: []byte("not really"), want: "image/png"},
		{name: "octet-stream sniffed", declared: "application/octet-stream", data: jpegBytes(), want: "image/jpeg"},
		{name: "missing declaration sniffed", declared: "", data: pngBytes(), want: "image/png"},
		{name: "text rejected", declared: "", data: []byte("hello world, plain text"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := fileHeader(t, "card.bin", tt.declared, tt.data)
			got, apiErr := resolveMimeType(header, tt.data)
			if tt.wantErr {
				if apiErr == nil {
					t.Fatalf("resolveMimeType = %q, want rejection", got)
				}
				if apiErr.status != http.StatusBadRequest {
					t.Errorf("status = %d, want 400", apiErr.status)
				}
				return
			}
			if apiErr != nil {
				t.Fatalf("resolveMimeType error: %v", apiErr)
			}
			if got != tt.want {
				t.Errorf("resolveMimeType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJobMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.JobMode
		wantErr bool
	}{
		{raw: "", want: models.JobModeFull},
		{raw: "full", want: models.JobModeFull},
		{raw: " HOURS_ONLY ", want: models.JobModeHoursOnly},
		{raw: "TURBO", wantErr: true},
	}

	for _, tt := range tests {
		got, apiErr := parseJobMode(tt.raw)
		if tt.wantErr {
			if apiErr == nil {
				t.Errorf("parseJobMode(%q) = %q, want rejection", tt.raw, got)
			}
			continue
		}
		if apiErr != nil {
			t.Errorf("parseJobMode(%q) error: %v", tt.raw, apiErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseJobMode(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// A failed card insert must remove the blob written just before it, and a
// uniqueness violation surfaces as a conflict.
func TestIngestCleansUpBlobWhenCardCreateFails(t *testing.T) {
	storage, events, uploader := newUploaderFixture()
	storage.cards.createErr = interfaces.ErrDuplicate

	header := fileHeader(t, "march.jpg", "image/jpeg", jpegBytes())
	_, _, apiErr := uploader.Ingest(context.Background(), adminSpec(), header)

	if apiErr == nil {
		t.Fatal("Ingest succeeded despite the failing insert")
	}
	if apiErr.status != http.StatusConflict {
		t.Errorf("status = %d, want 409", apiErr.status)
	}
	if apiErr.message != "duplicate work card" {
		t.Errorf("message = %q", apiErr.message)
	}
	if len(storage.images.deleted) != 1 {
		t.Errorf("blob deletions = %d, want the orphan removed", len(storage.images.deleted))
	}
	if len(storage.images.images) != 0 {
		t.Error("orphaned blob survived cleanup")
	}
	if len(events.published) != 0 {
		t.Error("events published for a card that was never created")
	}
}

func TestIngestUnknownInsertErrorIsInternal(t *testing.T) {
	storage, _, uploader := newUploaderFixture()
	storage.cards.createErr = errors.New("disk on fire")

	header := fileHeader(t, "march.jpg", "image/jpeg", jpegBytes())
	_, _, apiErr := uploader.Ingest(context.Background(), adminSpec(), header)

	if apiErr == nil || apiErr.status != http.StatusInternalServerError {
		t.Fatalf("apiErr = %v, want 500", apiErr)
	}
	if len(storage.images.deleted) != 1 {
		t.Error("orphaned blob not cleaned up")
	}
}

func TestIngestRejectsEmptyFile(t *testing.T) {
	storage, _, uploader := newUploaderFixture()

	header := fileHeader(t, "empty.jpg", "image/jpeg", nil)
	_, _, apiErr := uploader.Ingest(context.Background(), adminSpec(), header)

	if apiErr == nil || apiErr.status != http.StatusBadRequest {
		t.Fatalf("apiErr = %v, want 400", apiErr)
	}
	if apiErr.message != "uploaded file is empty" {
		t.Errorf("message = %q", apiErr.message)
	}
	if len(storage.images.images) != 0 {
		t.Error("blob stored for an empty file")
	}
}

func TestIngestRejectsOversizeFile(t *testing.T) {
	_, _, uploader := newUploaderFixture()

	header := fileHeader(t, "huge.jpg", "image/jpeg", jpegBytes())
	header.Size = maxFileBytes + 1

	_, _, apiErr := uploader.Ingest(context.Background(), adminSpec(), header)
	if apiErr == nil || apiErr.status != http.StatusBadRequest {
		t.Fatalf("apiErr = %v, want 400", apiErr)
	}
	if apiErr.message != "file exceeds the 20MB upload limit" {
		t.Errorf("message = %q", apiErr.message)
	}
}

// A declared PDF still has to parse as one.
func TestIngestRejectsCorruptPDF(t *testing.T) {
	storage, _, uploader := newUploaderFixture()

	header := fileHeader(t, "card.pdf", "application/pdf", []byte("%PDF-not-actually"))
	_, _, apiErr := uploader.Ingest(context.Background(), adminSpec(), header)

	if apiErr == nil || apiErr.status != http.StatusBadRequest {
		t.Fatalf("apiErr = %v, want 400", apiErr)
	}
	if len(storage.images.images) != 0 {
		t.Error("blob stored for a rejected PDF")
	}
}

func TestValidateReferences(t *testing.T) {
	storage, _, uploader := newUploaderFixture()
	storage.sites.byID["site_1"] = models.NewSite("site_1", "biz_1", "North Yard", "NY")
	storage.employees.byID["emp_1"] = models.NewEmployee("emp_1", "biz_1", "Ivan Petrov")

	spec := adminSpec()
	spec.SiteID = strPtr("site_1")
	spec.EmployeeID = strPtr("emp_1")
	if apiErr := uploader.ValidateReferences(context.Background(), spec); apiErr != nil {
		t.Fatalf("valid references rejected: %v", apiErr)
	}

	spec.SiteID = strPtr("site_missing")
	apiErr := uploader.ValidateReferences(context.Background(), spec)
	if apiErr == nil || apiErr.message != "site not found" {
		t.Errorf("apiErr = %v, want site not found", apiErr)
	}

	spec.SiteID = strPtr("site_1")
	spec.EmployeeID = strPtr("emp_missing")
	apiErr = uploader.ValidateReferences(context.Background(), spec)
	if apiErr == nil || apiErr.message != "employee not found" {
		t.Errorf("apiErr = %v, want employee not found", apiErr)
	}
}
