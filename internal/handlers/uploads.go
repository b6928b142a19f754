package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/kardex-io/kardex/internal/services/pdf"
)

// Upload limits. The in-memory threshold is what ParseMultipartForm buffers
// before spilling to disk; the body cap bounds a whole batch request.
const (
	maxUploadBodyBytes   = 64 << 20 // whole multipart request
	maxUploadMemoryBytes = 16 << 20 // buffered before temp files
	maxFileBytes         = 20 << 20 // single card photo or PDF
)

// allowedMimeTypes are the card upload formats. PDF additionally passes
// through structural validation before acceptance.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// apiError pairs a failure with the HTTP status it maps onto. Data carries
// conflict payloads on 409s.
type apiError struct {
	status  int
	message string
	data    interface{}
}

func (e *apiError) Error() string { return e.message }

func (e *apiError) write(w http.ResponseWriter) {
	if e.data != nil {
		WriteErrorData(w, e.status, e.message, e.data)
		return
	}
	WriteError(w, e.status, e.message)
}

func badRequest(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: message}
}

// uploadSpec scopes one ingested file: the tenant, the optional site and
// employee references, the accounting month and the ingest path.
type uploadSpec struct {
	BusinessID string
	SiteID     *string
	EmployeeID *string
	Month      time.Time
	Source     models.CardSource
	Mode       models.JobMode
	UploadedBy string
}

// Uploader runs the ingest protocol shared by the admin and portal upload
// endpoints: validate the file, store the blob, create the card with its
// PENDING extraction job in one transaction, publish the events.
type Uploader struct {
	cards     interfaces.WorkCardStorage
	images    interfaces.ImageStorage
	employees interfaces.EmployeeStorage
	sites     interfaces.SiteStorage
	pdf       *pdf.Validator
	events    interfaces.EventService
	cache     interfaces.DashboardCache
	logger    arbor.ILogger
}

// NewUploader creates the shared ingest helper.
func NewUploader(cards interfaces.WorkCardStorage, images interfaces.ImageStorage, employees interfaces.EmployeeStorage, sites interfaces.SiteStorage, pdfValidator *pdf.Validator, events interfaces.EventService, cache interfaces.DashboardCache, logger arbor.ILogger) *Uploader {
	return &Uploader{
		cards:     cards,
		images:    images,
		employees: employees,
		sites:     sites,
		pdf:       pdfValidator,
		events:    events,
		cache:     cache,
		logger:    logger,
	}
}

// ValidateReferences checks the spec's site and employee against the tenant
// before any bytes are stored.
func (u *Uploader) ValidateReferences(ctx context.Context, spec uploadSpec) *apiError {
	if spec.BusinessID == "" {
		return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
	}
	if spec.SiteID != nil {
		if _, err := u.sites.GetByID(ctx, spec.BusinessID, *spec.SiteID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return badRequest("site not found")
			}
			return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
		}
	}
	if spec.EmployeeID != nil {
		if _, err := u.employees.GetByID(ctx, spec.BusinessID, *spec.EmployeeID); err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return badRequest("employee not found")
			}
			return &apiError{status: http.StatusInternalServerError, message: "internal server error"}
		}
	}
	return nil
}

// Ingest validates and stores one uploaded file, returning the created card
// and its queue job. The blob is written first so the job can never observe
// a card without bytes; a failed card insert removes the orphaned blob.
func (u *Uploader) Ingest(ctx context.Context, spec uploadSpec, header *multipart.FileHeader) (*models.WorkCard, *models.ExtractionJob, *apiError) {
	if header.Size > maxFileBytes {
		return nil, nil, badRequest("file exceeds the 20MB upload limit")
	}

	file, err := header.Open()
	if err != nil {
		return nil, nil, badRequest("unreadable upload: " + err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxFileBytes+1))
	if err != nil {
		return nil, nil, badRequest("unreadable upload: " + err.Error())
	}
	if len(data) == 0 {
		return nil, nil, badRequest("uploaded file is empty")
	}
	if int64(len(data)) > maxFileBytes {
		return nil, nil, badRequest("file exceeds the 20MB upload limit")
	}

	mimeType, apiErr := resolveMimeType(header, data)
	if apiErr != nil {
		return nil, nil, apiErr
	}
	if mimeType == "application/pdf" {
		if _, err := u.pdf.Validate(data); err != nil {
			return nil, nil, badRequest("invalid PDF: " + err.Error())
		}
	}

	card := models.NewWorkCard(
		common.NewCardID(),
		spec.BusinessID,
		spec.SiteID,
		spec.EmployeeID,
		spec.Month,
		spec.Source,
		header.Filename,
		mimeType,
		int64(len(data)),
	)
	job := models.NewExtractionJob(common.NewJobID(), card.ID, spec.Mode)

	image := models.NewCardImage(card.ID, data, mimeType, header.Filename)
	if err := u.images.Put(ctx, image); err != nil {
		u.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Storing card image failed")
		return nil, nil, &apiError{status: http.StatusInternalServerError, message: "storing upload failed"}
	}

	if err := u.cards.CreateWithJob(ctx, card, job); err != nil {
		if delErr := u.images.Delete(ctx, card.ID); delErr != nil {
			u.logger.Warn().Err(delErr).Str("work_card_id", card.ID).Msg("Orphaned blob cleanup failed")
		}
		if errors.Is(err, interfaces.ErrDuplicate) {
			return nil, nil, &apiError{status: http.StatusConflict, message: "duplicate work card"}
		}
		u.logger.Error().Err(err).Str("work_card_id", card.ID).Msg("Creating work card failed")
		return nil, nil, &apiError{status: http.StatusInternalServerError, message: "creating work card failed"}
	}

	u.logger.Info().
		Str("work_card_id", card.ID).
		Str("job_id", job.ID).
		Str("business_id", card.BusinessID).
		Str("source", string(card.Source)).
		Str("month", card.MonthKey()).
		Int64("size_bytes", card.SizeBytes).
		Msg("Work card ingested")

	u.publish(ctx, interfaces.EventCardUploaded, map[string]interface{}{
		"work_card_id":  card.ID,
		"business_id":   card.BusinessID,
		"review_status": string(card.ReviewStatus),
		"source":        string(card.Source),
		"month":         card.MonthKey(),
	})
	u.publish(ctx, interfaces.EventJobQueued, map[string]interface{}{
		"job_id":       job.ID,
		"work_card_id": card.ID,
		"status":       string(job.Status),
	})
	if u.cache != nil {
		u.cache.Invalidate(card.BusinessID, card.ProcessingMonth)
	}

	return card, job, nil
}

func (u *Uploader) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if u.events == nil {
		return
	}
	if err := u.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		u.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish upload event")
	}
}

// resolveMimeType trusts the declared content type when it is an accepted
// format and falls back to sniffing the leading bytes otherwise.
func resolveMimeType(header *multipart.FileHeader, data []byte) (string, *apiError) {
	declared := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if allowedMimeTypes[declared] {
		if declared == "image/jpg" {
			return "image/jpeg", nil
		}
		return declared, nil
	}

	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = strings.TrimSpace(sniffed[:i])
	}
	if allowedMimeTypes[sniffed] {
		return sniffed, nil
	}
	return "", badRequest("unsupported file type (want JPEG, PNG, GIF, WebP or PDF)")
}

// parseJobMode parses the optional extraction mode form value.
func parseJobMode(raw string) (models.JobMode, *apiError) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return models.JobModeFull, nil
	case string(models.JobModeFull):
		return models.JobModeFull, nil
	case string(models.JobModeHoursOnly):
		return models.JobModeHoursOnly, nil
	default:
		return "", badRequest("invalid mode (want FULL or HOURS_ONLY)")
	}
}
