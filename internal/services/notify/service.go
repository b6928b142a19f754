// Package notify delivers portal upload links to responsible employees. The
// real SMS/WhatsApp transport lives outside this service; the default
// implementation records the send in the log so operators can relay the link
// manually in environments without a gateway.
package notify

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/models"
)

// LogMessenger implements interfaces.Messenger by logging the link. Sends
// never fail; a missing gateway must not block link creation.
type LogMessenger struct {
	logger arbor.ILogger
}

// NewLogMessenger creates the log-only messenger.
func NewLogMessenger(logger arbor.ILogger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

// SendUploadLink records the link for manual delivery.
func (m *LogMessenger) SendUploadLink(ctx context.Context, phone string, request *models.UploadAccessRequest, url string) error {
	m.logger.Info().
		Str("access_request_id", request.ID).
		Str("business_id", request.BusinessID).
		Str("site_id", request.SiteID).
		Str("employee_id", request.EmployeeID).
		Str("month", models.FormatMonth(request.ProcessingMonth)).
		Str("phone", maskPhone(phone)).
		Str("url", url).
		Msg("Upload link ready for delivery")
	return nil
}

// maskPhone hides all but the last four digits in logs.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i >= len(phone)-4 {
			masked[i] = phone[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}
