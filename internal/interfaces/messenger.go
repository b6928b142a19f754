package interfaces

import (
	"context"

	"github.com/kardex-io/kardex/internal/models"
)

// Messenger delivers upload links to responsible employees. SMS/WhatsApp
// transports live outside this service; the default implementation only logs.
type Messenger interface {
	SendUploadLink(ctx context.Context, phone string, request *models.UploadAccessRequest, url string) error
}
