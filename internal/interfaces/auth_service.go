package interfaces

import (
	"time"

	"github.com/kardex-io/kardex/internal/models"
)

// AuthService verifies admin bearer tokens and issues/verifies portal
// session tokens. Admin tokens come from the external identity service and
// share the HS256 secret; portal tokens are minted here with the
// RESPONSIBLE_EMPLOYEE_UPLOAD scope.
type AuthService interface {
	VerifyAccessToken(token string) (*models.Principal, error)
	IssuePortalToken(request *models.UploadAccessRequest) (string, time.Time, error)
	VerifyPortalToken(token string) (*models.Principal, error)
}
