package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
	"github.com/ternarybob/arbor"
)

// Verification failures are collapsed into ErrInvalidToken so handlers never
// leak whether a token was malformed, expired, or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid or expired token")

// adminClaims is the payload of tokens minted by the external identity
// service. Only HS256 with the shared secret is accepted. Scope is read so
// portal tokens, which share the secret, can be rejected here.
type adminClaims struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	Scope      string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// portalClaims is the payload of portal session tokens minted here after a
// responsible employee verifies an upload link.
type portalClaims struct {
	Scope           string `json:"scope"`
	RequestID       string `json:"request_id"`
	BusinessID      string `json:"business_id"`
	SiteID          string `json:"site_id"`
	EmployeeID      string `json:"employee_id"`
	ProcessingMonth string `json:"processing_month"`
	jwt.RegisteredClaims
}

// Service verifies admin bearer tokens and mints portal session tokens.
type Service struct {
	secret         []byte
	portalTokenTTL time.Duration
	clock          interfaces.Clock
	logger         arbor.ILogger
}

// NewService creates a new auth service sharing the HS256 secret with the
// identity service.
func NewService(config *common.Config, clock interfaces.Clock, logger arbor.ILogger) interfaces.AuthService {
	return &Service{
		secret:         []byte(config.Auth.JWTSecret),
		portalTokenTTL: config.PortalTokenTTL(),
		clock:          clock,
		logger:         logger,
	}
}

// VerifyAccessToken validates an admin bearer token and returns its principal.
func (s *Service) VerifyAccessToken(tokenString string) (*models.Principal, error) {
	claims := &adminClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.Subject == "" || claims.BusinessID == "" {
		s.logger.Debug().Msg("Admin token missing subject or business claim")
		return nil, ErrInvalidToken
	}
	if claims.Scope != "" {
		// Portal tokens share the signing secret but never grant admin access.
		s.logger.Debug().Str("scope", claims.Scope).Msg("Scoped token rejected for admin access")
		return nil, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = models.RoleManager
	}

	return &models.Principal{
		UserID:     claims.Subject,
		BusinessID: claims.BusinessID,
		Role:       role,
	}, nil
}

// IssuePortalToken mints a short-lived session token scoped to one upload
// access request. The token carries everything the upload endpoint needs, so
// the portal never accepts client-supplied identifiers.
func (s *Service) IssuePortalToken(request *models.UploadAccessRequest) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.portalTokenTTL)

	claims := &portalClaims{
		Scope:           models.PortalScope,
		RequestID:       request.ID,
		BusinessID:      request.BusinessID,
		SiteID:          request.SiteID,
		EmployeeID:      request.EmployeeID,
		ProcessingMonth: models.FormatMonth(request.ProcessingMonth),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   request.EmployeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign portal token: %w", err)
	}

	s.logger.Debug().
		Str("access_request_id", request.ID).
		Str("employee_id", request.EmployeeID).
		Msg("Portal token issued")

	return signed, expiresAt, nil
}

// VerifyPortalToken validates a portal session token and returns its
// principal. Tokens without the upload scope are rejected.
func (s *Service) VerifyPortalToken(tokenString string) (*models.Principal, error) {
	claims := &portalClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.Scope != models.PortalScope {
		s.logger.Debug().Str("scope", claims.Scope).Msg("Portal token has wrong scope")
		return nil, ErrInvalidToken
	}
	if claims.RequestID == "" || claims.BusinessID == "" || claims.EmployeeID == "" {
		return nil, ErrInvalidToken
	}

	month, err := models.ParseMonth(claims.ProcessingMonth)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &models.Principal{
		UserID:          claims.Subject,
		BusinessID:      claims.BusinessID,
		PortalScope:     claims.Scope,
		AccessRequestID: claims.RequestID,
		SiteID:          claims.SiteID,
		EmployeeID:      claims.EmployeeID,
		ProcessingMonth: month,
	}, nil
}

func (s *Service) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		s.logger.Debug().Err(err).Msg("Token verification failed")
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
