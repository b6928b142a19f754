package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/models"
)

const testSecret = "test-secret-do-not-use-in-production"

type stoppedClock struct{ at time.Time }

func (c stoppedClock) Now() time.Time { return c.at }

func newTestService(at time.Time) *Service {
	config := common.NewDefaultConfig()
	config.Auth.JWTSecret = testSecret
	config.Auth.PortalTokenTTLSeconds = 3600
	return NewService(config, stoppedClock{at: at}, arbor.NewLogger()).(*Service)
}

func signAdminToken(t *testing.T, secret string, claims adminClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestVerifyAccessToken(t *testing.T) {
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	token := signAdminToken(t, testSecret, adminClaims{
		BusinessID: "biz_1",
		Role:       models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	principal, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if principal.UserID != "user_1" || principal.BusinessID != "biz_1" {
		t.Errorf("principal = %+v, want user_1/biz_1", principal)
	}
	if principal.Role != models.RoleAdmin {
		t.Errorf("role = %q, want %q", principal.Role, models.RoleAdmin)
	}
	if principal.IsPortal() {
		t.Error("admin principal reported as portal")
	}
}

func TestVerifyAccessTokenDefaultsRole(t *testing.T) {
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	token := signAdminToken(t, testSecret, adminClaims{
		BusinessID: "biz_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	principal, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if principal.Role != models.RoleManager {
		t.Errorf("role = %q, want default %q", principal.Role, models.RoleManager)
	}
}

func TestVerifyAccessTokenRejections(t *testing.T) {
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	valid := jwt.RegisteredClaims{
		Subject:   "user_1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", signAdminToken(t, "some-other-secret", adminClaims{
			BusinessID:       "biz_1",
			RegisteredClaims: valid,
		})},
		{"expired", signAdminToken(t, testSecret, adminClaims{
			BusinessID: "biz_1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user_1",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			},
		})},
		{"missing business", signAdminToken(t, testSecret, adminClaims{
			RegisteredClaims: valid,
		})},
		{"missing subject", signAdminToken(t, testSecret, adminClaims{
			BusinessID: "biz_1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.VerifyAccessToken(tt.token); err != ErrInvalidToken {
				t.Errorf("VerifyAccessToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestPortalTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	request := &models.UploadAccessRequest{
		ID:              "link_1",
		BusinessID:      "biz_1",
		SiteID:          "site_1",
		EmployeeID:      "emp_1",
		ProcessingMonth: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:          true,
	}

	token, expiresAt, err := svc.IssuePortalToken(request)
	if err != nil {
		t.Fatalf("IssuePortalToken failed: %v", err)
	}
	if want := now.Add(time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	principal, err := svc.VerifyPortalToken(token)
	if err != nil {
		t.Fatalf("VerifyPortalToken failed: %v", err)
	}
	if !principal.IsPortal() {
		t.Error("portal principal not flagged as portal")
	}
	if principal.AccessRequestID != "link_1" {
		t.Errorf("access_request_id = %q, want link_1", principal.AccessRequestID)
	}
	if principal.BusinessID != "biz_1" || principal.SiteID != "site_1" || principal.EmployeeID != "emp_1" {
		t.Errorf("principal scope = %+v", principal)
	}
	if got := models.FormatMonth(principal.ProcessingMonth); got != "2025-03-01" {
		t.Errorf("processing month = %q, want 2025-03-01", got)
	}
}

func TestPortalTokenExpires(t *testing.T) {
	issuedAt := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(issuedAt)

	request := &models.UploadAccessRequest{
		ID:              "link_1",
		BusinessID:      "biz_1",
		SiteID:          "site_1",
		EmployeeID:      "emp_1",
		ProcessingMonth: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	token, _, err := svc.IssuePortalToken(request)
	if err != nil {
		t.Fatalf("IssuePortalToken failed: %v", err)
	}

	// Same secret, but the clock has moved past the TTL.
	later := newTestService(issuedAt.Add(2 * time.Hour))
	if _, err := later.VerifyPortalToken(token); err != ErrInvalidToken {
		t.Errorf("VerifyPortalToken after expiry = %v, want ErrInvalidToken", err)
	}
}

func TestPortalTokenRejectedByAdminVerify(t *testing.T) {
	now := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)
	svc := newTestService(now)

	request := &models.UploadAccessRequest{
		ID:              "link_1",
		BusinessID:      "biz_1",
		SiteID:          "site_1",
		EmployeeID:      "emp_1",
		ProcessingMonth: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	token, _, err := svc.IssuePortalToken(request)
	if err != nil {
		t.Fatalf("IssuePortalToken failed: %v", err)
	}

	// A portal token shares the signing secret but must never grant admin
	// access; the scope claim distinguishes the two.
	if _, err := svc.VerifyAccessToken(token); err != ErrInvalidToken {
		t.Errorf("VerifyAccessToken(portal token) = %v, want ErrInvalidToken", err)
	}

	// An admin token must not pass portal verification.
	adminToken := signAdminToken(t, testSecret, adminClaims{
		BusinessID: "biz_1",
		Role:       models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	if _, err := svc.VerifyPortalToken(adminToken); err != ErrInvalidToken {
		t.Errorf("VerifyPortalToken(admin token) = %v, want ErrInvalidToken", err)
	}
}
