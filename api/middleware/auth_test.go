package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{Secret: "secret", Issuer: "projecthub", ExpirationMinutes: 60}

func mintTestToken(t *testing.T, role enums.UserRole) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := auth.MintAccessToken(testJWTConfig, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		Email:  "buyer@example.com",
	})
	require.NoError(t, err)
	return token, userID
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsPrincipal(t *testing.T) {
	token, userID := mintTestToken(t, enums.UserRoleBuyer)

	var captured auth.Principal
	var found bool
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, found = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, found)
	assert.Equal(t, userID, captured.UserID)
	assert.Equal(t, enums.UserRoleBuyer, captured.Role)
	assert.Equal(t, "buyer@example.com", captured.Email)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		role enums.UserRole
		want int
	}{
		{"admin allowed", enums.UserRoleAdmin, http.StatusOK},
		{"buyer forbidden", enums.UserRoleBuyer, http.StatusForbidden},
		{"seller forbidden", enums.UserRoleSeller, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _ := mintTestToken(t, tt.role)
			chain := Auth(testJWTConfig, nil)(RequireRole(nil, enums.UserRoleAdmin)(okHandler()))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp := httptest.NewRecorder()
			chain.ServeHTTP(resp, req)
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestRequireRoleWithoutPrincipal(t *testing.T) {
	resp := httptest.NewRecorder()
	RequireRole(nil, enums.UserRoleAdmin)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
