package auth

import (
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	Email  string
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	Email  string         `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller handed to core operations.
type Principal struct {
	UserID uuid.UUID
	Role   enums.UserRole
	Email  string
}

// IsAdmin reports whether the caller may act on other users' records.
func (p Principal) IsAdmin() bool {
	return p.Role == enums.UserRoleAdmin
}

// Principal extracts the caller identity from validated claims.
func (c *AccessTokenClaims) Principal() Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{UserID: c.UserID, Role: c.Role, Email: c.Email}
}
