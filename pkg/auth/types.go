package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller. Every principal carries exactly
// one role, identified by id.
type Principal struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

// Claims is the JWT payload issued to principals. The subject is the user id.
type Claims struct {
	RoleID string `json:"role"`
	jwt.RegisteredClaims
}

// Principal returns the caller described by the claims
func (c *Claims) Principal() *Principal {
	return &Principal{UserID: c.Subject, RoleID: c.RoleID}
}

// AuthContext holds the authentication state of a request
type AuthContext struct {
	Principal *Principal
	TokenID   string
	ExpiresAt time.Time
}

// UserID returns the authenticated user id, or empty when unauthenticated
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.UserID
}

// RoleID returns the role id of the principal, or empty
func (ac *AuthContext) RoleID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.RoleID
}
