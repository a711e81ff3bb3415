package domain

import "time"

// Role grants access to write operations
type Role string

const (
	// RoleAdmin may run maintenance operations and modify commitments
	RoleAdmin Role = "admin"
	// RoleMember may upload documents and modify commitments
	RoleMember Role = "member"
	// RoleViewer has read-only access
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may change state
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleMember
}

// AuthContext identifies the caller of a request. Subject becomes the
// Actor of every interaction the request records.
type AuthContext struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
	Role    Role   `json:"role"`
}

// IsAdmin checks if the caller is an admin
func (a *AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Actor returns the audit actor for the caller
func (a *AuthContext) Actor() string {
	if a == nil || a.Subject == "" {
		return ActorSystem
	}
	return a.Subject
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// NewTokenClaims builds claims valid for ttl from now
func NewTokenClaims(subject, email string, role Role, now time.Time, ttl time.Duration) *TokenClaims {
	return &TokenClaims{
		Subject:   subject,
		Email:     email,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// AuthContext converts validated claims into a request auth context
func (c *TokenClaims) AuthContext() *AuthContext {
	role := c.Role
	if !role.IsValid() {
		role = RoleViewer
	}
	return &AuthContext{Subject: c.Subject, Email: c.Email, Role: role}
}
