package driven

import "github.com/custodia-labs/docintel/internal/core/domain"

// AuthAdapter signs and verifies bearer tokens.
type AuthAdapter interface {
	// GenerateToken signs claims into a bearer token
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// ParseToken verifies a bearer token and returns its claims.
	// Returns domain.ErrTokenExpired or domain.ErrTokenInvalid.
	ParseToken(token string) (*domain.TokenClaims, error)
}
