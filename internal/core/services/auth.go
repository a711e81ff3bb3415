package services

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// authService implements the AuthService interface
type authService struct {
	authAdapter driven.AuthAdapter
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(authAdapter driven.AuthAdapter) driving.AuthService {
	return &authService{
		authAdapter: authAdapter,
		now:         time.Now,
	}
}

// ValidateToken validates a bearer token and returns the auth context
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}

	claims, err := s.authAdapter.ParseToken(token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}

	return claims.AuthContext(), nil
}

// IssueToken signs a token for subject valid for ttl
func (s *authService) IssueToken(ctx context.Context, subject, email string, role domain.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", domain.MissingField("subject")
	}
	if !role.IsValid() {
		return "", domain.ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.authAdapter.GenerateToken(domain.NewTokenClaims(subject, email, role, s.now(), ttl))
}
