package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// AuthService validates bearer tokens
type AuthService interface {
	// ValidateToken validates a token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)

	// IssueToken signs a token for a subject (operator tooling)
	IssueToken(ctx context.Context, subject, email string, role domain.Role, ttl time.Duration) (string, error)
}
