package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/docintel/internal/adapters/driven/auth"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/services"
)

// issueToken prints a bearer token for TOKEN_SUBJECT signed with JWT_SECRET.
// Operators use it to mint admin and service-account tokens.
func issueToken(ctx context.Context, out io.Writer) error {
	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return errors.New("JWT_SECRET is required to issue tokens")
	}
	adapter, err := auth.NewAdapter(secret)
	if err != nil {
		return err
	}

	role := domain.Role(strings.ToLower(getEnv("TOKEN_ROLE", string(domain.RoleMember))))
	token, err := services.NewAuthService(adapter).IssueToken(ctx,
		getEnv("TOKEN_SUBJECT", ""),
		getEnv("TOKEN_EMAIL", ""),
		role,
		getEnvDuration("TOKEN_TTL", 24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to issue %s token: %w", role, err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
