package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/config"
	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

// ContextBuilder resolves tokens into identities.
type ContextBuilder struct {
	Verifier  Verifier
	Directory store.UserDirectory
	Logger    *slog.Logger
}

// Resolve verifies token and returns the caller's identity. The first
// successful call for a subject registers it in the directory as a
// regular user.
func (b *ContextBuilder) Resolve(ctx context.Context, token string) (models.Identity, error) {
	claims, err := b.Verifier.Verify(ctx, token)
	if err != nil {
		return models.Identity{}, err
	}

	user, created, err := b.Directory.FindOrCreateUser(ctx, claims.SubjectID, claims.Email)
	if err != nil {
		b.logger().Error("user directory lookup failed", "subject", claims.SubjectID, "err", err)
		return models.Identity{}, unauthenticated("resolving user: %v", err)
	}
	if created {
		b.logger().Info("registered new user", "subject", user.SubjectID, "email", user.Email)
	}

	return models.Identity{
		SubjectID: user.SubjectID,
		Email:     user.Email,
		Role:      user.Role(),
	}, nil
}

func (b *ContextBuilder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// NewVerifier builds the verifier selected by cfg. In firebase mode the
// signing keys are refreshed in the background until ctx ends.
func NewVerifier(ctx context.Context, cfg config.AuthConfig, clock abtime.AbstractTime, logger *slog.Logger) (Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case config.AuthFirebase:
		keys, err := NewJWKSKeySource(ctx, cfg.Firebase.JWKSURL, nil, logger)
		if err != nil {
			return nil, err
		}
		return NewFirebaseVerifier(cfg.Firebase.ProjectID, keys, clock), nil
	case config.AuthHMAC:
		logger.Warn("using shared-secret token verification; do not use in production")
		return NewHMACVerifier([]byte(cfg.HMAC.Secret), cfg.HMAC.Issuer, cfg.HMAC.Audience, clock), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
