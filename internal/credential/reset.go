package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// ResetSender delivers a password reset token to the identity out of band.
type ResetSender interface {
	SendReset(ctx context.Context, identity *domain.Identity, token string) error
}

// ResetManager owns the forgot-password flow: it mints opaque reset tokens,
// stores only their hashes, and swaps the password hash on redemption. At
// most one reset is pending per identity.
type ResetManager struct {
	resets     repository.PasswordResetRepository
	identities repository.IdentityRepository
	sender     ResetSender
	logger     *slog.Logger
}

// NewResetManager creates a reset manager.
func NewResetManager(
	resets repository.PasswordResetRepository,
	identities repository.IdentityRepository,
	sender ResetSender,
	logger *slog.Logger,
) *ResetManager {
	return &ResetManager{
		resets:     resets,
		identities: identities,
		sender:     sender,
		logger:     logger,
	}
}

// Start opens a reset for the identity behind the email and delivers the
// token. Unknown emails and non-active identities succeed silently so the
// endpoint answers nothing about which accounts exist. Locked identities may
// still reset: the reset is the way out of a forgotten password.
func (m *ResetManager) Start(ctx context.Context, email string) error {
	identity, err := m.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get identity by email: %w", err)
	}

	switch identity.Status {
	case domain.StatusBanned, domain.StatusDeactivated:
		return nil
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.resets.Put(ctx, &domain.PasswordReset{
		IdentityID: identity.ID,
		TokenHash:  hash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(domain.PasswordResetTTL),
	}); err != nil {
		return fmt.Errorf("store reset: %w", err)
	}

	if err := m.sender.SendReset(ctx, identity, raw); err != nil {
		m.logger.ErrorContext(ctx, "failed to deliver reset token",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return apperrors.Unavailable(fmt.Errorf("deliver reset: %w", err))
	}

	m.logger.InfoContext(ctx, "password reset requested",
		slog.String("identity_id", identity.ID),
	)

	return nil
}

// Complete redeems a reset token and swaps in the new password hash. The
// reset is consumed, the lockout counter cleared. Unknown or expired tokens
// report TokenInvalid.
func (m *ResetManager) Complete(ctx context.Context, token, newPassword string) (*domain.Identity, error) {
	hash := hashResetToken(token)

	reset, err := m.resets.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TokenInvalid()
		}
		return nil, fmt.Errorf("look up reset: %w", err)
	}
	if reset.Expired(time.Now().UTC()) {
		_ = m.resets.Delete(ctx, hash)
		return nil, apperrors.TokenInvalid()
	}

	identity, err := m.identities.GetByID(ctx, reset.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity for reset: %w", err)
	}
	if identity.Status == domain.StatusBanned {
		return nil, apperrors.TokenInvalid()
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	identity.PasswordHash = passwordHash
	identity.FailedAttempts = 0
	identity.LockedUntil = nil
	identity.UpdatedAt = time.Now().UTC()
	if err := m.identities.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}

	if err := m.resets.Delete(ctx, hash); err != nil {
		m.logger.ErrorContext(ctx, "failed to consume reset",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	return identity, nil
}

// newResetToken generates a 256-bit random reset token, returning the raw
// base64url value mailed to the user and the hex sha256 hash that gets stored.
func newResetToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashResetToken(raw), nil
}

// hashResetToken returns the hex sha256 of a raw reset token value.
func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
