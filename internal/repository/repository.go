package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
)

// ErrAlreadyRotated is returned by Rotate when the current token was revoked
// or rotated by a concurrent request before this one could claim it.
var ErrAlreadyRotated = errors.New("refresh token already rotated")

// IdentityRepository defines the interface for identity persistence operations.
type IdentityRepository interface {
	// Create inserts a new identity into the store.
	Create(ctx context.Context, identity *domain.Identity) error

	// GetByID retrieves an identity by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Identity, error)

	// GetByEmail retrieves an identity by its email address.
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)

	// GetByExternal retrieves an identity bound to an external provider subject.
	GetByExternal(ctx context.Context, provider, externalID string) (*domain.Identity, error)

	// Update modifies an existing identity in the store.
	Update(ctx context.Context, identity *domain.Identity) error

	// RecordFailedAttempt atomically increments the failed-attempt counter
	// and applies a lockout once the threshold is crossed. It returns the
	// new counter value.
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockout time.Duration) (int, error)

	// ClearFailedAttempts resets the failed-attempt counter and lockout.
	ClearFailedAttempts(ctx context.Context, id string) error
}

// RefreshTokenRepository defines the interface for refresh token persistence.
// Tokens are stored as sha256 hashes and grouped into rotation families.
type RefreshTokenRepository interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, token *domain.RefreshToken) error

	// GetByHash retrieves a refresh token record by its hash, revoked or not.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// Rotate atomically revokes the token with the given ID and inserts its
	// successor, all in one transaction. The revoke is conditional on the
	// token still being live; if another request rotated it first, Rotate
	// returns ErrAlreadyRotated and inserts nothing.
	Rotate(ctx context.Context, currentID string, successor *domain.RefreshToken) error

	// RevokeFamily revokes every token in the given rotation family.
	// Revoking an already-revoked family is a no-op.
	RevokeFamily(ctx context.Context, familyID string) error

	// RevokeAllForIdentity revokes every live token belonging to the identity.
	RevokeAllForIdentity(ctx context.Context, identityID string) error

	// DeleteExpired removes token rows past their expiry, returning the count.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PasswordResetRepository defines the interface for pending password resets.
// Resets are short-lived and expire via TTL.
type PasswordResetRepository interface {
	// Put stores a pending reset, superseding any pending reset for the
	// same identity.
	Put(ctx context.Context, reset *domain.PasswordReset) error

	// GetByHash retrieves a pending reset by its token hash. Expired resets
	// are absent.
	GetByHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error)

	// Delete removes a pending reset (after redemption).
	Delete(ctx context.Context, tokenHash string) error
}

// ChallengeRepository defines the interface for two-factor challenge storage.
// Challenges are short-lived and expire via TTL.
type ChallengeRepository interface {
	// Put stores a challenge, replacing any active challenge for the same
	// identity and domain.
	Put(ctx context.Context, challenge *domain.TwoFactorChallenge) error

	// Get retrieves a challenge by ID. Expired challenges are absent.
	Get(ctx context.Context, id string) (*domain.TwoFactorChallenge, error)

	// IncrementAttempts atomically bumps the attempt counter and returns the
	// new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// Delete removes a challenge (after successful verification or exhaustion).
	Delete(ctx context.Context, id string) error
}
