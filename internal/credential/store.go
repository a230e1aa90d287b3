package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// Defaults for the lockout policy.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// Store verifies primary credentials against stored identities. It owns the
// lockout policy: repeated failures increment a counter and eventually lock
// the identity out for a fixed duration.
type Store struct {
	identities       repository.IdentityRepository
	lockoutThreshold int
	lockoutDuration  time.Duration
	logger           *slog.Logger
}

// NewStore creates a credential store with the given lockout policy.
// Zero values fall back to the defaults.
func NewStore(identities repository.IdentityRepository, threshold int, lockout time.Duration, logger *slog.Logger) *Store {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	return &Store{
		identities:       identities,
		lockoutThreshold: threshold,
		lockoutDuration:  lockout,
		logger:           logger,
	}
}

// Verify checks email and password against the store. Unknown email and wrong
// password both return InvalidCredentials so responses carry no account
// oracle. A wrong password against a known identity still costs an attempt;
// a correct password resets the counter.
func (s *Store) Verify(ctx context.Context, email, password string) (*domain.Identity, error) {
	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Burn a bcrypt comparison anyway so unknown emails don't
			// answer faster than wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, apperrors.InvalidCredentials()
		}
		return nil, fmt.Errorf("get identity by email: %w", err)
	}

	now := time.Now().UTC()

	if identity.Locked(now) {
		return nil, apperrors.AccountLocked(identity.LockedUntil.Sub(now))
	}

	switch identity.Status {
	case domain.StatusBanned:
		return nil, apperrors.AccountBanned()
	case domain.StatusSuspended, domain.StatusDeactivated:
		return nil, apperrors.InvalidCredentials()
	}

	if identity.PasswordHash == "" {
		// External-only identity; no password to check.
		return nil, apperrors.InvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		attempts, recErr := s.identities.RecordFailedAttempt(ctx, identity.ID, s.lockoutThreshold, s.lockoutDuration)
		if recErr != nil {
			s.logger.ErrorContext(ctx, "failed to record login attempt",
				slog.String("identity_id", identity.ID),
				slog.String("error", recErr.Error()),
			)
		} else if attempts >= s.lockoutThreshold {
			s.logger.WarnContext(ctx, "identity locked out",
				slog.String("identity_id", identity.ID),
				slog.Int("attempts", attempts),
			)
		}
		return nil, apperrors.InvalidCredentials()
	}

	if identity.FailedAttempts > 0 {
		if err := s.identities.ClearFailedAttempts(ctx, identity.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to clear login attempts",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return identity, nil
}

// VerifyPassword checks a password against an already-loaded identity without
// touching the lockout counter. Used for re-authentication on password change.
func (s *Store) VerifyPassword(identity *domain.Identity, password string) error {
	if identity.PasswordHash == "" {
		return apperrors.InvalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return apperrors.InvalidCredentials()
	}
	return nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// dummyHash is a bcrypt hash of an unguessable value, compared against when
// the email is unknown to equalize response timing.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("credential-store-timing-pad"), bcryptCost)
	if err != nil {
		panic(err)
	}
	return h
}()
