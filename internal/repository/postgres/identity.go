package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// IdentityRepository implements repository.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	pool PgxPool
}

// NewIdentityRepository creates a new PostgreSQL-backed identity repository.
func NewIdentityRepository(pool PgxPool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, email, password_hash, first_name, last_name, phone, roles, status,
	email_verified, phone_verified, two_factor_enabled, two_factor_method, two_factor_secret,
	external_provider, external_id, failed_attempts, locked_until, created_at, updated_at`

// Create inserts a new identity into the database.
func (r *IdentityRepository) Create(ctx context.Context, i *domain.Identity) error {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.pool.Exec(ctx, query,
		i.ID,
		i.Email,
		i.PasswordHash,
		i.FirstName,
		i.LastName,
		i.Phone,
		i.Roles,
		i.Status,
		i.EmailVerified,
		i.PhoneVerified,
		i.TwoFactorEnabled,
		i.TwoFactorMethod,
		i.TwoFactorSecret,
		i.ExternalProvider,
		i.ExternalID,
		i.FailedAttempts,
		i.LockedUntil,
		i.CreatedAt,
		i.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("identity", "email", i.Email)
		}
		return fmt.Errorf("insert identity: %w", err)
	}

	return nil
}

// GetByID retrieves an identity by its ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return r.scanIdentity(ctx, query, id)
}

// GetByEmail retrieves an identity by its email address. The email column is
// citext so lookups are case-insensitive.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return r.scanIdentity(ctx, query, email)
}

// GetByExternal retrieves an identity bound to an external provider subject.
func (r *IdentityRepository) GetByExternal(ctx context.Context, provider, externalID string) (*domain.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE external_provider = $1 AND external_id = $2`
	return r.scanIdentity(ctx, query, provider, externalID)
}

// Update modifies an existing identity in the database.
func (r *IdentityRepository) Update(ctx context.Context, i *domain.Identity) error {
	i.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE identities
		SET email = $1, password_hash = $2, first_name = $3, last_name = $4, phone = $5,
		    roles = $6, status = $7, email_verified = $8, phone_verified = $9,
		    two_factor_enabled = $10, two_factor_method = $11, two_factor_secret = $12,
		    external_provider = $13, external_id = $14, updated_at = $15
		WHERE id = $16`

	ct, err := r.pool.Exec(ctx, query,
		i.Email,
		i.PasswordHash,
		i.FirstName,
		i.LastName,
		i.Phone,
		i.Roles,
		i.Status,
		i.EmailVerified,
		i.PhoneVerified,
		i.TwoFactorEnabled,
		i.TwoFactorMethod,
		i.TwoFactorSecret,
		i.ExternalProvider,
		i.ExternalID,
		i.UpdatedAt,
		i.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("identity", "email", i.Email)
		}
		return fmt.Errorf("update identity: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("identity", i.ID)
	}

	return nil
}

// RecordFailedAttempt atomically increments the failed-attempt counter and,
// once the threshold is crossed, sets locked_until. Doing this in one
// statement keeps concurrent wrong-password attempts from losing counts.
func (r *IdentityRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockout time.Duration) (int, error) {
	query := `
		UPDATE identities
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN now() + $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts`

	var attempts int
	err := r.pool.QueryRow(ctx, query, id, threshold, lockout).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}

	return attempts, nil
}

// ClearFailedAttempts resets the failed-attempt counter and lockout.
func (r *IdentityRepository) ClearFailedAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE identities
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("identity", id)
	}

	return nil
}

// scanIdentity is a helper that executes a query expected to return a single identity row.
func (r *IdentityRepository) scanIdentity(ctx context.Context, query string, args ...any) (*domain.Identity, error) {
	var i domain.Identity

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Phone,
		&i.Roles,
		&i.Status,
		&i.EmailVerified,
		&i.PhoneVerified,
		&i.TwoFactorEnabled,
		&i.TwoFactorMethod,
		&i.TwoFactorSecret,
		&i.ExternalProvider,
		&i.ExternalID,
		&i.FailedAttempts,
		&i.LockedUntil,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	return &i, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
