package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	pool PgxPool
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(pool PgxPool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

const tokenColumns = `id, identity_id, domain, family_id, token_hash, issued_at, expires_at, revoked, replaced_by`

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.IdentityID,
		t.Domain,
		t.FamilyID,
		t.TokenHash,
		t.IssuedAt,
		t.ExpiresAt,
		t.Revoked,
		t.ReplacedBy,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByHash retrieves a refresh token record by its hash, revoked or not.
// Revoked rows must stay visible so redemption of a rotated token can be
// recognized as replay rather than an unknown token.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	var t domain.RefreshToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID,
		&t.IdentityID,
		&t.Domain,
		&t.FamilyID,
		&t.TokenHash,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.Revoked,
		&t.ReplacedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &t, nil
}

// Rotate atomically revokes the current token and inserts its successor in
// one transaction. The revoke is a compare-and-swap on revoked = false: if
// zero rows are affected a concurrent request won the rotation, the
// transaction rolls back, and ErrAlreadyRotated is returned. This is what
// makes refresh tokens single-use under concurrent redemption.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, currentID string, successor *domain.RefreshToken) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, replaced_by = $2
		WHERE id = $1 AND revoked = false`,
		currentID, successor.ID,
	)
	if err != nil {
		return fmt.Errorf("revoke current token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrAlreadyRotated
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		successor.ID,
		successor.IdentityID,
		successor.Domain,
		successor.FamilyID,
		successor.TokenHash,
		successor.IssuedAt,
		successor.ExpiresAt,
		successor.Revoked,
		successor.ReplacedBy,
	)
	if err != nil {
		return fmt.Errorf("insert successor token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}

	return nil
}

// RevokeFamily revokes every token in the given rotation family. Revoking an
// already-revoked family affects zero rows, which is fine: revocation is
// idempotent.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	query := `UPDATE refresh_tokens SET revoked = true WHERE family_id = $1 AND revoked = false`

	if _, err := r.pool.Exec(ctx, query, familyID); err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}

	return nil
}

// RevokeAllForIdentity revokes every live token belonging to the identity.
func (r *RefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	query := `UPDATE refresh_tokens SET revoked = true WHERE identity_id = $1 AND revoked = false`

	if _, err := r.pool.Exec(ctx, query, identityID); err != nil {
		return fmt.Errorf("revoke all for identity: %w", err)
	}

	return nil
}

// DeleteExpired removes token rows past their expiry, returning the count.
// Run periodically; expired rows carry no replay signal worth keeping.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return ct.RowsAffected(), nil
}
