package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// PasswordResetRepository implements repository.PasswordResetRepository on
// Redis. Resets are keyed by token hash and expire via key TTL. A per-identity
// pointer key enforces at most one pending reset: Put overwrites the pointer
// and deletes whatever reset it previously referenced.
type PasswordResetRepository struct {
	client *redis.Client
}

// NewPasswordResetRepository creates a Redis-backed reset repository.
func NewPasswordResetRepository(client *redis.Client) *PasswordResetRepository {
	return &PasswordResetRepository{client: client}
}

func resetKey(tokenHash string) string {
	return "auth:pwreset:token:" + tokenHash
}

func pendingKey(identityID string) string {
	return "auth:pwreset:pending:" + identityID
}

// Put stores a pending reset, superseding any pending reset for the same
// identity.
func (r *PasswordResetRepository) Put(ctx context.Context, reset *domain.PasswordReset) error {
	ttl := time.Until(reset.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("reset already expired")
	}

	pending := pendingKey(reset.IdentityID)

	// Delete the previously pending reset so its token stops redeeming.
	if prev, err := r.client.Get(ctx, pending).Result(); err == nil && prev != "" {
		if err := r.client.Del(ctx, resetKey(prev)).Err(); err != nil {
			return fmt.Errorf("delete superseded reset: %w", err)
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read pending reset pointer: %w", err)
	}

	key := resetKey(reset.TokenHash)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"identity_id": reset.IdentityID,
		"created_at":  reset.CreatedAt.UnixMilli(),
		"expires_at":  reset.ExpiresAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.Set(ctx, pending, reset.TokenHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store reset: %w", err)
	}

	return nil
}

// GetByHash retrieves a pending reset by its token hash. Expired resets are
// absent and report ErrNotFound.
func (r *PasswordResetRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	fields, err := r.client.HGetAll(ctx, resetKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("read reset: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound
	}

	reset := &domain.PasswordReset{
		IdentityID: fields["identity_id"],
		TokenHash:  tokenHash,
	}
	var createdMs, expiresMs int64
	if _, err := fmt.Sscanf(fields["created_at"], "%d", &createdMs); err != nil {
		return nil, fmt.Errorf("parse reset created_at: %w", err)
	}
	if _, err := fmt.Sscanf(fields["expires_at"], "%d", &expiresMs); err != nil {
		return nil, fmt.Errorf("parse reset expires_at: %w", err)
	}
	reset.CreatedAt = time.UnixMilli(createdMs).UTC()
	reset.ExpiresAt = time.UnixMilli(expiresMs).UTC()

	return reset, nil
}

// Delete removes a pending reset.
func (r *PasswordResetRepository) Delete(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, resetKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("delete reset: %w", err)
	}
	return nil
}
