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

// ChallengeRepository implements repository.ChallengeRepository on Redis.
// Challenges are stored as hashes so the attempt counter can be bumped with
// an atomic HINCRBY, and expire via key TTL. A per-identity pointer key
// enforces at most one active challenge: Put overwrites the pointer and
// deletes whatever challenge it previously referenced.
type ChallengeRepository struct {
	client *redis.Client
}

// NewChallengeRepository creates a Redis-backed challenge repository.
func NewChallengeRepository(client *redis.Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

func challengeKey(id string) string {
	return "auth:2fa:challenge:" + id
}

func activeKey(identityID string, d domain.IssuerDomain) string {
	return "auth:2fa:active:" + string(d) + ":" + identityID
}

// Put stores a challenge, superseding any active challenge for the same
// identity and domain.
func (r *ChallengeRepository) Put(ctx context.Context, c *domain.TwoFactorChallenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	active := activeKey(c.IdentityID, c.Domain)

	// Delete the previously active challenge so its ID stops verifying.
	if prev, err := r.client.Get(ctx, active).Result(); err == nil && prev != "" {
		if err := r.client.Del(ctx, challengeKey(prev)).Err(); err != nil {
			return fmt.Errorf("delete superseded challenge: %w", err)
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read active challenge pointer: %w", err)
	}

	key := challengeKey(c.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"identity_id": c.IdentityID,
		"domain":      string(c.Domain),
		"method":      string(c.Method),
		"code_hash":   c.CodeHash,
		"attempts":    c.Attempts,
		"created_at":  c.CreatedAt.UnixMilli(),
		"expires_at":  c.ExpiresAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.Set(ctx, active, c.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}

	return nil
}

// Get retrieves a challenge by ID. Expired challenges are absent and report
// ErrNotFound.
func (r *ChallengeRepository) Get(ctx context.Context, id string) (*domain.TwoFactorChallenge, error) {
	fields, err := r.client.HGetAll(ctx, challengeKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound
	}

	c := &domain.TwoFactorChallenge{
		ID:         id,
		IdentityID: fields["identity_id"],
		Domain:     domain.IssuerDomain(fields["domain"]),
		Method:     domain.TwoFactorMethod(fields["method"]),
		CodeHash:   fields["code_hash"],
	}
	if _, err := fmt.Sscanf(fields["attempts"], "%d", &c.Attempts); err != nil {
		return nil, fmt.Errorf("parse challenge attempts: %w", err)
	}
	var createdMs, expiresMs int64
	if _, err := fmt.Sscanf(fields["created_at"], "%d", &createdMs); err != nil {
		return nil, fmt.Errorf("parse challenge created_at: %w", err)
	}
	if _, err := fmt.Sscanf(fields["expires_at"], "%d", &expiresMs); err != nil {
		return nil, fmt.Errorf("parse challenge expires_at: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdMs).UTC()
	c.ExpiresAt = time.UnixMilli(expiresMs).UTC()

	return c, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. Concurrent wrong-code submissions each get a distinct count, so the
// attempt cap cannot be raced past.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	key := challengeKey(id)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("check challenge: %w", err)
	}
	if exists == 0 {
		return 0, apperrors.ErrNotFound
	}

	n, err := r.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}

	return int(n), nil
}

// Delete removes a challenge.
func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, challengeKey(id)).Err(); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}
