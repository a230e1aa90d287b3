package token

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

	"github.com/google/uuid"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// Service issues and rotates token pairs. Access tokens are signed JWTs;
// refresh tokens are opaque 256-bit random values stored only as sha256
// hashes, grouped into rotation families. Each refresh token is single-use:
// redeeming it mints a successor in the same family, and redeeming it a
// second time is treated as replay and kills the family.
type Service struct {
	refreshTokens repository.RefreshTokenRepository
	identities    repository.IdentityRepository
	jwtManager    *JWTManager
	refreshExpiry time.Duration
	logger        *slog.Logger
}

// NewService creates a token service.
func NewService(
	refreshTokens repository.RefreshTokenRepository,
	identities repository.IdentityRepository,
	jwtManager *JWTManager,
	refreshExpiry time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		refreshTokens: refreshTokens,
		identities:    identities,
		jwtManager:    jwtManager,
		refreshExpiry: refreshExpiry,
		logger:        logger,
	}
}

// ReplayInfo describes a detected refresh token replay. The family named
// here has already been revoked by the time the caller sees it.
type ReplayInfo struct {
	IdentityID string
	Domain     domain.IssuerDomain
	FamilyID   string
}

// ErrReplayDetected wraps apperrors.ErrTokenReplayed with family context so
// the orchestrator can emit a security event.
type ErrReplayDetected struct {
	Info ReplayInfo
}

func (e *ErrReplayDetected) Error() string {
	return "refresh token replayed in family " + e.Info.FamilyID
}

// Unwrap lets errors.Is(err, apperrors.ErrTokenReplayed) match.
func (e *ErrReplayDetected) Unwrap() error {
	return apperrors.TokenReplayed()
}

// IssueTokenPair mints a fresh token pair for the identity under the given
// trust domain, starting a new rotation family.
func (s *Service) IssueTokenPair(ctx context.Context, identity *domain.Identity, d domain.IssuerDomain) (*domain.TokenPair, error) {
	familyID := uuid.New().String()

	raw, hash, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &domain.RefreshToken{
		ID:         uuid.New().String(),
		IdentityID: identity.ID,
		Domain:     d,
		FamilyID:   familyID,
		TokenHash:  hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.refreshExpiry),
	}
	if err := s.refreshTokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	access, expiresAt, err := s.jwtManager.GenerateAccessToken(identity, d, familyID)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshTokenPair redeems a refresh token for a new pair in the same
// family. An unknown token is TokenInvalid, as is one issued under a
// different trust domain; a stale one is TokenExpired. A token that was
// already rotated means the raw value leaked or the client replayed it; the
// whole family is revoked before the error surfaces.
func (s *Service) RefreshTokenPair(ctx context.Context, refreshValue string, expected domain.IssuerDomain) (*domain.TokenPair, error) {
	current, err := s.refreshTokens.GetByHash(ctx, hashToken(refreshValue))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TokenInvalid()
		}
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}
	if current.Domain != expected {
		return nil, apperrors.TokenInvalid()
	}

	now := time.Now().UTC()

	if current.Revoked {
		return nil, s.handleReplay(ctx, current)
	}
	if current.Expired(now) {
		return nil, apperrors.TokenExpired()
	}

	identity, err := s.identities.GetByID(ctx, current.IdentityID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TokenInvalid()
		}
		return nil, fmt.Errorf("load identity for refresh: %w", err)
	}
	if identity.Status != domain.StatusActive {
		return nil, apperrors.TokenInvalid()
	}

	raw, hash, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	successor := &domain.RefreshToken{
		ID:         uuid.New().String(),
		IdentityID: current.IdentityID,
		Domain:     current.Domain,
		FamilyID:   current.FamilyID,
		TokenHash:  hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.refreshExpiry),
	}

	if err := s.refreshTokens.Rotate(ctx, current.ID, successor); err != nil {
		if errors.Is(err, repository.ErrAlreadyRotated) {
			// Lost the race to a concurrent redemption of the same value.
			// That concurrent use IS the replay signal.
			return nil, s.handleReplay(ctx, current)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	tokenRotations.WithLabelValues(string(current.Domain)).Inc()

	access, expiresAt, err := s.jwtManager.GenerateAccessToken(identity, current.Domain, current.FamilyID)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresAt:    expiresAt,
	}, nil
}

// ValidateAccessToken verifies a raw access token against the expected trust
// domain and returns its claims.
func (s *Service) ValidateAccessToken(value string, expected domain.IssuerDomain) (*domain.AccessClaims, error) {
	return s.jwtManager.ValidateAccessToken(value, expected)
}

// RevokeFamily revokes every token in the rotation family. Idempotent.
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	if err := s.refreshTokens.RevokeFamily(ctx, familyID); err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	return nil
}

// RevokeByValue revokes the family of the refresh token with the given raw
// value, scoped to the expected trust domain. Unknown or foreign-domain
// values are a silent no-op: logout is idempotent and answers nothing about
// whether a token ever existed.
func (s *Service) RevokeByValue(ctx context.Context, refreshValue string, expected domain.IssuerDomain) error {
	current, err := s.refreshTokens.GetByHash(ctx, hashToken(refreshValue))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up refresh token: %w", err)
	}
	if current.Domain != expected {
		return nil
	}
	return s.RevokeFamily(ctx, current.FamilyID)
}

// RevokeAll revokes every live refresh token belonging to the identity
// across all families and domains. Idempotent.
func (s *Service) RevokeAll(ctx context.Context, identityID string) error {
	if err := s.refreshTokens.RevokeAllForIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("revoke all: %w", err)
	}
	return nil
}

// handleReplay revokes the replayed token's family and returns the replay
// error carrying family context.
func (s *Service) handleReplay(ctx context.Context, replayed *domain.RefreshToken) error {
	replayDetections.WithLabelValues(string(replayed.Domain)).Inc()

	if err := s.refreshTokens.RevokeFamily(ctx, replayed.FamilyID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke family after replay",
			slog.String("family_id", replayed.FamilyID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.WarnContext(ctx, "refresh token replay detected",
		slog.String("identity_id", replayed.IdentityID),
		slog.String("family_id", replayed.FamilyID),
		slog.String("domain", string(replayed.Domain)),
	)

	return &ErrReplayDetected{Info: ReplayInfo{
		IdentityID: replayed.IdentityID,
		Domain:     replayed.Domain,
		FamilyID:   replayed.FamilyID,
	}}
}

// newOpaqueToken generates a 256-bit random refresh token, returning the raw
// base64url value handed to clients and the hex sha256 hash that gets stored.
func newOpaqueToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

// hashToken returns the hex sha256 of a raw refresh token value.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
