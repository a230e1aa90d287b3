package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// --- Mock RefreshToken Repository ---

type mockTokenRepository struct {
	mock.Mock
}

func (m *mockTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockTokenRepository) Rotate(ctx context.Context, currentID string, successor *domain.RefreshToken) error {
	args := m.Called(ctx, currentID, successor)
	return args.Error(0)
}

func (m *mockTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	args := m.Called(ctx, familyID)
	return args.Error(0)
}

func (m *mockTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	args := m.Called(ctx, identityID)
	return args.Error(0)
}

func (m *mockTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock Identity Repository ---

type mockIdentityRepository struct {
	mock.Mock
}

func (m *mockIdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *mockIdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepository) GetByExternal(ctx context.Context, provider, externalID string) (*domain.Identity, error) {
	args := m.Called(ctx, provider, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func (m *mockIdentityRepository) Update(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *mockIdentityRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockout time.Duration) (int, error) {
	args := m.Called(ctx, id, threshold, lockout)
	return args.Int(0), args.Error(1)
}

func (m *mockIdentityRepository) ClearFailedAttempts(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Fixtures ---

func newTestService(tokens *mockTokenRepository, identities *mockIdentityRepository) *Service {
	jwtManager := NewJWTManager("test-secret-at-least-32-characters!!", "auth-service", 15*time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(tokens, identities, jwtManager, 7*24*time.Hour, logger)
}

func activeIdentity() *domain.Identity {
	return &domain.Identity{
		ID:     "id-1234",
		Email:  "alice@example.com",
		Roles:  []string{domain.RoleMember},
		Status: domain.StatusActive,
	}
}

// ---------------------------------------------------------------------------
// IssueTokenPair
// ---------------------------------------------------------------------------

func TestService_IssueTokenPair(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	var stored *domain.RefreshToken
	tokens.On("Create", mock.Anything, mock.AnythingOfType("*domain.RefreshToken")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*domain.RefreshToken)
		}).
		Return(nil)

	pair, err := svc.IssueTokenPair(context.Background(), activeIdentity(), domain.DomainUser)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	// The raw value handed to the client is never stored, only its hash.
	require.NotNil(t, stored)
	assert.NotEqual(t, pair.RefreshToken, stored.TokenHash)
	assert.Equal(t, hashToken(pair.RefreshToken), stored.TokenHash)
	assert.Equal(t, domain.DomainUser, stored.Domain)
	assert.NotEmpty(t, stored.FamilyID)
	assert.False(t, stored.Revoked)

	tokens.AssertExpectations(t)
}

func TestService_IssueTokenPair_NewFamilyPerIssue(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	var families []string
	tokens.On("Create", mock.Anything, mock.AnythingOfType("*domain.RefreshToken")).
		Run(func(args mock.Arguments) {
			families = append(families, args.Get(1).(*domain.RefreshToken).FamilyID)
		}).
		Return(nil)

	_, err := svc.IssueTokenPair(context.Background(), activeIdentity(), domain.DomainUser)
	require.NoError(t, err)
	_, err = svc.IssueTokenPair(context.Background(), activeIdentity(), domain.DomainUser)
	require.NoError(t, err)

	require.Len(t, families, 2)
	assert.NotEqual(t, families[0], families[1], "each issuance starts its own rotation family")
}

// ---------------------------------------------------------------------------
// RefreshTokenPair
// ---------------------------------------------------------------------------

func TestService_RefreshTokenPair_RotatesWithinFamily(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "raw-refresh-value"
	current := &domain.RefreshToken{
		ID:         "tok-1",
		IdentityID: "id-1234",
		Domain:     domain.DomainUser,
		FamilyID:   "fam-1",
		TokenHash:  hashToken(raw),
		IssuedAt:   time.Now().UTC().Add(-time.Hour),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}

	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)
	identities.On("GetByID", mock.Anything, "id-1234").Return(activeIdentity(), nil)

	var successor *domain.RefreshToken
	tokens.On("Rotate", mock.Anything, "tok-1", mock.AnythingOfType("*domain.RefreshToken")).
		Run(func(args mock.Arguments) {
			successor = args.Get(2).(*domain.RefreshToken)
		}).
		Return(nil)

	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainUser)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEqual(t, raw, pair.RefreshToken, "successor must be a fresh value")

	require.NotNil(t, successor)
	assert.Equal(t, "fam-1", successor.FamilyID, "rotation stays within the family")
	assert.Equal(t, hashToken(pair.RefreshToken), successor.TokenHash)

	tokens.AssertExpectations(t)
	identities.AssertExpectations(t)
}

func TestService_RefreshTokenPair_UnknownToken(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	tokens.On("GetByHash", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)

	pair, err := svc.RefreshTokenPair(context.Background(), "never-issued", domain.DomainUser)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid))
}

func TestService_RefreshTokenPair_CrossDomainRejected(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "user-refresh-value"
	current := &domain.RefreshToken{
		ID:        "tok-1",
		Domain:    domain.DomainUser,
		FamilyID:  "fam-1",
		TokenHash: hashToken(raw),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)

	// Redeeming a user token on the admin surface is indistinguishable from
	// an invalid token; no rotation, no revocation.
	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainAdmin)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid))
	tokens.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything)
	tokens.AssertNotCalled(t, "RevokeFamily", mock.Anything, mock.Anything)
}

func TestService_RefreshTokenPair_ExpiredToken(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "stale-refresh-value"
	current := &domain.RefreshToken{
		ID:        "tok-1",
		Domain:    domain.DomainUser,
		FamilyID:  "fam-1",
		TokenHash: hashToken(raw),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)

	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainUser)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenExpired))
}

func TestService_RefreshTokenPair_ReplayRevokesFamily(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "already-rotated-value"
	current := &domain.RefreshToken{
		ID:         "tok-1",
		IdentityID: "id-1234",
		Domain:     domain.DomainUser,
		FamilyID:   "fam-1",
		TokenHash:  hashToken(raw),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
		Revoked:    true,
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)
	tokens.On("RevokeFamily", mock.Anything, "fam-1").Return(nil)

	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainUser)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenReplayed))

	var replay *ErrReplayDetected
	require.True(t, errors.As(err, &replay))
	assert.Equal(t, "fam-1", replay.Info.FamilyID)
	assert.Equal(t, "id-1234", replay.Info.IdentityID)

	// The family, including the winner's successor, is dead.
	tokens.AssertCalled(t, "RevokeFamily", mock.Anything, "fam-1")
}

func TestService_RefreshTokenPair_ConcurrentRotationLoserIsReplay(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "contested-refresh-value"
	current := &domain.RefreshToken{
		ID:         "tok-1",
		IdentityID: "id-1234",
		Domain:     domain.DomainUser,
		FamilyID:   "fam-1",
		TokenHash:  hashToken(raw),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)
	identities.On("GetByID", mock.Anything, "id-1234").Return(activeIdentity(), nil)
	tokens.On("Rotate", mock.Anything, "tok-1", mock.AnythingOfType("*domain.RefreshToken")).
		Return(repository.ErrAlreadyRotated)
	tokens.On("RevokeFamily", mock.Anything, "fam-1").Return(nil)

	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainUser)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenReplayed))
	tokens.AssertCalled(t, "RevokeFamily", mock.Anything, "fam-1")
}

func TestService_RefreshTokenPair_InactiveIdentity(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "refresh-of-banned-identity"
	current := &domain.RefreshToken{
		ID:         "tok-1",
		IdentityID: "id-1234",
		Domain:     domain.DomainUser,
		FamilyID:   "fam-1",
		TokenHash:  hashToken(raw),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	banned := activeIdentity()
	banned.Status = domain.StatusBanned

	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)
	identities.On("GetByID", mock.Anything, "id-1234").Return(banned, nil)

	pair, err := svc.RefreshTokenPair(context.Background(), raw, domain.DomainUser)
	assert.Nil(t, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid))
	tokens.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// RevokeByValue
// ---------------------------------------------------------------------------

func TestService_RevokeByValue_RevokesFamily(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "live-refresh-value"
	current := &domain.RefreshToken{
		ID:        "tok-1",
		Domain:    domain.DomainUser,
		FamilyID:  "fam-1",
		TokenHash: hashToken(raw),
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)
	tokens.On("RevokeFamily", mock.Anything, "fam-1").Return(nil)

	err := svc.RevokeByValue(context.Background(), raw, domain.DomainUser)
	assert.NoError(t, err)
	tokens.AssertExpectations(t)
}

func TestService_RevokeByValue_UnknownTokenIsNoOp(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	tokens.On("GetByHash", mock.Anything, mock.Anything).Return(nil, apperrors.ErrNotFound)

	err := svc.RevokeByValue(context.Background(), "never-issued", domain.DomainUser)
	assert.NoError(t, err, "logout is idempotent")
	tokens.AssertNotCalled(t, "RevokeFamily", mock.Anything, mock.Anything)
}

func TestService_RevokeByValue_ForeignDomainIsNoOp(t *testing.T) {
	tokens := new(mockTokenRepository)
	identities := new(mockIdentityRepository)
	svc := newTestService(tokens, identities)

	raw := "admin-refresh-value"
	current := &domain.RefreshToken{
		ID:        "tok-1",
		Domain:    domain.DomainAdmin,
		FamilyID:  "fam-1",
		TokenHash: hashToken(raw),
	}
	tokens.On("GetByHash", mock.Anything, hashToken(raw)).Return(current, nil)

	err := svc.RevokeByValue(context.Background(), raw, domain.DomainUser)
	assert.NoError(t, err)
	tokens.AssertNotCalled(t, "RevokeFamily", mock.Anything, mock.Anything)
}
