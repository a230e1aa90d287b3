package twofactor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	redisrepo "github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository/redis"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

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

// --- Fake Sender ---

type captureSender struct {
	codes  []string
	err    error
	method domain.TwoFactorMethod
}

func (s *captureSender) SendCode(ctx context.Context, identity *domain.Identity, method domain.TwoFactorMethod, code string) error {
	if s.err != nil {
		return s.err
	}
	s.codes = append(s.codes, code)
	s.method = method
	return nil
}

// --- Fixtures ---

func newCoordinatorFixture(t *testing.T) (*Coordinator, *mockIdentityRepository, *captureSender, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	identities := new(mockIdentityRepository)
	sender := &captureSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(redisrepo.NewChallengeRepository(client), identities, sender, logger)
	return c, identities, sender, mr
}

func otpIdentity() *domain.Identity {
	return &domain.Identity{
		ID:               "id-1234",
		Email:            "alice@example.com",
		Status:           domain.StatusActive,
		TwoFactorEnabled: true,
		TwoFactorMethod:  domain.MethodOTP,
	}
}

// ---------------------------------------------------------------------------
// CreateChallenge
// ---------------------------------------------------------------------------

func TestCoordinator_CreateChallenge_DeliversCode(t *testing.T) {
	c, _, sender, _ := newCoordinatorFixture(t)

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)
	require.NotNil(t, challenge)

	assert.Equal(t, domain.MethodOTP, challenge.Method)
	assert.NotEmpty(t, challenge.ID)
	assert.NotEmpty(t, challenge.CodeHash, "code is stored hashed")
	assert.NotContains(t, sender.codes, challenge.CodeHash, "raw code never equals the stored hash")

	require.Len(t, sender.codes, 1)
	assert.Len(t, sender.codes[0], 6)
	assert.Equal(t, domain.MethodOTP, sender.method)
}

func TestCoordinator_CreateChallenge_TOTPSendsNothing(t *testing.T) {
	c, _, sender, _ := newCoordinatorFixture(t)

	identity := otpIdentity()
	identity.TwoFactorMethod = domain.MethodTOTP
	identity.TwoFactorSecret = rfcSecret

	challenge, err := c.CreateChallenge(context.Background(), identity, domain.DomainUser)
	require.NoError(t, err)
	assert.Empty(t, challenge.CodeHash)
	assert.Empty(t, sender.codes, "authenticator app already has the secret")
}

func TestCoordinator_CreateChallenge_DeliveryFailure(t *testing.T) {
	c, _, sender, _ := newCoordinatorFixture(t)
	sender.err = errors.New("broker down")

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	assert.Nil(t, challenge)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnavailable))
}

// ---------------------------------------------------------------------------
// VerifyChallenge
// ---------------------------------------------------------------------------

func TestCoordinator_VerifyChallenge_Success(t *testing.T) {
	c, identities, sender, _ := newCoordinatorFixture(t)
	identities.On("GetByID", mock.Anything, "id-1234").Return(otpIdentity(), nil)

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)

	identity, d, err := c.VerifyChallenge(context.Background(), challenge.ID, sender.codes[0])
	require.NoError(t, err)
	assert.Equal(t, "id-1234", identity.ID)
	assert.Equal(t, domain.DomainUser, d)

	// The challenge is consumed; the same code no longer works.
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, sender.codes[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExpired))
}

func TestCoordinator_VerifyChallenge_UnknownChallenge(t *testing.T) {
	c, _, _, _ := newCoordinatorFixture(t)

	_, _, err := c.VerifyChallenge(context.Background(), "no-such-challenge", "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExpired))
}

func TestCoordinator_VerifyChallenge_WrongCodeCostsAttempt(t *testing.T) {
	c, identities, sender, _ := newCoordinatorFixture(t)
	identities.On("GetByID", mock.Anything, "id-1234").Return(otpIdentity(), nil)

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)

	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))

	// The right code still works while attempts remain.
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, sender.codes[0])
	assert.NoError(t, err)
}

func TestCoordinator_VerifyChallenge_ExhaustionIsPermanent(t *testing.T) {
	c, identities, sender, mr := newCoordinatorFixture(t)
	identities.On("GetByID", mock.Anything, "id-1234").Return(otpIdentity(), nil)

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)

	for i := 0; i < domain.MaxChallengeAttempts-1; i++ {
		_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "000000")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials), "attempt %d", i+1)
	}

	// The capping attempt reports exhaustion.
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExhausted))

	// Even the correct code keeps reporting exhaustion, not expiry or a
	// fresh attempt.
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, sender.codes[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExhausted))

	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExhausted))

	// Only the TTL clears it, at which point the challenge is simply gone.
	mr.FastForward(domain.ChallengeTTL + time.Second)
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, sender.codes[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExpired))
}

func TestCoordinator_VerifyChallenge_ExpiredChallenge(t *testing.T) {
	c, identities, _, mr := newCoordinatorFixture(t)
	identities.On("GetByID", mock.Anything, "id-1234").Return(otpIdentity(), nil)

	challenge, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)

	mr.FastForward(domain.ChallengeTTL + time.Second)

	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExpired))
}

func TestCoordinator_VerifyChallenge_TOTP(t *testing.T) {
	c, identities, _, _ := newCoordinatorFixture(t)

	identity := otpIdentity()
	identity.TwoFactorMethod = domain.MethodTOTP
	identity.TwoFactorSecret = rfcSecret
	identities.On("GetByID", mock.Anything, "id-1234").Return(identity, nil)

	challenge, err := c.CreateChallenge(context.Background(), identity, domain.DomainUser)
	require.NoError(t, err)

	// A wrong TOTP code is rejected; computing the right one for the current
	// step verifies. VerifyTOTP has its own vector tests, so here we derive
	// the expected code directly.
	_, _, err = c.VerifyChallenge(context.Background(), challenge.ID, "000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))

	secretRaw, err := b32.DecodeString(rfcSecret)
	require.NoError(t, err)
	code := hotp(secretRaw, time.Now().Unix()/totpPeriod)

	got, d, err := c.VerifyChallenge(context.Background(), challenge.ID, code)
	require.NoError(t, err)
	assert.Equal(t, "id-1234", got.ID)
	assert.Equal(t, domain.DomainUser, d)
}

func TestCoordinator_NewLoginSupersedesChallenge(t *testing.T) {
	c, identities, sender, _ := newCoordinatorFixture(t)
	identities.On("GetByID", mock.Anything, "id-1234").Return(otpIdentity(), nil)

	first, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)

	second, err := c.CreateChallenge(context.Background(), otpIdentity(), domain.DomainUser)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The first challenge's code is dead.
	_, _, err = c.VerifyChallenge(context.Background(), first.ID, sender.codes[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrChallengeExpired))

	// The second verifies with its own code.
	_, _, err = c.VerifyChallenge(context.Background(), second.ID, sender.codes[1])
	assert.NoError(t, err)
}
