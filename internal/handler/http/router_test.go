package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/credential"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/event"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/ratelimit"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	redisrepo "github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository/redis"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/service"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/token"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/twofactor"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/health"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/middleware"
)

// These tests drive the assembled router end to end. Identities and refresh
// tokens live in map-backed repositories; challenges and rate limit counters
// in miniredis.

type memIdentities struct {
	mu   sync.Mutex
	byID map[string]*domain.Identity
}

func (m *memIdentities) Create(_ context.Context, i *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == i.Email {
			return apperrors.AlreadyExists("identity", "email", i.Email)
		}
	}
	cp := *i
	m.byID[i.ID] = &cp
	return nil
}

func (m *memIdentities) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byID[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *memIdentities) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.Email == email {
			cp := *i
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memIdentities) GetByExternal(_ context.Context, provider, externalID string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.ExternalProvider == provider && i.ExternalID == externalID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memIdentities) Update(_ context.Context, i *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[i.ID]; !ok {
		return apperrors.NotFound("identity", i.ID)
	}
	cp := *i
	m.byID[i.ID] = &cp
	return nil
}

func (m *memIdentities) RecordFailedAttempt(_ context.Context, id string, threshold int, lockout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	i.FailedAttempts++
	if i.FailedAttempts >= threshold {
		until := time.Now().UTC().Add(lockout)
		i.LockedUntil = &until
	}
	return i.FailedAttempts, nil
}

func (m *memIdentities) ClearFailedAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byID[id]; ok {
		i.FailedAttempts = 0
		i.LockedUntil = nil
	}
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	byID map[string]*domain.RefreshToken
}

func (m *memTokens) Create(_ context.Context, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTokens) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memTokens) Rotate(_ context.Context, currentID string, successor *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[currentID]
	if !ok || cur.Revoked {
		return repository.ErrAlreadyRotated
	}
	cur.Revoked = true
	cur.ReplacedBy = &successor.ID
	cp := *successor
	m.byID[successor.ID] = &cp
	return nil
}

func (m *memTokens) RevokeFamily(_ context.Context, familyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.FamilyID == familyID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *memTokens) RevokeAllForIdentity(_ context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.IdentityID == identityID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type noopSender struct{}

func (noopSender) SendCode(context.Context, *domain.Identity, domain.TwoFactorMethod, string) error {
	return nil
}

func (noopSender) SendReset(context.Context, *domain.Identity, string) error {
	return nil
}

type routerFixture struct {
	server     *httptest.Server
	identities *memIdentities
}

// loginBudget shrinks the login budget so rate limit tests stay short.
func newRouterFixture(t *testing.T, budgets map[ratelimit.Class]ratelimit.Budget) *routerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	identities := &memIdentities{byID: make(map[string]*domain.Identity)}
	tokens := &memTokens{byID: make(map[string]*domain.RefreshToken)}

	jwtManager := token.NewJWTManager("test-secret-at-least-32-characters!!", "auth-service", 15*time.Minute)
	tokenService := token.NewService(tokens, identities, jwtManager, 7*24*time.Hour, logger)
	credStore := credential.NewStore(identities, 5, 15*time.Minute, logger)
	coordinator := twofactor.NewCoordinator(redisrepo.NewChallengeRepository(client), identities, noopSender{}, logger)
	resets := credential.NewResetManager(redisrepo.NewPasswordResetRepository(client), identities, noopSender{}, logger)
	dispatcher := event.NewDispatcher(event.NoOpSink{}, 64, logger)
	t.Cleanup(dispatcher.Close)

	userOrch := service.NewOrchestrator(service.UserDomainConfig(),
		credStore, tokenService, coordinator, resets, identities, nil, dispatcher, logger)
	adminOrch := service.NewOrchestrator(service.AdminDomainConfig(),
		credStore, tokenService, coordinator, resets, identities, nil, dispatcher, logger)

	if budgets == nil {
		budgets = ratelimit.DefaultBudgets()
	}

	router := NewRouter(RouterConfig{
		UserOrchestrator:  userOrch,
		AdminOrchestrator: adminOrch,
		Limiter:           ratelimit.NewRedisLimiter(client, budgets),
		HealthHandler:     health.NewHandler(),
		Logger:            logger,
		CORS:              middleware.DefaultCORSConfig(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &routerFixture{server: server, identities: identities}
}

func (f *routerFixture) seedIdentity(t *testing.T) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2-hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.identities.Create(context.Background(), &domain.Identity{
		ID:            "id-1234",
		Email:         "alice@example.com",
		PasswordHash:  string(hash),
		Roles:         []string{domain.RoleMember},
		Status:        domain.StatusActive,
		EmailVerified: true,
	}))
}

func (f *routerFixture) postJSON(t *testing.T, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(buf))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var envelope struct {
		Data  map[string]any `json:"data"`
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if envelope.Error != nil {
		t.Fatalf("unexpected error response: %v", envelope.Error)
	}
	return envelope.Data
}

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var envelope struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error, "expected an error payload")
	return envelope.Error
}

// ---------------------------------------------------------------------------
// Login and refresh
// ---------------------------------------------------------------------------

func TestRouter_Login_Success(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	resp := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeData(t, resp)
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
}

func TestRouter_Login_BadCredentials(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	resp := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errPayload := decodeError(t, resp)
	assert.Equal(t, "INVALID_CREDENTIALS", errPayload["code"])
}

func TestRouter_Login_ValidationError(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email": "not-an-email",
	}, nil)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errPayload := decodeError(t, resp)
	assert.Equal(t, "VALIDATION_ERROR", errPayload["code"])
}

func TestRouter_Login_RequiresJSONContentType(t *testing.T) {
	f := newRouterFixture(t, nil)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/auth/login", bytes.NewReader([]byte("email=a")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRouter_RefreshFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	login := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, login.StatusCode)
	refreshToken := decodeData(t, login)["refresh_token"].(string)

	refresh := f.postJSON(t, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, refresh.StatusCode)
	rotated := decodeData(t, refresh)
	assert.NotEqual(t, refreshToken, rotated["refresh_token"])

	// Replaying the original value is refused.
	replay := f.postJSON(t, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)
	assert.Equal(t, "TOKEN_REPLAYED", decodeError(t, replay)["code"])
}

func TestRouter_Register(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.postJSON(t, "/api/v1/auth/register", map[string]string{
		"email":      "bob@example.com",
		"password":   "some-long-password",
		"first_name": "Bob",
		"last_name":  "Jones",
	}, nil)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := decodeData(t, resp)
	assert.NotEmpty(t, data["access_token"], "registration grants a session immediately")
}

func TestRouter_AdminSurfaceHasNoRegistration(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.postJSON(t, "/api/v1/admin/auth/register", map[string]string{
		"email":      "eve@example.com",
		"password":   "some-long-password",
		"first_name": "Eve",
		"last_name":  "Adams",
	}, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "the route is not mounted")
}

func TestRouter_AdminLogin_RoleGate(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t) // member only

	resp := f.postJSON(t, "/api/v1/admin/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, resp)["code"])
}

func TestRouter_ForgotPassword_NoAccountOracle(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	known := f.postJSON(t, "/api/v1/auth/forgot-password", map[string]string{
		"email": "alice@example.com",
	}, nil)
	unknown := f.postJSON(t, "/api/v1/auth/forgot-password", map[string]string{
		"email": "nobody@example.com",
	}, nil)

	// Identical responses whether or not the account exists.
	require.Equal(t, http.StatusOK, known.StatusCode)
	require.Equal(t, http.StatusOK, unknown.StatusCode)
	assert.Equal(t, decodeData(t, known), decodeData(t, unknown))
}

func TestRouter_ResetPassword_UnknownToken(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp := f.postJSON(t, "/api/v1/auth/reset-password", map[string]string{
		"token":        "never-issued",
		"new_password": "a-new-long-password",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_INVALID", decodeError(t, resp)["code"])
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestRouter_Login_RateLimited(t *testing.T) {
	f := newRouterFixture(t, map[ratelimit.Class]ratelimit.Budget{
		ratelimit.ClassLogin: {Max: 2, Window: time.Minute},
	})
	f.seedIdentity(t)

	body := map[string]string{"email": "alice@example.com", "password": "hunter2-hunter2"}
	for i := 0; i < 2; i++ {
		resp := f.postJSON(t, "/api/v1/auth/login", body, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d within budget", i+1)
	}

	resp := f.postJSON(t, "/api/v1/auth/login", body, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, resp)["code"])
}

// ---------------------------------------------------------------------------
// Authenticated endpoints
// ---------------------------------------------------------------------------

func TestRouter_ChangePassword_RequiresBearer(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	resp := f.postJSON(t, "/api/v1/auth/change-password", map[string]string{
		"current_password": "hunter2-hunter2",
		"new_password":     "a-new-long-password",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_ChangePassword_WithBearer(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	login := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, login.StatusCode)
	access := decodeData(t, login)["access_token"].(string)

	resp := f.postJSON(t, "/api/v1/auth/change-password", map[string]string{
		"current_password": "hunter2-hunter2",
		"new_password":     "a-new-long-password",
	}, map[string]string{"Authorization": "Bearer " + access})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The old password is gone.
	relogin := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, relogin.StatusCode)
}

func TestRouter_EnableTwoFactor_TOTP(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	login := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, login.StatusCode)
	access := decodeData(t, login)["access_token"].(string)

	resp := f.postJSON(t, "/api/v1/auth/2fa/enable", map[string]string{
		"method": "totp",
	}, map[string]string{"Authorization": "Bearer " + access})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeData(t, resp)
	assert.NotEmpty(t, data["secret"])
	assert.Contains(t, fmt.Sprint(data["otpauth_url"]), "otpauth://totp/")
}

func TestRouter_TwoFactorLoginFlow(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.seedIdentity(t)

	// Enable via the API, then the next login demands a second factor.
	login := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, login.StatusCode)
	access := decodeData(t, login)["access_token"].(string)

	enable := f.postJSON(t, "/api/v1/auth/2fa/enable", map[string]string{
		"method": "otp",
	}, map[string]string{"Authorization": "Bearer " + access})
	require.Equal(t, http.StatusOK, enable.StatusCode)

	second := f.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2-hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, second.StatusCode)
	data := decodeData(t, second)
	assert.Equal(t, true, data["requires_two_factor"])
	assert.NotEmpty(t, data["challenge_id"])
	assert.Empty(t, data["access_token"], "no tokens before the second factor")

	// A wrong code is rejected.
	bad := f.postJSON(t, "/api/v1/auth/login/2fa", map[string]string{
		"challenge_id": data["challenge_id"].(string),
		"code":         "000000",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestRouter_HealthEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil)

	resp, err := f.server.Client().Get(f.server.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.server.Client().Get(f.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
