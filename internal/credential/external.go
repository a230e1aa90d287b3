package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/httpclient"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// Profile is the subject attested by an external identity provider.
type Profile struct {
	Provider      string `json:"provider"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"given_name"`
	LastName      string `json:"family_name"`
}

// ProviderVerifier verifies a provider-issued token and returns the profile
// it attests. Implementations call the provider's token-info endpoint.
type ProviderVerifier interface {
	VerifyToken(ctx context.Context, provider, token string) (*Profile, error)
}

// HTTPVerifier verifies external tokens against configured provider
// token-info endpoints, behind a circuit breaker so a dead provider fails
// fast instead of stalling logins.
type HTTPVerifier struct {
	client    *httpclient.CircuitBreakerClient
	endpoints map[string]string
	logger    *slog.Logger
}

// NewHTTPVerifier creates a verifier for the given provider endpoint map
// (provider name to token-info URL).
func NewHTTPVerifier(client *httpclient.CircuitBreakerClient, endpoints map[string]string, logger *slog.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		client:    client,
		endpoints: endpoints,
		logger:    logger,
	}
}

// VerifyToken calls the provider's token-info endpoint with the token as a
// bearer credential. Any non-200 answer means the token does not verify.
func (v *HTTPVerifier) VerifyToken(ctx context.Context, provider, token string) (*Profile, error) {
	endpoint, ok := v.endpoints[provider]
	if !ok {
		return nil, apperrors.InvalidInput("unknown identity provider: " + provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create token-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(ctx, req)
	if err != nil {
		v.logger.WarnContext(ctx, "provider token-info call failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Unavailable(fmt.Errorf("provider %s unreachable: %w", provider, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, apperrors.InvalidCredentials()
	}

	var profile Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode provider profile: %w", err)
	}
	if profile.Subject == "" {
		return nil, apperrors.InvalidCredentials()
	}
	profile.Provider = provider

	return &profile, nil
}
