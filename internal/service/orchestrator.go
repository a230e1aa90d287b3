package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/credential"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/event"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/token"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/twofactor"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// DomainConfig parameterizes an Orchestrator for one trust domain. The user
// and admin surfaces run the same flow; what differs is captured here rather
// than in separate types.
type DomainConfig struct {
	// Domain is the issuer domain stamped into every token this
	// orchestrator issues.
	Domain domain.IssuerDomain

	// AllowedRoles, when non-empty, restricts login to identities holding
	// at least one of these roles. A miss fails with InvalidCredentials so
	// the response reveals nothing about the account.
	AllowedRoles []string

	// RequireVerifiedEmail withholds tokens from unverified identities at
	// login, returning a requires-verification result instead.
	RequireVerifiedEmail bool

	// DefaultRoles are assigned to identities created through this
	// orchestrator (registration and first external login).
	DefaultRoles []string

	// AllowRegistration enables self-service registration and external
	// login. Off for the admin domain: admin identities are provisioned.
	AllowRegistration bool
}

// UserDomainConfig returns the configuration for the public user surface.
func UserDomainConfig() DomainConfig {
	return DomainConfig{
		Domain:            domain.DomainUser,
		DefaultRoles:      []string{domain.RoleMember},
		AllowRegistration: true,
	}
}

// AdminDomainConfig returns the configuration for the admin surface.
func AdminDomainConfig() DomainConfig {
	return DomainConfig{
		Domain:               domain.DomainAdmin,
		AllowedRoles:         domain.AdminRoles(),
		RequireVerifiedEmail: true,
	}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Orchestrator drives the authentication flows for one trust domain. Two
// instances run side by side, one per DomainConfig; they share the
// credential store, token service, and two-factor coordinator.
type Orchestrator struct {
	cfg         DomainConfig
	credentials *credential.Store
	tokens      *token.Service
	twoFactor   *twofactor.Coordinator
	resets      *credential.ResetManager
	identities  repository.IdentityRepository
	verifier    credential.ProviderVerifier
	dispatcher  *event.Dispatcher
	logger      *slog.Logger
}

// NewOrchestrator wires an orchestrator for the given domain config.
func NewOrchestrator(
	cfg DomainConfig,
	credentials *credential.Store,
	tokens *token.Service,
	twoFactor *twofactor.Coordinator,
	resets *credential.ResetManager,
	identities repository.IdentityRepository,
	verifier credential.ProviderVerifier,
	dispatcher *event.Dispatcher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		credentials: credentials,
		tokens:      tokens,
		twoFactor:   twoFactor,
		resets:      resets,
		identities:  identities,
		verifier:    verifier,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Login verifies primary credentials and either issues a token pair or, for
// two-factor identities, opens a challenge. The password alone never yields
// tokens when two-factor is enabled.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (result *domain.AuthResult, err error) {
	defer func() {
		loginOutcomes.WithLabelValues(string(o.cfg.Domain), loginOutcome(result, err)).Inc()
	}()

	identity, err := o.credentials.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := o.checkDomainAccess(identity); err != nil {
		return nil, err
	}

	if o.cfg.RequireVerifiedEmail && !identity.EmailVerified {
		return &domain.AuthResult{
			Identity:             identity,
			RequiresVerification: true,
		}, nil
	}

	if identity.TwoFactorEnabled {
		challenge, err := o.twoFactor.CreateChallenge(ctx, identity, o.cfg.Domain)
		if err != nil {
			return nil, err
		}
		return &domain.AuthResult{
			Identity:          identity,
			RequiresTwoFactor: true,
			ChallengeID:       challenge.ID,
		}, nil
	}

	return o.completeLogin(ctx, identity, false)
}

// CompleteTwoFactor redeems a challenge code for a token pair. Challenges
// opened under a different trust domain do not verify here.
func (o *Orchestrator) CompleteTwoFactor(ctx context.Context, challengeID, code string) (*domain.AuthResult, error) {
	identity, challengeDomain, err := o.twoFactor.VerifyChallenge(ctx, challengeID, code)
	if err != nil {
		return nil, err
	}

	if challengeDomain != o.cfg.Domain {
		return nil, apperrors.ChallengeExpired()
	}

	// Role and status could have changed between password check and code
	// submission; re-check before issuing anything.
	if err := o.checkDomainAccess(identity); err != nil {
		return nil, err
	}
	if identity.Status != domain.StatusActive {
		return nil, apperrors.InvalidCredentials()
	}

	return o.completeLogin(ctx, identity, false)
}

// Register creates an identity and grants it a first session. Only the user
// domain offers self-service registration.
func (o *Orchestrator) Register(ctx context.Context, input RegisterInput) (*domain.AuthResult, error) {
	if !o.cfg.AllowRegistration {
		return nil, apperrors.Forbidden("registration is not available")
	}

	hash, err := credential.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	identity := &domain.Identity{
		ID:           uuid.New().String(),
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Roles:        o.cfg.DefaultRoles,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := o.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicUserRegistered,
		AggregateID: identity.ID,
		Data: event.RegisteredData{
			ID:        identity.ID,
			Email:     identity.Email,
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
		},
	})

	o.logger.InfoContext(ctx, "identity registered",
		slog.String("identity_id", identity.ID),
		slog.String("email", identity.Email),
	)

	tokens, err := o.tokens.IssueTokenPair(ctx, identity, o.cfg.Domain)
	if err != nil {
		return nil, err
	}

	return &domain.AuthResult{Identity: identity, Tokens: tokens}, nil
}

// Refresh rotates a refresh token into a new pair. Replay kills the family
// and raises a security alert before the error surfaces.
func (o *Orchestrator) Refresh(ctx context.Context, refreshValue string) (*domain.TokenPair, error) {
	pair, err := o.tokens.RefreshTokenPair(ctx, refreshValue, o.cfg.Domain)
	if err != nil {
		var replay *token.ErrReplayDetected
		if errors.As(err, &replay) {
			o.dispatcher.Emit(ctx, event.Envelope{
				Topic:       event.TopicTokenReplayed,
				AggregateID: replay.Info.IdentityID,
				Data: event.TokenReplayedData{
					IdentityID: replay.Info.IdentityID,
					Domain:     replay.Info.Domain,
					FamilyID:   replay.Info.FamilyID,
				},
			})
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes the refresh token's family. Idempotent: logging out an
// unknown or already-revoked token succeeds without comment.
func (o *Orchestrator) Logout(ctx context.Context, refreshValue string) error {
	return o.tokens.RevokeByValue(ctx, refreshValue, o.cfg.Domain)
}

// ExternalLogin verifies a provider-issued token and signs the attested
// subject in, binding the provider to an existing identity by email or
// creating a fresh one.
func (o *Orchestrator) ExternalLogin(ctx context.Context, provider, providerToken string) (*domain.AuthResult, error) {
	if !o.cfg.AllowRegistration {
		return nil, apperrors.Forbidden("external login is not available")
	}

	profile, err := o.verifier.VerifyToken(ctx, provider, providerToken)
	if err != nil {
		return nil, err
	}

	identity, err := o.identities.GetByExternal(ctx, profile.Provider, profile.Subject)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("look up external identity: %w", err)
		}
		identity, err = o.bindOrCreateExternal(ctx, profile)
		if err != nil {
			return nil, err
		}
	}

	switch identity.Status {
	case domain.StatusBanned:
		return nil, apperrors.AccountBanned()
	case domain.StatusSuspended, domain.StatusDeactivated:
		return nil, apperrors.InvalidCredentials()
	}

	if identity.TwoFactorEnabled {
		challenge, err := o.twoFactor.CreateChallenge(ctx, identity, o.cfg.Domain)
		if err != nil {
			return nil, err
		}
		return &domain.AuthResult{
			Identity:          identity,
			RequiresTwoFactor: true,
			ChallengeID:       challenge.ID,
		}, nil
	}

	return o.completeLogin(ctx, identity, true)
}

// bindOrCreateExternal attaches the provider subject to the identity with a
// matching email, or creates a new identity when none exists.
func (o *Orchestrator) bindOrCreateExternal(ctx context.Context, profile *credential.Profile) (*domain.Identity, error) {
	if profile.Email != "" {
		existing, err := o.identities.GetByEmail(ctx, profile.Email)
		if err == nil {
			existing.ExternalProvider = profile.Provider
			existing.ExternalID = profile.Subject
			if err := o.identities.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("bind external identity: %w", err)
			}
			return existing, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("look up identity by email: %w", err)
		}
	}

	now := time.Now().UTC()
	identity := &domain.Identity{
		ID:               uuid.New().String(),
		Email:            profile.Email,
		FirstName:        profile.FirstName,
		LastName:         profile.LastName,
		Roles:            o.cfg.DefaultRoles,
		Status:           domain.StatusActive,
		EmailVerified:    profile.EmailVerified,
		ExternalProvider: profile.Provider,
		ExternalID:       profile.Subject,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicUserRegistered,
		AggregateID: identity.ID,
		Data: event.RegisteredData{
			ID:        identity.ID,
			Email:     identity.Email,
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
		},
	})

	return identity, nil
}

// ChangePassword re-authenticates with the current password, swaps the hash,
// and revokes every live session so stolen refresh tokens die with the old
// password.
func (o *Orchestrator) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	identity, err := o.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}

	if err := o.credentials.VerifyPassword(identity, currentPassword); err != nil {
		return err
	}

	hash, err := credential.HashPassword(newPassword)
	if err != nil {
		return err
	}

	identity.PasswordHash = hash
	if err := o.identities.Update(ctx, identity); err != nil {
		return err
	}

	if err := o.tokens.RevokeAll(ctx, identityID); err != nil {
		return err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicPasswordChanged,
		AggregateID: identity.ID,
		Data:        event.PasswordChangedData{ID: identity.ID, Email: identity.Email},
	})

	o.logger.InfoContext(ctx, "password changed",
		slog.String("identity_id", identity.ID),
	)

	return nil
}

// ForgotPassword opens a password reset for the email and delivers the token
// out of band. It succeeds silently for unknown accounts.
func (o *Orchestrator) ForgotPassword(ctx context.Context, email string) error {
	return o.resets.Start(ctx, email)
}

// ResetPassword redeems a reset token for a new password and revokes every
// live session, the same way ChangePassword does.
func (o *Orchestrator) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	identity, err := o.resets.Complete(ctx, resetToken, newPassword)
	if err != nil {
		return err
	}

	if err := o.tokens.RevokeAll(ctx, identity.ID); err != nil {
		return err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicPasswordChanged,
		AggregateID: identity.ID,
		Data:        event.PasswordChangedData{ID: identity.ID, Email: identity.Email},
	})

	o.logger.InfoContext(ctx, "password reset completed",
		slog.String("identity_id", identity.ID),
	)

	return nil
}

// EnableTwoFactor turns on the given second factor. For TOTP it provisions a
// secret and returns the otpauth URL; for otp and sms nothing needs setup.
func (o *Orchestrator) EnableTwoFactor(ctx context.Context, identityID string, method domain.TwoFactorMethod) (*domain.TwoFactorSetup, error) {
	identity, err := o.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	var setup *domain.TwoFactorSetup
	if method == domain.MethodTOTP {
		secret, err := twofactor.GenerateTOTPSecret()
		if err != nil {
			return nil, err
		}
		identity.TwoFactorSecret = secret
		setup = &domain.TwoFactorSetup{
			Secret:     secret,
			OtpauthURL: twofactor.OtpauthURL("CommunityCar", identity.Email, secret),
		}
	}

	identity.TwoFactorEnabled = true
	identity.TwoFactorMethod = method
	if err := o.identities.Update(ctx, identity); err != nil {
		return nil, err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicTwoFactorEnabled,
		AggregateID: identity.ID,
		Data:        event.TwoFactorData{ID: identity.ID, Method: method},
	})

	return setup, nil
}

// DisableTwoFactor turns off the second factor after re-authenticating with
// the password.
func (o *Orchestrator) DisableTwoFactor(ctx context.Context, identityID, password string) error {
	identity, err := o.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}

	if err := o.credentials.VerifyPassword(identity, password); err != nil {
		return err
	}

	identity.TwoFactorEnabled = false
	identity.TwoFactorMethod = ""
	identity.TwoFactorSecret = ""
	if err := o.identities.Update(ctx, identity); err != nil {
		return err
	}

	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       event.TopicTwoFactorDisabled,
		AggregateID: identity.ID,
		Data:        event.TwoFactorData{ID: identity.ID},
	})

	return nil
}

// ValidateAccessToken verifies a raw access token against this
// orchestrator's trust domain.
func (o *Orchestrator) ValidateAccessToken(value string) (*domain.AccessClaims, error) {
	return o.tokens.ValidateAccessToken(value, o.cfg.Domain)
}

// completeLogin issues a fresh token pair and emits the logged-in event.
func (o *Orchestrator) completeLogin(ctx context.Context, identity *domain.Identity, external bool) (*domain.AuthResult, error) {
	tokens, err := o.tokens.IssueTokenPair(ctx, identity, o.cfg.Domain)
	if err != nil {
		return nil, err
	}

	topic := event.TopicUserLoggedIn
	if o.cfg.Domain == domain.DomainAdmin {
		topic = event.TopicAdminLoggedIn
	}
	o.dispatcher.Emit(ctx, event.Envelope{
		Topic:       topic,
		AggregateID: identity.ID,
		Data: event.LoggedInData{
			ID:       identity.ID,
			Email:    identity.Email,
			Domain:   o.cfg.Domain,
			External: external,
		},
	})

	o.logger.InfoContext(ctx, "login completed",
		slog.String("identity_id", identity.ID),
		slog.String("domain", string(o.cfg.Domain)),
	)

	return &domain.AuthResult{Identity: identity, Tokens: tokens}, nil
}

// checkDomainAccess enforces the role restriction for this trust domain.
func (o *Orchestrator) checkDomainAccess(identity *domain.Identity) error {
	if len(o.cfg.AllowedRoles) == 0 {
		return nil
	}
	if !identity.HasAnyRole(o.cfg.AllowedRoles) {
		return apperrors.InvalidCredentials()
	}
	return nil
}
