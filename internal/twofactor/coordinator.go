package twofactor

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/repository"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// Sender delivers a one-time code to the identity over its out-of-band
// channel (email or SMS). TOTP challenges never go through the sender.
type Sender interface {
	SendCode(ctx context.Context, identity *domain.Identity, method domain.TwoFactorMethod, code string) error
}

// Coordinator owns the two-factor challenge lifecycle: creation after a
// successful password check, code verification with an atomic attempt cap,
// and expiry. At most one challenge is active per identity and domain.
type Coordinator struct {
	challenges repository.ChallengeRepository
	identities repository.IdentityRepository
	sender     Sender
	logger     *slog.Logger
}

// NewCoordinator creates a two-factor coordinator.
func NewCoordinator(
	challenges repository.ChallengeRepository,
	identities repository.IdentityRepository,
	sender Sender,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		challenges: challenges,
		identities: identities,
		sender:     sender,
		logger:     logger,
	}
}

// CreateChallenge opens a challenge for the identity, superseding any prior
// one. For otp and sms methods a fresh code is generated, stored hashed, and
// delivered via the sender; for totp the authenticator app already has the
// secret so nothing is sent.
func (c *Coordinator) CreateChallenge(ctx context.Context, identity *domain.Identity, d domain.IssuerDomain) (*domain.TwoFactorChallenge, error) {
	method := identity.TwoFactorMethod
	if method == "" {
		method = domain.MethodOTP
	}

	now := time.Now().UTC()
	challenge := &domain.TwoFactorChallenge{
		ID:         uuid.New().String(),
		IdentityID: identity.ID,
		Domain:     d,
		Method:     method,
		CreatedAt:  now,
		ExpiresAt:  now.Add(domain.ChallengeTTL),
	}

	var code string
	if method != domain.MethodTOTP {
		var err error
		code, err = generateCode()
		if err != nil {
			return nil, err
		}
		challenge.CodeHash = hashCode(code)
	}

	if err := c.challenges.Put(ctx, challenge); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	if code != "" {
		if err := c.sender.SendCode(ctx, identity, method, code); err != nil {
			// The challenge is already stored; the user can request a new
			// login attempt if delivery failed.
			c.logger.ErrorContext(ctx, "failed to deliver two-factor code",
				slog.String("identity_id", identity.ID),
				slog.String("method", string(method)),
				slog.String("error", err.Error()),
			)
			return nil, apperrors.Unavailable(fmt.Errorf("deliver code: %w", err))
		}
	}

	c.logger.InfoContext(ctx, "two-factor challenge created",
		slog.String("identity_id", identity.ID),
		slog.String("challenge_id", challenge.ID),
		slog.String("method", string(method)),
	)

	return challenge, nil
}

// VerifyChallenge checks a submitted code against the challenge. Unknown or
// superseded challenges report ChallengeExpired. A wrong code costs an
// attempt; crossing the cap reports ChallengeExhausted, and the challenge
// stays exhausted for the rest of its lifetime, so even the right code no
// longer verifies.
// On success the challenge is consumed and the identity returned along with
// the trust domain the challenge was opened under.
func (c *Coordinator) VerifyChallenge(ctx context.Context, challengeID, code string) (*domain.Identity, domain.IssuerDomain, error) {
	challenge, err := c.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, "", apperrors.ChallengeExpired()
		}
		return nil, "", fmt.Errorf("load challenge: %w", err)
	}

	now := time.Now().UTC()
	if challenge.Expired(now) {
		_ = c.challenges.Delete(ctx, challengeID)
		return nil, "", apperrors.ChallengeExpired()
	}
	if challenge.Exhausted() {
		return nil, "", apperrors.ChallengeExhausted()
	}

	identity, err := c.identities.GetByID(ctx, challenge.IdentityID)
	if err != nil {
		return nil, "", fmt.Errorf("load identity for challenge: %w", err)
	}

	if !c.codeMatches(challenge, identity, code, now) {
		attempts, incErr := c.challenges.IncrementAttempts(ctx, challengeID)
		if incErr != nil {
			if errors.Is(incErr, apperrors.ErrNotFound) {
				return nil, "", apperrors.ChallengeExpired()
			}
			return nil, "", fmt.Errorf("count challenge attempt: %w", incErr)
		}
		if attempts >= domain.MaxChallengeAttempts {
			// The challenge stays in redis until its TTL so later attempts
			// keep reporting exhaustion rather than looking expired.
			c.logger.WarnContext(ctx, "two-factor challenge exhausted",
				slog.String("identity_id", challenge.IdentityID),
				slog.String("challenge_id", challengeID),
			)
			return nil, "", apperrors.ChallengeExhausted()
		}
		return nil, "", apperrors.InvalidCredentials()
	}

	if err := c.challenges.Delete(ctx, challengeID); err != nil {
		c.logger.ErrorContext(ctx, "failed to consume challenge",
			slog.String("challenge_id", challengeID),
			slog.String("error", err.Error()),
		)
	}

	return identity, challenge.Domain, nil
}

func (c *Coordinator) codeMatches(challenge *domain.TwoFactorChallenge, identity *domain.Identity, code string, now time.Time) bool {
	if challenge.Method == domain.MethodTOTP {
		return identity.TwoFactorSecret != "" && VerifyTOTP(identity.TwoFactorSecret, code, now)
	}
	return hmac.Equal([]byte(challenge.CodeHash), []byte(hashCode(code)))
}

// generateCode returns a uniformly random 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashCode returns the hex sha256 of a one-time code.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
