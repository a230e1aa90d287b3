package domain

import (
	"time"
)

// ChallengeStatus describes where a two-factor challenge is in its lifecycle.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeVerified  ChallengeStatus = "verified"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeExhausted ChallengeStatus = "exhausted"
)

// TwoFactorChallenge is a short-lived second-factor prompt created after a
// successful password check on a 2FA-enabled identity. At most one challenge
// is active per identity; creating a new one supersedes the prior.
type TwoFactorChallenge struct {
	ID         string          `json:"id"`
	IdentityID string          `json:"identity_id"`
	Domain     IssuerDomain    `json:"domain"`
	Method     TwoFactorMethod `json:"method"`
	CodeHash   string          `json:"-"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// MaxChallengeAttempts is the number of wrong codes a challenge tolerates
// before it is exhausted.
const MaxChallengeAttempts = 5

// ChallengeTTL is how long a challenge stays redeemable.
const ChallengeTTL = 5 * time.Minute

// Expired reports whether the challenge is past its expiry at the given time.
func (c *TwoFactorChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Exhausted reports whether the challenge has burned all attempts.
func (c *TwoFactorChallenge) Exhausted() bool {
	return c.Attempts >= MaxChallengeAttempts
}
