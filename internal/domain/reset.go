package domain

import "time"

// PasswordResetTTL is how long a reset token stays redeemable.
const PasswordResetTTL = 30 * time.Minute

// PasswordReset is a pending password reset. Only the sha256 hash of the
// opaque token mailed to the user is stored; at most one reset is pending
// per identity, a newer request supersedes the old one.
type PasswordReset struct {
	IdentityID string    `json:"identity_id"`
	TokenHash  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the reset is past its expiry at the given time.
func (p *PasswordReset) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
