package domain

import (
	"time"
)

// IdentityStatus describes the lifecycle state of an identity.
type IdentityStatus string

// Identity lifecycle states. Identities are soft-marked, never deleted.
const (
	StatusActive      IdentityStatus = "active"
	StatusSuspended   IdentityStatus = "suspended"
	StatusDeactivated IdentityStatus = "deactivated"
	StatusBanned      IdentityStatus = "banned"
)

// TwoFactorMethod identifies how a two-factor challenge is verified.
type TwoFactorMethod string

const (
	MethodOTP  TwoFactorMethod = "otp"
	MethodTOTP TwoFactorMethod = "totp"
	MethodSMS  TwoFactorMethod = "sms"
)

// Identity represents a registered account in the system.
type Identity struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Phone            string          `json:"phone,omitempty"`
	Roles            []string        `json:"roles"`
	Status           IdentityStatus  `json:"status"`
	EmailVerified    bool            `json:"email_verified"`
	PhoneVerified    bool            `json:"phone_verified"`
	TwoFactorEnabled bool            `json:"two_factor_enabled"`
	TwoFactorMethod  TwoFactorMethod `json:"two_factor_method,omitempty"`
	TwoFactorSecret  string          `json:"-"`
	ExternalProvider string          `json:"external_provider,omitempty"`
	ExternalID       string          `json:"external_id,omitempty"`
	FailedAttempts   int             `json:"-"`
	LockedUntil      *time.Time      `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Locked reports whether the identity is under a lockout at the given time.
func (i *Identity) Locked(now time.Time) bool {
	return i.LockedUntil != nil && i.LockedUntil.After(now)
}

// HasRole reports whether the identity holds the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity holds at least one of the given roles.
func (i *Identity) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if i.HasRole(r) {
			return true
		}
	}
	return false
}
