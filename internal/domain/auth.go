package domain

// AuthResult is the outcome of a login attempt. Exactly one of Tokens or
// ChallengeID is set: when the identity has two-factor enabled the password
// check alone never yields tokens.
type AuthResult struct {
	Identity             *Identity  `json:"user,omitempty"`
	Tokens               *TokenPair `json:"tokens,omitempty"`
	RequiresTwoFactor    bool       `json:"requires_two_factor,omitempty"`
	RequiresVerification bool       `json:"requires_verification,omitempty"`
	ChallengeID          string     `json:"challenge_id,omitempty"`
}

// TwoFactorSetup is returned when enabling TOTP: the shared secret plus the
// otpauth provisioning URL the client renders as a QR code.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}
