package domain

import (
	"time"
)

// IssuerDomain is the trust domain a token was issued under. Tokens from one
// domain are never accepted by the other.
type IssuerDomain string

const (
	DomainUser  IssuerDomain = "user"
	DomainAdmin IssuerDomain = "admin"
)

// Valid reports whether d is a known issuer domain.
func (d IssuerDomain) Valid() bool {
	return d == DomainUser || d == DomainAdmin
}

// RefreshToken is a stored, single-use refresh token. Only the sha256 hash of
// the opaque value is persisted. Tokens issued by the same login share a
// family ID; redeeming an already-rotated token revokes the whole family.
type RefreshToken struct {
	ID         string       `json:"id"`
	IdentityID string       `json:"identity_id"`
	Domain     IssuerDomain `json:"domain"`
	FamilyID   string       `json:"family_id"`
	TokenHash  string       `json:"-"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Revoked    bool         `json:"revoked"`
	ReplacedBy *string      `json:"replaced_by,omitempty"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// TokenPair holds an access and refresh token pair issued to a client.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessClaims are the verified claims carried by an access token.
type AccessClaims struct {
	IdentityID string
	Email      string
	Domain     IssuerDomain
	Roles      []string
	FamilyID   string
	ExpiresAt  time.Time
}
