package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

// Claims are the JWT claims carried by an access token. Domain is the trust
// domain the token was issued under; validation rejects tokens whose domain
// does not match the caller's expectation.
type Claims struct {
	IdentityID string   `json:"identity_id"`
	Email      string   `json:"email"`
	Domain     string   `json:"domain"`
	Roles      []string `json:"roles"`
	FamilyID   string   `json:"family_id"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates access tokens.
type JWTManager struct {
	secret       []byte
	issuer       string
	accessExpiry time.Duration
}

// NewJWTManager creates a new JWT manager with the given secret and access
// token lifetime.
func NewJWTManager(secret, issuer string, accessExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:       []byte(secret),
		issuer:       issuer,
		accessExpiry: accessExpiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (m *JWTManager) AccessExpiry() time.Duration {
	return m.accessExpiry
}

// GenerateAccessToken creates a signed access token for the identity under
// the given issuer domain. FamilyID ties the token to its refresh family.
func (m *JWTManager) GenerateAccessToken(identity *domain.Identity, d domain.IssuerDomain, familyID string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.accessExpiry)

	claims := &Claims{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Domain:     string(d),
		Roles:      identity.Roles,
		FamilyID:   familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateAccessToken parses and validates an access token, rejecting tokens
// issued under a different trust domain. Expiry and domain mismatch surface
// as distinct errors; everything else is TokenInvalid.
func (m *JWTManager) ValidateAccessToken(tokenString string, expected domain.IssuerDomain) (*domain.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.TokenInvalid()
	}

	if domain.IssuerDomain(claims.Domain) != expected {
		return nil, apperrors.TokenInvalid()
	}

	return &domain.AccessClaims{
		IdentityID: claims.IdentityID,
		Email:      claims.Email,
		Domain:     domain.IssuerDomain(claims.Domain),
		Roles:      claims.Roles,
		FamilyID:   claims.FamilyID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
