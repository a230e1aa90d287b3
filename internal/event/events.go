package event

import (
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
)

// Kafka topic constants for auth domain events.
const (
	TopicUserRegistered    = "community.user.registered"
	TopicUserLoggedIn      = "community.user.logged_in"
	TopicPasswordChanged   = "community.user.password_changed"
	TopicTwoFactorEnabled  = "community.user.two_factor_enabled"
	TopicTwoFactorDisabled = "community.user.two_factor_disabled"
	TopicTokenReplayed     = "community.auth.token_replayed"
	TopicAdminLoggedIn     = "community.admin.logged_in"
)

// Aggregate type constant.
const AggregateTypeIdentity = "identity"

// Source identifier for events originating from the auth service.
const SourceAuthService = "auth-service"

// RegisteredData is the payload for a user.registered event.
type RegisteredData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoggedInData is the payload for user.logged_in and admin.logged_in events.
type LoggedInData struct {
	ID       string              `json:"id"`
	Email    string              `json:"email"`
	Domain   domain.IssuerDomain `json:"domain"`
	External bool                `json:"external,omitempty"`
}

// PasswordChangedData is the payload for a user.password_changed event.
type PasswordChangedData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TwoFactorData is the payload for two-factor enable and disable events.
type TwoFactorData struct {
	ID     string                 `json:"id"`
	Method domain.TwoFactorMethod `json:"method,omitempty"`
}

// TokenReplayedData is the payload for an auth.token_replayed security alert.
type TokenReplayedData struct {
	IdentityID string              `json:"identity_id"`
	Domain     domain.IssuerDomain `json:"domain"`
	FamilyID   string              `json:"family_id"`
}

// Envelope pairs a topic with its payload for async dispatch.
type Envelope struct {
	Topic         string
	AggregateID   string
	CorrelationID string
	Data          any
}
