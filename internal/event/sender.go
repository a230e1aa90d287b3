package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/kafka"
)

// TopicCodeIssued carries one-time codes to the notification service, which
// owns the actual email and SMS delivery.
const TopicCodeIssued = "community.auth.code_issued"

// CodeIssuedData is the payload for a code_issued delivery request.
type CodeIssuedData struct {
	IdentityID string                 `json:"identity_id"`
	Email      string                 `json:"email"`
	Phone      string                 `json:"phone,omitempty"`
	Method     domain.TwoFactorMethod `json:"method"`
	Code       string                 `json:"code"`
}

// TopicResetIssued carries password reset tokens to the notification service,
// which renders the reset link into the email.
const TopicResetIssued = "community.auth.reset_issued"

// ResetIssuedData is the payload for a reset_issued delivery request.
type ResetIssuedData struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	Token      string `json:"token"`
}

// KafkaCodeSender delivers one-time codes by publishing to the notification
// topic. Unlike the fire-and-forget dispatcher this publishes synchronously:
// a silently dropped code would strand the login.
type KafkaCodeSender struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewKafkaCodeSender creates a code sender backed by the Kafka producer.
func NewKafkaCodeSender(producer *kafka.Producer, logger *slog.Logger) *KafkaCodeSender {
	return &KafkaCodeSender{producer: producer, logger: logger}
}

// SendCode publishes the code for out-of-band delivery.
func (s *KafkaCodeSender) SendCode(ctx context.Context, identity *domain.Identity, method domain.TwoFactorMethod, code string) error {
	ev, err := kafka.NewEvent(TopicCodeIssued, identity.ID, AggregateTypeIdentity, SourceAuthService, CodeIssuedData{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Phone:      identity.Phone,
		Method:     method,
		Code:       code,
	})
	if err != nil {
		return fmt.Errorf("build code event: %w", err)
	}

	if err := s.producer.Publish(ctx, TopicCodeIssued, ev); err != nil {
		return fmt.Errorf("publish code event: %w", err)
	}

	s.logger.DebugContext(ctx, "one-time code dispatched for delivery",
		slog.String("identity_id", identity.ID),
		slog.String("method", string(method)),
	)

	return nil
}

// SendReset publishes a password reset token for out-of-band delivery. Like
// SendCode this publishes synchronously: the reset stalls without the email.
func (s *KafkaCodeSender) SendReset(ctx context.Context, identity *domain.Identity, token string) error {
	ev, err := kafka.NewEvent(TopicResetIssued, identity.ID, AggregateTypeIdentity, SourceAuthService, ResetIssuedData{
		IdentityID: identity.ID,
		Email:      identity.Email,
		FirstName:  identity.FirstName,
		Token:      token,
	})
	if err != nil {
		return fmt.Errorf("build reset event: %w", err)
	}

	if err := s.producer.Publish(ctx, TopicResetIssued, ev); err != nil {
		return fmt.Errorf("publish reset event: %w", err)
	}

	s.logger.DebugContext(ctx, "password reset dispatched for delivery",
		slog.String("identity_id", identity.ID),
	)

	return nil
}
