package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
)

var loginOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_login_outcomes_total",
		Help: "Total number of login attempts by trust domain and outcome",
	},
	[]string{"domain", "outcome"},
)

// loginOutcome buckets a Login result for the outcome counter.
func loginOutcome(result *domain.AuthResult, err error) string {
	switch {
	case err == nil && result != nil && result.RequiresTwoFactor:
		return "two_factor_pending"
	case err == nil && result != nil && result.RequiresVerification:
		return "verification_required"
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrAccountLocked):
		return "locked"
	case errors.Is(err, apperrors.ErrAccountBanned):
		return "banned"
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}
