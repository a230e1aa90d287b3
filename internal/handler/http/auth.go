package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/domain"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/service"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/httputil"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/middleware"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/validator"
)

// AuthHandler handles HTTP requests for one trust domain's auth endpoints.
// The user and admin surfaces each get their own instance wired to the
// matching orchestrator.
type AuthHandler struct {
	orch   *service.Orchestrator
	logger *slog.Logger
}

// NewAuthHandler creates an auth HTTP handler.
func NewAuthHandler(orch *service.Orchestrator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{orch: orch, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TwoFactorRequest is the JSON request body for completing a two-factor login.
type TwoFactorRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	Code        string `json:"code" validate:"required,min=6,max=8"`
}

// RefreshRequest is the JSON request body for token refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ExternalLoginRequest is the JSON request body for provider-backed login.
type ExternalLoginRequest struct {
	Provider string `json:"provider" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

// ForgotPasswordRequest is the JSON request body for starting a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for completing a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ChangePasswordRequest is the JSON request body for a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// EnableTwoFactorRequest is the JSON request body for enabling a second factor.
type EnableTwoFactorRequest struct {
	Method string `json:"method" validate:"required,oneof=otp totp sms"`
}

// DisableTwoFactorRequest is the JSON request body for disabling the second factor.
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
}

// --- Response types ---

// SessionResponse is the login and refresh response payload.
type SessionResponse struct {
	AccessToken          string     `json:"access_token,omitempty"`
	RefreshToken         string     `json:"refresh_token,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	User                 any        `json:"user,omitempty"`
	RequiresTwoFactor    bool       `json:"requires_two_factor,omitempty"`
	RequiresVerification bool       `json:"requires_verification,omitempty"`
	ChallengeID          string     `json:"challenge_id,omitempty"`
}

func sessionResponse(result *domain.AuthResult) SessionResponse {
	resp := SessionResponse{
		User:                 result.Identity,
		RequiresTwoFactor:    result.RequiresTwoFactor,
		RequiresVerification: result.RequiresVerification,
		ChallengeID:          result.ChallengeID,
	}
	if result.Tokens != nil {
		resp.AccessToken = result.Tokens.AccessToken
		resp.RefreshToken = result.Tokens.RefreshToken
		expires := result.Tokens.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

// decode parses and validates a JSON request body into dst, writing the
// error response itself when the body is bad.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}

	return true
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orch.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: sessionResponse(result)})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orch.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(result)})
}

// CompleteTwoFactor handles POST /api/v1/auth/login/2fa
func (h *AuthHandler) CompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orch.CompleteTwoFactor(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(result)})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.orch.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	expires := pair.ExpiresAt
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: SessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    &expires,
	}})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.orch.Logout(r.Context(), req.RefreshToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "logged_out"}})
}

// ExternalLogin handles POST /api/v1/auth/external
func (h *AuthHandler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req ExternalLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orch.ExternalLogin(r.Context(), req.Provider, req.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(result)})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.orch.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// Same response whether or not the account exists.
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "reset_requested"}})
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.orch.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "password_reset"}})
}

// ChangePassword handles POST /api/v1/auth/change-password (authenticated)
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	identityID := middleware.IdentityIDFromContext(r.Context())
	if err := h.orch.ChangePassword(r.Context(), identityID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "password_changed"}})
}

// EnableTwoFactor handles POST /api/v1/auth/2fa/enable (authenticated)
func (h *AuthHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req EnableTwoFactorRequest
	if !h.decode(w, r, &req) {
		return
	}

	identityID := middleware.IdentityIDFromContext(r.Context())
	setup, err := h.orch.EnableTwoFactor(r.Context(), identityID, domain.TwoFactorMethod(req.Method))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if setup != nil {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: setup})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "two_factor_enabled"}})
}

// DisableTwoFactor handles POST /api/v1/auth/2fa/disable (authenticated)
func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req DisableTwoFactorRequest
	if !h.decode(w, r, &req) {
		return
	}

	identityID := middleware.IdentityIDFromContext(r.Context())
	if err := h.orch.DisableTwoFactor(r.Context(), identityID, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "two_factor_disabled"}})
}
