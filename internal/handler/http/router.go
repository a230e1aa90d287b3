package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/ratelimit"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/internal/service"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/health"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/middleware"
)

// RouterConfig collects everything the router needs.
type RouterConfig struct {
	UserOrchestrator  *service.Orchestrator
	AdminOrchestrator *service.Orchestrator
	Limiter           ratelimit.Limiter
	HealthHandler     *health.Handler
	Logger            *slog.Logger
	CORS              middleware.CORSConfig
	TracingEnabled    bool
}

// NewRouter creates a chi router with all auth routes registered. The user
// and admin surfaces share DTO shapes but run against separate orchestrators
// so their tokens carry distinct issuer domains.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.TracingEnabled {
		r.Use(middleware.Tracing("auth"))
	}
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", cfg.HealthHandler.LivenessHandler())
	r.Get("/health/ready", cfg.HealthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	mountAuthRoutes(r, "/api/v1/auth", cfg.UserOrchestrator, cfg, true)
	mountAuthRoutes(r, "/api/v1/admin/auth", cfg.AdminOrchestrator, cfg, false)

	return r
}

// mountAuthRoutes registers one trust domain's auth surface under prefix.
// Registration, external login, password resets, and the authenticated
// account endpoints are only mounted on the public surface.
func mountAuthRoutes(r chi.Router, prefix string, orch *service.Orchestrator, cfg RouterConfig, public bool) {
	handler := NewAuthHandler(orch, cfg.Logger)

	limit := func(class ratelimit.Class) func(http.Handler) http.Handler {
		return ratelimit.Middleware(cfg.Limiter, class, ratelimit.ClientIP, cfg.Logger)
	}

	// Token validator bridging the bearer middleware to this domain's
	// orchestrator.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := orch.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			IdentityID: claims.IdentityID,
			Email:      claims.Email,
			Domain:     string(claims.Domain),
			Roles:      claims.Roles,
			SessionID:  claims.FamilyID,
		}, nil
	}

	r.Route(prefix, func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.With(limit(ratelimit.ClassLogin)).Post("/login", handler.Login)
		r.With(limit(ratelimit.ClassTwoFactor)).Post("/login/2fa", handler.CompleteTwoFactor)
		r.With(limit(ratelimit.ClassRefresh)).Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)

		if !public {
			return
		}

		r.With(limit(ratelimit.ClassRegister)).Post("/register", handler.Register)
		r.With(limit(ratelimit.ClassLogin)).Post("/external", handler.ExternalLogin)
		r.With(limit(ratelimit.ClassReset)).Post("/forgot-password", handler.ForgotPassword)
		r.With(limit(ratelimit.ClassReset)).Post("/reset-password", handler.ResetPassword)

		// Bearer-authenticated account endpoints, user domain only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))
			r.Use(middleware.RequestLogger(cfg.Logger))

			r.Post("/change-password", handler.ChangePassword)
			r.Post("/2fa/enable", handler.EnableTwoFactor)
			r.Post("/2fa/disable", handler.DisableTwoFactor)
		})
	})
}
