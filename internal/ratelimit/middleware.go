package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/errors"
	"github.com/Mostafa-SAID7/fullycommunity-sub014/pkg/httputil"
)

var rateLimitRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
	[]string{"class"},
)

// KeyFunc derives the rate-limit key from a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by client address, honoring X-Forwarded-For from
// the ingress proxy. The header is a comma-joined hop list once several
// proxies have appended to it; the first entry is the originating client.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns chi middleware that enforces the class budget before
// the handler decodes any credentials. A limiter backend failure allows the
// request through: rate limiting degrades open, authentication does not.
func Middleware(limiter Limiter, class Class, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := limiter.Check(r.Context(), class, keyFn(r))
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limiter unavailable",
					slog.String("class", string(class)),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				rateLimitRejections.WithLabelValues(string(class)).Inc()
				httputil.WriteError(w, r, apperrors.RateLimited(res.RetryAfter), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
