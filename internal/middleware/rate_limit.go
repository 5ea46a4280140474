package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/loginguard/internal/auth"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultCallerRateLimit returns the default budget for authentication services calling the gate
func DefaultCallerRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 6000,
	}
}

// DefaultAdminRateLimit returns the default budget for admin endpoints
func DefaultAdminRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// DefaultPublicRateLimit returns the per-IP budget applied before authentication
func DefaultPublicRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
	}
}

// RateLimitByIP limits requests by client IP. Forwarding headers are honoured only from trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(clientIPKey(config.IPConfig)),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByPrincipal limits requests by authenticated principal, falling back to client IP.
// Must be mounted after auth.AuthMiddleware.
func RateLimitByPrincipal(config RateLimitConfig) func(next http.Handler) http.Handler {
	ipKey := clientIPKey(config.IPConfig)
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if actor := auth.ActorID(r); actor != "" {
				return "principal:" + actor, nil
			}
			return ipKey(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func clientIPKey(cfg *pkghttp.IPConfig) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return "ip:" + pkghttp.ExtractClientIP(r, cfg), nil
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}
