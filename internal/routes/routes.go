package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds everything the router needs
type Deps struct {
	Guard          *handlers.GuardHandler
	Admin          *handlers.AdminSecurityHandler
	TokenManager   *auth.TokenManager
	PublicLimit    middleware.RateLimitConfig
	CallerLimit    middleware.RateLimitConfig
	AdminLimit     middleware.RateLimitConfig
	MetricsHandler http.Handler
	// Health checks by component name, e.g. "database" or "redis"
	Health map[string]HealthChecker
}

// RegisterRoutes registers all application routes. A limit with RequestsPerMinute <= 0
// uses the middleware default for that tier.
func RegisterRoutes(router chi.Router, deps Deps) {
	publicLimit := orDefault(deps.PublicLimit, middleware.DefaultPublicRateLimit())
	callerLimit := orDefault(deps.CallerLimit, middleware.DefaultCallerRateLimit())
	adminLimit := orDefault(deps.AdminLimit, middleware.DefaultAdminRateLimit())

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(publicLimit))
		r.Get("/health", healthHandler(deps.Health))
		if deps.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
		}
	})

	router.Route("/v1", func(r chi.Router) {
		// Unauthenticated callers are throttled by IP before the token is parsed.
		r.Use(middleware.RateLimitByIP(publicLimit))
		r.Use(auth.AuthMiddleware(deps.TokenManager))
		r.Use(middleware.CapturePrincipal)

		// Authentication services calling the gate
		r.Route("/guard", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleService, models.RoleAdmin))
			r.Use(middleware.RateLimitByPrincipal(callerLimit))
			r.Post("/check", deps.Guard.Check)
			r.Post("/failures", deps.Guard.RecordFailure)
			r.Post("/clear", deps.Guard.Clear)
			r.Post("/risk", deps.Guard.AssessRisk)
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Use(middleware.RateLimitByPrincipal(adminLimit))

			r.Post("/accounts/lock", deps.Admin.LockAccount)
			r.Post("/accounts/unlock", deps.Admin.UnlockAccount)
			r.Get("/accounts/locked", deps.Admin.ListLockedAccounts)

			r.Get("/ip-blacklist", deps.Admin.ListBlacklist)
			r.Post("/ip-blacklist", deps.Admin.BlacklistIP)
			r.Get("/ip-blacklist/{ip}", deps.Admin.GetBlacklistEntry)
			r.Delete("/ip-blacklist/{ip}", deps.Admin.RemoveFromBlacklist)

			r.Post("/maintenance/clean-attempts", deps.Admin.CleanAttempts)
			r.Post("/maintenance/clean-logs", deps.Admin.CleanLogs)

			r.Get("/audit", deps.Admin.ListAudit)
		})
	})
}

func orDefault(cfg, def middleware.RateLimitConfig) middleware.RateLimitConfig {
	if cfg.RequestsPerMinute <= 0 {
		def.IPConfig = cfg.IPConfig
		return def
	}
	return cfg
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for name, c := range checks {
			if err := c.HealthCheck(ctx); err != nil {
				resp[name] = "down"
				resp["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "up"
		}

		pkghttp.WriteJSON(w, status, resp)
	}
}
