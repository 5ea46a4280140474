package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BradenHooton/loginguard/internal/alerts"
	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/background"
	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/config"
	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/repositories"
	"github.com/BradenHooton/loginguard/internal/repositories/memory"
	"github.com/BradenHooton/loginguard/internal/repositories/redisstore"
	"github.com/BradenHooton/loginguard/internal/routes"
	"github.com/BradenHooton/loginguard/internal/services"
	"github.com/BradenHooton/loginguard/migrations"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// stores groups the selected persistence backends
type stores struct {
	attempts  services.AttemptStore
	blacklist services.BlacklistStore
	audit     auditStore
	health    map[string]routes.HealthChecker
	closers   []io.Closer
}

type auditStore interface {
	services.AuditLogStore
	services.LoginLogCleaner
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Stdout)
	stop()
	os.Exit(code)
}

// run wires and serves the API until ctx is cancelled or the listener fails. It
// returns the process exit code; every deferred release has run by then.
func run(ctx context.Context, stdout io.Writer) int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		return 1
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("attempt_store", cfg.Store.AttemptBackend),
		slog.String("blacklist_store", cfg.Store.BlacklistBackend))

	clk := clock.Real{}

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	st, db, err := openStores(startupCtx, cfg, clk, logger)
	startupCancel()
	if err != nil {
		logger.Error("failed to initialize stores", slog.Any("error", err))
		return 1
	}
	defer func() {
		for _, c := range st.closers {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close store", slog.Any("error", err))
			}
		}
		if db != nil {
			db.Close()
		}
		logger.Info("resources released")
	}()

	// Alert sinks
	notifier, closeAlerts, err := buildNotifier(cfg.Alerts, logger)
	if err != nil {
		logger.Error("failed to initialize alerts", slog.Any("error", err))
		return 1
	}
	defer closeAlerts()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)
	if db != nil {
		appMetrics.RegisterPool(func() metrics.PoolStats { return db.Stats() })
	}

	// Engine
	auditService := services.NewAuditService(st.audit, logger)
	securityService, err := services.NewLoginSecurityService(cfg.Guard.SecurityConfig(), services.LoginSecurityDeps{
		Attempts:      st.attempts,
		Blacklist:     st.blacklist,
		Logs:          st.audit,
		Notifier:      notifier,
		Metrics:       appMetrics,
		Audit:         auditService,
		Clock:         clk,
		Logger:        logger,
		NotifyTimeout: cfg.Alerts.Timeout,
	})
	if err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		return 1
	}

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry, clk)

	// Setup router
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(appMetrics.Middleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	routes.RegisterRoutes(router, routes.Deps{
		Guard:        handlers.NewGuardHandler(securityService),
		Admin:        handlers.NewAdminSecurityHandler(securityService, auditService),
		TokenManager: tokenManager,
		PublicLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.PublicRequestsPerMin,
			IPConfig:          ipConfig,
		},
		CallerLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.CallerRequestsPerMin,
			IPConfig:          ipConfig,
		},
		AdminLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.AdminRequestsPerMin,
			IPConfig:          ipConfig,
		},
		MetricsHandler: appMetrics.Handler(),
		Health:         st.health,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	var cleanupManager *background.CleanupManager
	cleanupDone := make(chan struct{})
	if cfg.Cleanup.Enabled {
		cleanupManager, err = background.NewCleanupManager(
			securityService,
			logger,
			cfg.Cleanup.Schedule,
			cfg.Guard.AttemptRetentionHours,
			cfg.Guard.LogRetentionDays,
		)
		if err != nil {
			logger.Error("failed to initialize cleanup manager", slog.Any("error", err))
			return 1
		}
		go func() {
			defer close(cleanupDone)
			cleanupManager.Start(cleanupCtx)
		}()
	} else {
		close(cleanupDone)
	}

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
		exitCode = 1
	}

	if cleanupManager != nil {
		cleanupManager.Stop()
	}
	cleanupCancel()
	<-cleanupDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		exitCode = 1
	}

	logger.Info("server stopped")
	return exitCode
}

// openStores connects the configured backends and runs migrations when Postgres is in use
func openStores(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*stores, *database.DB, error) {
	st := &stores{health: map[string]routes.HealthChecker{}}

	var db *database.DB
	if cfg.Store.UsesPostgres() {
		var err error
		db, err = database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, err
		}
		st.health["database"] = db
		st.audit = repositories.NewAuditLogRepository(db)
	} else {
		logger.Warn("running without Postgres; audit log is kept in memory only")
		st.audit = memory.NewAuditLogStore(clk)
	}

	switch cfg.Store.AttemptBackend {
	case config.BackendPostgres:
		st.attempts = repositories.NewLoginAttemptRepository(db)
	default:
		st.attempts = memory.NewAttemptStore(clk)
	}

	switch cfg.Store.BlacklistBackend {
	case config.BackendPostgres:
		st.blacklist = repositories.NewIPBlacklistRepository(db)
	case config.BackendRedis:
		rs := redisstore.New(redisstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB))
		if err := rs.HealthCheck(ctx); err != nil {
			logger.Warn("redis not reachable at startup", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		}
		st.blacklist = rs
		st.health["redis"] = rs
		st.closers = append(st.closers, rs)
	default:
		st.blacklist = memory.NewBlacklistStore()
	}

	return st, db, nil
}

// buildNotifier fans security events out to every configured sink
func buildNotifier(cfg config.AlertsConfig, logger *slog.Logger) (services.SecurityNotifier, func(), error) {
	var sinks alerts.Multi
	closeFn := func() {}

	if cfg.SESFromAddress != "" && len(cfg.SESRecipients) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ses, err := alerts.NewSESNotifier(ctx, cfg.SESRegion, cfg.SESFromAddress, cfg.SESRecipients, logger)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, ses)
		logger.Info("SES alerts enabled", slog.Int("recipients", len(cfg.SESRecipients)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka := alerts.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafka)
		closeFn = func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("failed to flush kafka alerts", slog.Any("error", err))
			}
		}
		logger.Info("kafka alerts enabled", slog.String("topic", cfg.KafkaTopic))
	}

	if len(sinks) == 0 {
		return alerts.Nop{}, closeFn, nil
	}
	return sinks, closeFn, nil
}
