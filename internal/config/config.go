package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BradenHooton/loginguard/internal/services"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Guard    GuardConfig
	Store    StoreConfig
	Redis    RedisConfig
	Alerts   AlertsConfig
	Cleanup  CleanupConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port                 string
	Env                  string
	LogLevel             string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	TrustedProxies       []string
	PublicRequestsPerMin int
	CallerRequestsPerMin int
	AdminRequestsPerMin  int
}

type AuthConfig struct {
	JWTSecret   string
	Issuer      string
	TokenExpiry time.Duration
}

// GuardConfig carries the engine thresholds; see SecurityConfig.
type GuardConfig struct {
	MaxAttemptsPerAccount          int
	LockDurationMinutes            int
	ProgressiveDelayBaseSeconds    int
	IPAutoBlacklistEnabled         bool
	IPAutoBlacklistThreshold       int
	IPCheckWindowHours             int
	IPAutoBlacklistDurationMinutes int
	RiskWeights                    services.RiskWeights
	HighRiskThreshold              int
	LogRetentionDays               int
	AttemptRetentionHours          int
	RiskTimezone                   *time.Location
}

// StoreConfig selects persistence for attempt records and the IP blacklist
type StoreConfig struct {
	AttemptBackend   string
	BlacklistBackend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AlertsConfig enables alert sinks. SES is on when a sender and recipients are set;
// Kafka is on when brokers are set.
type AlertsConfig struct {
	SESRegion      string
	SESFromAddress string
	SESRecipients  []string
	KafkaBrokers   []string
	KafkaTopic     string
	Timeout        time.Duration
}

type CleanupConfig struct {
	Enabled  bool
	Schedule string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	guard, err := loadGuard()
	if err != nil {
		return nil, err
	}

	attemptBackend := strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres))

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loginguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:                 getEnv("PORT", "8080"),
			Env:                  env,
			LogLevel:             getEnv("LOG_LEVEL", "info"),
			ReadTimeout:          getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:         getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:          getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:       getEnvAsList("TRUSTED_PROXIES"),
			PublicRequestsPerMin: getEnvAsInt("RATE_LIMIT_PUBLIC_PER_MINUTE", 600),
			CallerRequestsPerMin: getEnvAsInt("RATE_LIMIT_CALLER_PER_MINUTE", 6000),
			AdminRequestsPerMin:  getEnvAsInt("RATE_LIMIT_ADMIN_PER_MINUTE", 60),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			Issuer:      getEnv("JWT_ISSUER", "loginguard"),
			TokenExpiry: getEnvAsDuration("TOKEN_EXPIRY", 1*time.Hour),
		},
		Guard: guard,
		Store: StoreConfig{
			AttemptBackend:   attemptBackend,
			BlacklistBackend: strings.ToLower(getEnv("BLACKLIST_BACKEND", attemptBackend)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Alerts: AlertsConfig{
			SESRegion:      getEnv("ALERT_SES_REGION", "us-east-1"),
			SESFromAddress: getEnv("ALERT_SES_FROM", ""),
			SESRecipients:  getEnvAsList("ALERT_SES_RECIPIENTS"),
			KafkaBrokers:   getEnvAsList("ALERT_KAFKA_BROKERS"),
			KafkaTopic:     getEnv("ALERT_KAFKA_TOPIC", "loginguard.security-events"),
			Timeout:        getEnvAsDuration("ALERT_TIMEOUT", 5*time.Second),
		},
		Cleanup: CleanupConfig{
			Enabled:  getEnvAsBool("CLEANUP_ENABLED", true),
			Schedule: getEnv("CLEANUP_SCHEDULE", "@every 1h"),
		},
	}

	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}

	if cfg.Store.UsesPostgres() && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Guard.SecurityConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid guard configuration: %w", err)
	}

	return cfg, nil
}

func loadGuard() (GuardConfig, error) {
	d := services.DefaultSecurityConfig()

	loc := time.Local
	if tz := getEnv("GUARD_RISK_TIMEZONE", ""); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return GuardConfig{}, fmt.Errorf("GUARD_RISK_TIMEZONE: %w", err)
		}
		loc = l
	}

	return GuardConfig{
		MaxAttemptsPerAccount:          getEnvAsInt("GUARD_MAX_ATTEMPTS_PER_ACCOUNT", d.MaxAttemptsPerAccount),
		LockDurationMinutes:            getEnvAsInt("GUARD_LOCK_DURATION_MINUTES", d.LockDurationMinutes),
		ProgressiveDelayBaseSeconds:    getEnvAsInt("GUARD_PROGRESSIVE_DELAY_BASE_SECONDS", d.ProgressiveDelayBaseSeconds),
		IPAutoBlacklistEnabled:         getEnvAsBool("GUARD_IP_AUTO_BLACKLIST_ENABLED", d.IPAutoBlacklistEnabled),
		IPAutoBlacklistThreshold:       getEnvAsInt("GUARD_IP_AUTO_BLACKLIST_THRESHOLD", d.IPAutoBlacklistThreshold),
		IPCheckWindowHours:             getEnvAsInt("GUARD_IP_CHECK_WINDOW_HOURS", d.IPCheckWindowHours),
		IPAutoBlacklistDurationMinutes: getEnvAsInt("GUARD_IP_AUTO_BLACKLIST_DURATION_MINUTES", d.IPAutoBlacklistDurationMinutes),
		RiskWeights: services.RiskWeights{
			Location:  getEnvAsInt("GUARD_RISK_WEIGHT_LOCATION", d.RiskWeights.Location),
			Time:      getEnvAsInt("GUARD_RISK_WEIGHT_TIME", d.RiskWeights.Time),
			Device:    getEnvAsInt("GUARD_RISK_WEIGHT_DEVICE", d.RiskWeights.Device),
			Frequency: getEnvAsInt("GUARD_RISK_WEIGHT_FREQUENCY", d.RiskWeights.Frequency),
			Behavior:  getEnvAsInt("GUARD_RISK_WEIGHT_BEHAVIOR", d.RiskWeights.Behavior),
		},
		HighRiskThreshold:     getEnvAsInt("GUARD_HIGH_RISK_THRESHOLD", d.HighRiskThreshold),
		LogRetentionDays:      getEnvAsInt("GUARD_LOG_RETENTION_DAYS", d.LogRetentionDays),
		AttemptRetentionHours: getEnvAsInt("GUARD_ATTEMPT_RETENTION_HOURS", d.AttemptRetentionHours),
		RiskTimezone:          loc,
	}, nil
}

// SecurityConfig converts the loaded thresholds into the engine's immutable config
func (g GuardConfig) SecurityConfig() services.SecurityConfig {
	return services.SecurityConfig{
		MaxAttemptsPerAccount:          g.MaxAttemptsPerAccount,
		LockDurationMinutes:            g.LockDurationMinutes,
		ProgressiveDelayBaseSeconds:    g.ProgressiveDelayBaseSeconds,
		IPAutoBlacklistEnabled:         g.IPAutoBlacklistEnabled,
		IPAutoBlacklistThreshold:       g.IPAutoBlacklistThreshold,
		IPCheckWindowHours:             g.IPCheckWindowHours,
		IPAutoBlacklistDurationMinutes: g.IPAutoBlacklistDurationMinutes,
		RiskWeights:                    g.RiskWeights,
		HighRiskThreshold:              g.HighRiskThreshold,
		LogRetentionDays:               g.LogRetentionDays,
		AttemptRetentionHours:          g.AttemptRetentionHours,
		RiskLocation:                   g.RiskTimezone,
	}
}

func (s StoreConfig) validate() error {
	switch s.AttemptBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q (got %q)", BackendPostgres, BackendMemory, s.AttemptBackend)
	}
	switch s.BlacklistBackend {
	case BackendPostgres, BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("BLACKLIST_BACKEND must be %q, %q or %q (got %q)", BackendPostgres, BackendRedis, BackendMemory, s.BlacklistBackend)
	}
	return nil
}

// UsesPostgres reports whether any store needs the database.
// The audit log is persisted only when it does.
func (s StoreConfig) UsesPostgres() bool {
	return s.AttemptBackend == BackendPostgres || s.BlacklistBackend == BackendPostgres
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
