package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// RiskWeights caps the points each risk signal can contribute.
type RiskWeights struct {
	Location  int `validate:"gte=0,lte=100"`
	Time      int `validate:"gte=0,lte=100"`
	Device    int `validate:"gte=0,lte=100"`
	Frequency int `validate:"gte=0,lte=100"`
	Behavior  int `validate:"gte=0,lte=100"`
}

// DefaultRiskWeights returns the stock component caps.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		Location:  maxLocationPoints,
		Time:      maxTimePoints,
		Device:    maxDevicePoints,
		Frequency: maxFrequencyPoints,
		Behavior:  maxBehaviorPoints,
	}
}

// SecurityConfig holds the engine thresholds. It is copied into every component at
// construction and never mutated afterwards.
type SecurityConfig struct {
	MaxAttemptsPerAccount int `validate:"gte=1"`
	LockDurationMinutes   int `validate:"gte=1"`
	// ProgressiveDelayBaseSeconds of 0 disables the retry delay.
	ProgressiveDelayBaseSeconds int `validate:"gte=0"`

	IPAutoBlacklistEnabled         bool
	IPAutoBlacklistThreshold       int `validate:"gte=1"`
	IPCheckWindowHours             int `validate:"gte=1"`
	IPAutoBlacklistDurationMinutes int `validate:"gte=1"`

	RiskWeights       RiskWeights
	HighRiskThreshold int `validate:"gte=0,lte=100"`

	LogRetentionDays      int `validate:"gte=1"`
	AttemptRetentionHours int `validate:"gte=1"`

	// RiskLocation is the zone used for the off-hours signal. Nil means time.Local.
	RiskLocation *time.Location `validate:"-"`
}

// DefaultSecurityConfig returns the stock thresholds.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxAttemptsPerAccount:          5,
		LockDurationMinutes:            15,
		ProgressiveDelayBaseSeconds:    60,
		IPAutoBlacklistEnabled:         true,
		IPAutoBlacklistThreshold:       50,
		IPCheckWindowHours:             1,
		IPAutoBlacklistDurationMinutes: 60,
		RiskWeights:                    DefaultRiskWeights(),
		HighRiskThreshold:              70,
		LogRetentionDays:               30,
		AttemptRetentionHours:          24,
	}
}

// Validate checks every threshold and returns a ValidationError for the first bad field.
func (c SecurityConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "SecurityConfig.")
			return models.NewValidationError(field, fmt.Sprintf("must satisfy %s %s", fe.Tag(), fe.Param()))
		}
		return fmt.Errorf("invalid security config: %w", err)
	}
	return nil
}

func (c SecurityConfig) lockDuration() time.Duration {
	return time.Duration(c.LockDurationMinutes) * time.Minute
}

func (c SecurityConfig) ipCheckWindow() time.Duration {
	return time.Duration(c.IPCheckWindowHours) * time.Hour
}

func (c SecurityConfig) ipBanDuration() time.Duration {
	return time.Duration(c.IPAutoBlacklistDurationMinutes) * time.Minute
}

func (c SecurityConfig) riskLocation() *time.Location {
	if c.RiskLocation == nil {
		return time.Local
	}
	return c.RiskLocation
}
