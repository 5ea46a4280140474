package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
)

// Points awarded by each signal at the stock weights.
const (
	maxLocationPoints  = 15
	maxTimePoints      = 10
	maxDevicePoints    = 25
	maxFrequencyPoints = 25
	maxBehaviorPoints  = 15

	blankAgentPoints       = 20
	frequencyMediumPoints  = 15
	behaviorMediumPoints   = 8
	behaviorNewUserPoints  = 5
	mediumRiskFloor        = 40
	maxRiskScore           = 100
	frequencyHighThreshold = 10
	frequencyMidThreshold  = 5

	// DefaultRiskScore is reported when history cannot be read.
	DefaultRiskScore = 50
)

var automatedAgentMarkers = []string{"bot", "crawler", "spider"}

// RiskScorer combines five signals into a 0-100 login risk score
type RiskScorer struct {
	attempts AttemptStore
	config   SecurityConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewRiskScorer creates a new RiskScorer
func NewRiskScorer(attempts AttemptStore, config SecurityConfig, clk clock.Clock, logger *slog.Logger) *RiskScorer {
	return &RiskScorer{
		attempts: attempts,
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// Assess scores a login from the stored attempt history. Each component is scaled by
// its configured weight relative to the stock cap.
func (s *RiskScorer) Assess(ctx context.Context, identifier, clientIP, userAgent string) (*models.RiskAssessment, error) {
	now := s.clock.Now()

	history, err := s.attempts.ListByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to load identifier history: %w", err)
	}
	history = withoutManualLocks(history)

	recent, err := s.attempts.ListByClientIP(ctx, clientIP, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load ip history: %w", err)
	}

	w := s.config.RiskWeights
	components := models.RiskComponents{
		Location:  scale(locationPoints(history, clientIP), w.Location, maxLocationPoints),
		Time:      scale(timePoints(now.In(s.config.riskLocation())), w.Time, maxTimePoints),
		Device:    scale(devicePoints(userAgent), w.Device, maxDevicePoints),
		Frequency: scale(frequencyPoints(len(recent)), w.Frequency, maxFrequencyPoints),
		Behavior:  scale(behaviorPoints(history), w.Behavior, maxBehaviorPoints),
	}

	score := min(max(components.Sum(), 0), maxRiskScore)
	return &models.RiskAssessment{
		Identifier: identifier,
		ClientIP:   clientIP,
		Score:      score,
		Components: components,
		Level:      s.level(score),
		HighRisk:   score >= s.config.HighRiskThreshold,
		AssessedAt: now,
	}, nil
}

// Fallback is the assessment used when history is unavailable.
func (s *RiskScorer) Fallback(identifier, clientIP string) *models.RiskAssessment {
	return &models.RiskAssessment{
		Identifier: identifier,
		ClientIP:   clientIP,
		Score:      DefaultRiskScore,
		Level:      s.level(DefaultRiskScore),
		HighRisk:   DefaultRiskScore >= s.config.HighRiskThreshold,
		Degraded:   true,
		AssessedAt: s.clock.Now(),
	}
}

func (s *RiskScorer) level(score int) models.RiskLevel {
	switch {
	case score >= s.config.HighRiskThreshold:
		return models.RiskLevelHigh
	case score >= mediumRiskFloor:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func scale(points, weight, basis int) int {
	if basis == 0 {
		return 0
	}
	return points * weight / basis
}

func locationPoints(history []*models.AttemptRecord, clientIP string) int {
	for _, r := range history {
		if r.ClientIP == clientIP {
			return 0
		}
	}
	return maxLocationPoints
}

func timePoints(local time.Time) int {
	if h := local.Hour(); h < 6 || h > 22 {
		return maxTimePoints
	}
	return 0
}

func devicePoints(userAgent string) int {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return blankAgentPoints
	}
	for _, marker := range automatedAgentMarkers {
		if strings.Contains(ua, marker) {
			return maxDevicePoints
		}
	}
	return 0
}

func frequencyPoints(recentCount int) int {
	switch {
	case recentCount > frequencyHighThreshold:
		return maxFrequencyPoints
	case recentCount > frequencyMidThreshold:
		return frequencyMediumPoints
	default:
		return 0
	}
}

func behaviorPoints(history []*models.AttemptRecord) int {
	if len(history) == 0 {
		return behaviorNewUserPoints
	}
	total := 0
	for _, r := range history {
		total += r.AttemptCount
	}
	avg := float64(total) / float64(len(history))
	switch {
	case avg > 3:
		return maxBehaviorPoints
	case avg > 1:
		return behaviorMediumPoints
	default:
		return 0
	}
}

func withoutManualLocks(recs []*models.AttemptRecord) []*models.AttemptRecord {
	out := recs[:0:0]
	for _, r := range recs {
		if r.ClientIP != models.ManualLockClientIP {
			out = append(out, r)
		}
	}
	return out
}
