package models

import "time"

// RiskLevel classifies a risk score
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// RiskComponents holds the five per-signal scores
type RiskComponents struct {
	Location  int `json:"location"`
	Time      int `json:"time"`
	Device    int `json:"device"`
	Frequency int `json:"frequency"`
	Behavior  int `json:"behavior"`
}

// Sum adds the components.
func (c RiskComponents) Sum() int {
	return c.Location + c.Time + c.Device + c.Frequency + c.Behavior
}

// RiskAssessment is computed per call and never persisted
type RiskAssessment struct {
	Identifier string         `json:"-"`
	ClientIP   string         `json:"client_ip"`
	Score      int            `json:"score"`
	Components RiskComponents `json:"components"`
	Level      RiskLevel      `json:"level"`
	HighRisk   bool           `json:"high_risk"`
	Degraded   bool           `json:"degraded,omitempty"`
	AssessedAt time.Time      `json:"assessed_at"`
}
