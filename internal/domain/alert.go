package domain

import "time"

// AlertType categorizes a risk finding.
type AlertType string

const (
	AlertRugPull            AlertType = "rug_pull"
	AlertLiquidity          AlertType = "liquidity"
	AlertSuspiciousActivity AlertType = "suspicious_activity"
	AlertHighRisk           AlertType = "high_risk"
)

// AlertSeverity grades a risk finding.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// RiskAlert is an immutable finding attached to a launch. Acknowledged is the
// only field mutated after creation, and only by an external actor.
type RiskAlert struct {
	ID           string             `json:"id"`
	LaunchID     string             `json:"launch_id"`
	TokenMint    Address            `json:"token_mint"`
	Type         AlertType          `json:"type"`
	Severity     AlertSeverity      `json:"severity"`
	Message      string             `json:"message"`
	Indicators   map[string]float64 `json:"indicators"` // snapshot at detection time
	Confidence   float64            `json:"confidence"`
	Acknowledged bool               `json:"acknowledged"`
	CreatedAt    time.Time          `json:"created_at"`
}
