// Package events is the best-effort fan-out of pipeline progress to
// subscribers. Delivery is push-only with no persistence or replay; a late
// subscriber polls the store for authoritative state.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forge-labs/forge/internal/domain"
)

// Event kinds.
const (
	KindLaunchProgress  = "launch.progress"
	KindLaunchCompleted = "launch.completed"
	KindLaunchFailed    = "launch.failed"
	KindPositionUpdated = "position.updated"
	KindRiskAlert       = "risk.alert"
)

// Topic builders. Subscriptions are scoped to exactly one of these keys.
func LaunchTopic(launchID string) string     { return "launch:" + launchID }
func PositionTopic(positionID string) string { return "position:" + positionID }
func TokenTopic(mint domain.Address) string  { return "token:" + string(mint) }

// BaseEvent carries the fields common to all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`
}

func newBase(kind string) BaseEvent {
	return BaseEvent{EventID: uuid.NewString(), Kind: kind, Timestamp: time.Now()}
}

// Event is anything the hub can fan out.
type Event interface {
	Topic() string
	base() BaseEvent
}

// LaunchProgress reports a stage checkpoint of a launch job.
type LaunchProgress struct {
	BaseEvent
	LaunchID string `json:"launch_id"`
	JobID    string `json:"job_id"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
}

func NewLaunchProgress(launchID, jobID, stage string, progress int) LaunchProgress {
	return LaunchProgress{BaseEvent: newBase(KindLaunchProgress), LaunchID: launchID, JobID: jobID, Stage: stage, Progress: progress}
}

func (e LaunchProgress) Topic() string   { return LaunchTopic(e.LaunchID) }
func (e LaunchProgress) base() BaseEvent { return e.BaseEvent }

// LaunchCompleted reports a launch reaching active with its addresses.
type LaunchCompleted struct {
	BaseEvent
	LaunchID     string         `json:"launch_id"`
	JobID        string         `json:"job_id"`
	TokenMint    domain.Address `json:"token_mint"`
	VaultAddress domain.Address `json:"vault_address"`
	CurveAddress domain.Address `json:"curve_address"`
}

func NewLaunchCompleted(l *domain.Launch, jobID string) LaunchCompleted {
	return LaunchCompleted{
		BaseEvent: newBase(KindLaunchCompleted), LaunchID: l.ID, JobID: jobID,
		TokenMint: l.TokenMint, VaultAddress: l.VaultAddress, CurveAddress: l.CurveAddress,
	}
}

func (e LaunchCompleted) Topic() string   { return LaunchTopic(e.LaunchID) }
func (e LaunchCompleted) base() BaseEvent { return e.BaseEvent }

// LaunchFailed reports a launch job exhausting its retries.
type LaunchFailed struct {
	BaseEvent
	LaunchID string `json:"launch_id"`
	JobID    string `json:"job_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

func NewLaunchFailed(launchID, jobID, stage, errText string) LaunchFailed {
	return LaunchFailed{BaseEvent: newBase(KindLaunchFailed), LaunchID: launchID, JobID: jobID, Stage: stage, Error: errText}
}

func (e LaunchFailed) Topic() string   { return LaunchTopic(e.LaunchID) }
func (e LaunchFailed) base() BaseEvent { return e.BaseEvent }

// PositionUpdated reports any liquidity subtype completing against a position.
type PositionUpdated struct {
	BaseEvent
	PositionID string                `json:"position_id"`
	LaunchID   string                `json:"launch_id"`
	Action     string                `json:"action"` // add|rebalance|harvest|close
	Status     domain.PositionStatus `json:"status"`
	FeesEarned decimal.Decimal       `json:"fees_earned"`
	APR        float64               `json:"apr"`
}

func NewPositionUpdated(p *domain.LiquidityPosition, action string) PositionUpdated {
	return PositionUpdated{
		BaseEvent: newBase(KindPositionUpdated), PositionID: p.ID, LaunchID: p.LaunchID,
		Action: action, Status: p.Status, FeesEarned: p.FeesEarned, APR: p.APR,
	}
}

func (e PositionUpdated) Topic() string   { return PositionTopic(e.PositionID) }
func (e PositionUpdated) base() BaseEvent { return e.BaseEvent }

// RiskAlertRaised is broadcast for HIGH/CRITICAL assessments only.
type RiskAlertRaised struct {
	BaseEvent
	LaunchID   string               `json:"launch_id"`
	TokenMint  domain.Address       `json:"token_mint"`
	AlertType  domain.AlertType     `json:"alert_type"`
	Severity   domain.AlertSeverity `json:"severity"`
	Message    string               `json:"message"`
	Confidence float64              `json:"confidence"`
}

func NewRiskAlertRaised(a *domain.RiskAlert) RiskAlertRaised {
	return RiskAlertRaised{
		BaseEvent: newBase(KindRiskAlert), LaunchID: a.LaunchID, TokenMint: a.TokenMint,
		AlertType: a.Type, Severity: a.Severity, Message: a.Message, Confidence: a.Confidence,
	}
}

func (e RiskAlertRaised) Topic() string   { return TokenTopic(e.TokenMint) }
func (e RiskAlertRaised) base() BaseEvent { return e.BaseEvent }
