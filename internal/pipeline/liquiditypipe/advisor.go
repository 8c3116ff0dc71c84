package liquiditypipe

import (
	"fmt"
	"time"

	"github.com/forge-labs/forge/internal/domain"
)

// ---------------------------------------------------------------------------
// Rebalance advisor: gate before an AI-managed rebalance job is enqueued
// ---------------------------------------------------------------------------

// AdvisorConfig tunes the rebalance gate.
type AdvisorConfig struct {
	// Minimum expected APR improvement in percentage points.
	MinAPRImprovementPct float64 `yaml:"min_apr_improvement_pct"`

	// Minimum model confidence in the proposed range.
	MinConfidence float64 `yaml:"min_confidence"`

	// Minimum time since the position last rebalanced.
	MinInterval time.Duration `yaml:"min_interval"`
}

// DefaultAdvisorConfig returns the observed production gate.
func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		MinAPRImprovementPct: 5.0,
		MinConfidence:        0.80,
		MinInterval:          24 * time.Hour,
	}
}

// Proposal is a candidate rebalance for an AI-managed position.
type Proposal struct {
	NewRange    domain.PriceRange
	ExpectedAPR float64
	Confidence  float64
}

// Advisor decides whether a proposal clears the gate. Rebalancing costs two
// transactions and realizes impermanent loss, so marginal improvements and
// low-confidence predictions are rejected.
type Advisor struct {
	cfg AdvisorConfig
	now func() time.Time
}

// NewAdvisor creates an advisor.
func NewAdvisor(cfg AdvisorConfig) *Advisor {
	return &Advisor{cfg: cfg, now: time.Now}
}

// ShouldRebalance reports whether the proposal clears every gate, with the
// blocking reason when it does not.
func (a *Advisor) ShouldRebalance(pos *domain.LiquidityPosition, prop Proposal) (bool, string) {
	if pos.Status != domain.PositionActive {
		return false, fmt.Sprintf("position is %s", pos.Status)
	}
	if !prop.NewRange.Valid() {
		return false, "proposed range is invalid"
	}
	if improvement := prop.ExpectedAPR - pos.APR; improvement <= a.cfg.MinAPRImprovementPct {
		return false, fmt.Sprintf("apr improvement %.2fpp below %.2fpp threshold", improvement, a.cfg.MinAPRImprovementPct)
	}
	if prop.Confidence <= a.cfg.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below %.2f threshold", prop.Confidence, a.cfg.MinConfidence)
	}
	if pos.LastRebalanceAt != nil {
		if since := a.now().Sub(*pos.LastRebalanceAt); since < a.cfg.MinInterval {
			return false, fmt.Sprintf("last rebalance %s ago, minimum interval %s", since.Round(time.Minute), a.cfg.MinInterval)
		}
	}
	return true, ""
}
