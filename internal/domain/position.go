package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a concentrated liquidity position.
type PositionStatus string

const (
	PositionActive      PositionStatus = "active"
	PositionRebalancing PositionStatus = "rebalancing"
	PositionClosed      PositionStatus = "closed"
)

// PriceRange is the active price band of a concentrated position.
type PriceRange struct {
	Lower decimal.Decimal `json:"lower"`
	Upper decimal.Decimal `json:"upper"`
}

// Valid reports whether the range is well-formed (0 < lower < upper).
func (r PriceRange) Valid() bool {
	return r.Lower.IsPositive() && r.Upper.GreaterThan(r.Lower)
}

// LiquidityPosition is one open or closed concentrated liquidity allocation
// tied to a launch. The pool address is always stored on the row so closing
// never needs to derive it on-chain.
type LiquidityPosition struct {
	ID              string          `json:"id"`
	LaunchID        string          `json:"launch_id"`
	PoolAddress     Address         `json:"pool_address"`
	PositionAddress Address         `json:"position_address"`
	Range           PriceRange      `json:"range"`
	LiquidityAmount decimal.Decimal `json:"liquidity_amount"`
	Status          PositionStatus  `json:"status"`
	FeesEarned      decimal.Decimal `json:"fees_earned"`
	APR             float64         `json:"apr"`
	RebalanceCount  int             `json:"rebalance_count"`
	LastRebalanceAt *time.Time      `json:"last_rebalance_at,omitempty"`
	AIManaged       bool            `json:"ai_managed"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BeginRebalance moves an active position into the rebalancing state.
// Price bounds may only be mutated while the position is rebalancing.
func (p *LiquidityPosition) BeginRebalance() error {
	if p.Status != PositionActive {
		return fmt.Errorf("position %s: cannot rebalance from status %s", p.ID, p.Status)
	}
	p.Status = PositionRebalancing
	return nil
}

// CompleteRebalance installs the new bounds and position address and returns
// the position to active. The transition back to active must carry a new
// bound pair; a rebalancing position never reverts to its stale bounds.
func (p *LiquidityPosition) CompleteRebalance(newAddr Address, newRange PriceRange, now time.Time) error {
	if p.Status != PositionRebalancing {
		return fmt.Errorf("position %s: complete rebalance from status %s", p.ID, p.Status)
	}
	if !newRange.Valid() {
		return fmt.Errorf("position %s: invalid rebalance range [%s, %s]", p.ID, newRange.Lower, newRange.Upper)
	}
	p.PositionAddress = newAddr
	p.Range = newRange
	p.RebalanceCount++
	p.LastRebalanceAt = &now
	p.Status = PositionActive
	return nil
}

// Close marks the position closed permanently. No resurrection.
func (p *LiquidityPosition) Close() error {
	if p.Status == PositionClosed {
		return fmt.Errorf("position %s: already closed", p.ID)
	}
	p.Status = PositionClosed
	return nil
}
