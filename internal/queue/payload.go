package queue

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/domain"
)

// Queue names. Each queue carries exactly the payload types declared for it
// below; Decode rejects anything else at enqueue time.
const (
	QueueLaunch    = "launch"
	QueueLiquidity = "liquidity"
	QueueRisk      = "risk"
)

// Job types.
const (
	TypeLaunchCreate       = "launch.create"
	TypeLiquidityAdd       = "liquidity.add"
	TypeLiquidityRebalance = "liquidity.rebalance"
	TypeLiquidityHarvest   = "liquidity.harvest"
	TypeLiquidityClose     = "liquidity.close"
	TypeRiskAssess         = "risk.assess"
)

// Payload is the closed set of job payloads. Every payload self-validates and
// names the entity whose jobs must never run concurrently.
type Payload interface {
	JobType() string
	Validate() error
	// EntityKey scopes mutual exclusion: two leased jobs never share a key.
	EntityKey() string
}

// --- launch queue ---------------------------------------------------------

// LaunchPayload drives the five-stage launch pipeline. LaunchID is always
// assigned before enqueue so retries and exclusion have a stable identity;
// the pipeline creates the row on first run and resumes it afterwards.
type LaunchPayload struct {
	LaunchID            string             `json:"launch_id"`
	Name                string             `json:"name"`
	Symbol              string             `json:"symbol"`
	Category            string             `json:"category"`
	TotalSupply         decimal.Decimal    `json:"total_supply"`
	TargetMarketCapUSD  decimal.Decimal    `json:"target_marketcap_usd"`
	PresaleMode         domain.PresaleMode `json:"presale_mode"`
	CurveType           domain.CurveType   `json:"curve_type"`
	InitialPrice        decimal.Decimal    `json:"initial_price"`
	GraduationThreshold decimal.Decimal    `json:"graduation_threshold"`
	AntiSniperSeconds   int                `json:"anti_sniper_seconds"`
}

func (p LaunchPayload) JobType() string { return TypeLaunchCreate }

func (p LaunchPayload) EntityKey() string { return "launch:" + p.LaunchID }

func (p LaunchPayload) Validate() error {
	if p.LaunchID == "" {
		return fmt.Errorf("launch_id is required")
	}
	if p.Name == "" || p.Symbol == "" {
		return fmt.Errorf("name and symbol are required")
	}
	switch p.Category {
	case "meme", "utility", "governance":
	default:
		return fmt.Errorf("unknown category %q", p.Category)
	}
	if !p.TotalSupply.IsPositive() {
		return fmt.Errorf("total_supply must be positive")
	}
	switch p.PresaleMode {
	case domain.PresaleFCFS, domain.PresaleProRata:
	default:
		return fmt.Errorf("unknown presale_mode %q", p.PresaleMode)
	}
	switch p.CurveType {
	case domain.CurveLinear, domain.CurveExponential, domain.CurveLogarithmic:
	default:
		return fmt.Errorf("unknown curve_type %q", p.CurveType)
	}
	if !p.InitialPrice.IsPositive() {
		return fmt.Errorf("initial_price must be positive")
	}
	if !p.GraduationThreshold.IsPositive() {
		return fmt.Errorf("graduation_threshold must be positive")
	}
	if p.AntiSniperSeconds < 0 {
		return fmt.Errorf("anti_sniper_seconds must not be negative")
	}
	return nil
}

// --- liquidity queue ------------------------------------------------------

// AddLiquidityPayload opens a new concentrated position on a pool.
type AddLiquidityPayload struct {
	LaunchID    string            `json:"launch_id"`
	PoolAddress domain.Address    `json:"pool_address"`
	Range       domain.PriceRange `json:"range"`
	AmountA     decimal.Decimal   `json:"amount_a"`
	AmountB     decimal.Decimal   `json:"amount_b"`
	AIManaged   bool              `json:"ai_managed"`
}

func (p AddLiquidityPayload) JobType() string { return TypeLiquidityAdd }

func (p AddLiquidityPayload) EntityKey() string { return "launch:" + p.LaunchID }

func (p AddLiquidityPayload) Validate() error {
	if p.LaunchID == "" {
		return fmt.Errorf("launch_id is required")
	}
	if !chain.ValidAddress(p.PoolAddress) {
		return fmt.Errorf("invalid pool_address %q", p.PoolAddress)
	}
	if !p.Range.Valid() {
		return fmt.Errorf("invalid price range [%s, %s]", p.Range.Lower, p.Range.Upper)
	}
	if !p.AmountA.IsPositive() || !p.AmountB.IsPositive() {
		return fmt.Errorf("token amounts must be positive")
	}
	return nil
}

// RebalancePayload moves an existing position to a new price range.
type RebalancePayload struct {
	PositionID string            `json:"position_id"`
	NewRange   domain.PriceRange `json:"new_range"`
}

func (p RebalancePayload) JobType() string { return TypeLiquidityRebalance }

func (p RebalancePayload) EntityKey() string { return "position:" + p.PositionID }

func (p RebalancePayload) Validate() error {
	if p.PositionID == "" {
		return fmt.Errorf("position_id is required")
	}
	if !p.NewRange.Valid() {
		return fmt.Errorf("invalid price range [%s, %s]", p.NewRange.Lower, p.NewRange.Upper)
	}
	return nil
}

// HarvestPayload claims accrued fees for a position.
type HarvestPayload struct {
	PositionID string `json:"position_id"`
	// EstimatedGas gates profitability: harvests below 2x gas are skipped.
	EstimatedGas decimal.Decimal `json:"estimated_gas"`
}

func (p HarvestPayload) JobType() string { return TypeLiquidityHarvest }

func (p HarvestPayload) EntityKey() string { return "position:" + p.PositionID }

func (p HarvestPayload) Validate() error {
	if p.PositionID == "" {
		return fmt.Errorf("position_id is required")
	}
	if p.EstimatedGas.IsNegative() {
		return fmt.Errorf("estimated_gas must not be negative")
	}
	return nil
}

// ClosePayload removes liquidity and retires a position permanently.
type ClosePayload struct {
	PositionID string `json:"position_id"`
}

func (p ClosePayload) JobType() string { return TypeLiquidityClose }

func (p ClosePayload) EntityKey() string { return "position:" + p.PositionID }

func (p ClosePayload) Validate() error {
	if p.PositionID == "" {
		return fmt.Errorf("position_id is required")
	}
	return nil
}

// --- risk queue -----------------------------------------------------------

// RiskPayload runs a risk assessment over a launch's token. Checks narrows
// the indicator set; empty means all.
type RiskPayload struct {
	LaunchID  string         `json:"launch_id"`
	TokenMint domain.Address `json:"token_mint"`
	Checks    []string       `json:"checks,omitempty"`
}

func (p RiskPayload) JobType() string { return TypeRiskAssess }

func (p RiskPayload) EntityKey() string { return "launch:" + p.LaunchID }

var riskChecks = map[string]bool{
	"rug_pull":             true,
	"liquidity":            true,
	"holder_concentration": true,
	"volatility":           true,
	"contract_safety":      true,
}

func (p RiskPayload) Validate() error {
	if p.LaunchID == "" {
		return fmt.Errorf("launch_id is required")
	}
	if !chain.ValidAddress(p.TokenMint) {
		return fmt.Errorf("invalid token_mint %q", p.TokenMint)
	}
	for _, c := range p.Checks {
		if !riskChecks[c] {
			return fmt.Errorf("unknown check %q", c)
		}
	}
	return nil
}

// --- decoding -------------------------------------------------------------

// payloadFor returns an empty payload value for a queue/type pair.
func payloadFor(queueName, jobType string) (Payload, error) {
	switch queueName {
	case QueueLaunch:
		if jobType == TypeLaunchCreate {
			return &LaunchPayload{}, nil
		}
	case QueueLiquidity:
		switch jobType {
		case TypeLiquidityAdd:
			return &AddLiquidityPayload{}, nil
		case TypeLiquidityRebalance:
			return &RebalancePayload{}, nil
		case TypeLiquidityHarvest:
			return &HarvestPayload{}, nil
		case TypeLiquidityClose:
			return &ClosePayload{}, nil
		}
	case QueueRisk:
		if jobType == TypeRiskAssess {
			return &RiskPayload{}, nil
		}
	}
	return nil, fmt.Errorf("queue %q does not accept job type %q", queueName, jobType)
}

// DecodePayload rebuilds a typed payload from its persisted form. Used when
// recovering journaled jobs after a restart.
func DecodePayload(queueName, jobType string, raw []byte) (Payload, error) {
	p, err := payloadFor(queueName, jobType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	return derefPayload(p), nil
}

// derefPayload returns the value form so payloads stay immutable once queued.
func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *LaunchPayload:
		return *v
	case *AddLiquidityPayload:
		return *v
	case *RebalancePayload:
		return *v
	case *HarvestPayload:
		return *v
	case *ClosePayload:
		return *v
	case *RiskPayload:
		return *v
	default:
		return p
	}
}
