package riskscore

import (
	"math"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Risk Scoring Engine: weighted composite over noisy on-chain indicators
// ---------------------------------------------------------------------------

// Input is the on-chain indicator snapshot for one token.
type Input struct {
	LiquidityLocked    bool
	TopHolderPct       float64 // largest holder, % of supply
	Top3HolderPct      float64 // top-3 holders combined, % of supply
	PooledValueUSD     decimal.Decimal
	PriceSamples       []decimal.Decimal // oldest first
	TokenAccountExists bool
}

// Indicators are the per-dimension scores, each normalized to 0-10,
// higher = worse.
type Indicators struct {
	RugPull             float64 `json:"rug_pull_risk"`
	Liquidity           float64 `json:"liquidity_risk"`
	HolderConcentration float64 `json:"holder_concentration"`
	PriceVolatility     float64 `json:"price_volatility"`
	ContractSafety      float64 `json:"contract_safety"`
}

// Map returns the indicators as a snapshot map, suitable for alert records.
func (i Indicators) Map() map[string]float64 {
	return map[string]float64{
		"rug_pull_risk":        i.RugPull,
		"liquidity_risk":       i.Liquidity,
		"holder_concentration": i.HolderConcentration,
		"price_volatility":     i.PriceVolatility,
		"contract_safety":      i.ContractSafety,
	}
}

// Weights are the composite weights per indicator. They must sum to 1.
type Weights struct {
	RugPull             float64 `yaml:"rug_pull"`
	Liquidity           float64 `yaml:"liquidity"`
	HolderConcentration float64 `yaml:"holder_concentration"`
	Volatility          float64 `yaml:"volatility"`
	ContractSafety      float64 `yaml:"contract_safety"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		RugPull:             0.35,
		Liquidity:           0.25,
		HolderConcentration: 0.20,
		Volatility:          0.15,
		ContractSafety:      0.05,
	}
}

// Assessment is the result of scoring one indicator snapshot.
type Assessment struct {
	Indicators Indicators       `json:"indicators"`
	Composite  float64          `json:"composite"`
	Level      domain.RiskLevel `json:"level"`
}

// Engine combines weighted on-chain indicators into a composite 0-10 score.
// Stateless; safe for concurrent use.
type Engine struct {
	weights Weights
}

// New creates a scoring engine with the given weights.
func New(w Weights) *Engine {
	return &Engine{weights: w}
}

// Score computes all indicators and the weighted composite for one snapshot.
func (e *Engine) Score(in Input) Assessment {
	ind := Indicators{
		RugPull:             rugPullRisk(in),
		Liquidity:           liquidityRisk(in.PooledValueUSD),
		HolderConcentration: holderConcentration(in.Top3HolderPct),
		PriceVolatility:     priceVolatility(in.PriceSamples),
		ContractSafety:      contractSafety(in.TokenAccountExists),
	}

	composite := ind.RugPull*e.weights.RugPull +
		ind.Liquidity*e.weights.Liquidity +
		ind.HolderConcentration*e.weights.HolderConcentration +
		ind.PriceVolatility*e.weights.Volatility +
		ind.ContractSafety*e.weights.ContractSafety
	composite = clamp(composite, 0, 10)

	return Assessment{
		Indicators: ind,
		Composite:  composite,
		Level:      LevelForScore(composite),
	}
}

// LevelForScore is the pure threshold mapping from composite score to level.
func LevelForScore(score float64) domain.RiskLevel {
	switch {
	case score >= 8:
		return domain.RiskCritical
	case score >= 6:
		return domain.RiskHigh
	case score >= 3:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// rugPullRisk: +3 if liquidity is unlocked; largest-holder tiers are
// mutually exclusive (+4 above 50%, +2 above 30%).
func rugPullRisk(in Input) float64 {
	score := 0.0
	if !in.LiquidityLocked {
		score += 3
	}
	switch {
	case in.TopHolderPct > 50:
		score += 4
	case in.TopHolderPct > 30:
		score += 2
	}
	return clamp(score, 0, 10)
}

// liquidityRisk is a step function of total pooled value in USD.
func liquidityRisk(pooledUSD decimal.Decimal) float64 {
	v, _ := pooledUSD.Float64()
	switch {
	case v < 10_000:
		return 8
	case v < 50_000:
		return 5
	case v < 100_000:
		return 3
	default:
		return 1
	}
}

// holderConcentration is a step function of the combined top-3 holder share.
func holderConcentration(top3Pct float64) float64 {
	switch {
	case top3Pct > 80:
		return 9
	case top3Pct > 60:
		return 6
	case top3Pct > 40:
		return 3
	default:
		return 1
	}
}

// priceVolatility is a step function of the standard deviation of
// period-over-period returns. Fewer than two samples scores neutral-low.
func priceVolatility(samples []decimal.Decimal) float64 {
	sd := ReturnsStdDev(samples)
	switch {
	case sd > 0.5:
		return 8
	case sd > 0.3:
		return 5
	case sd > 0.15:
		return 3
	default:
		return 1
	}
}

// contractSafety treats an unresolvable token account as suspicious,
// not benign.
func contractSafety(exists bool) float64 {
	if exists {
		return 2
	}
	return 8
}

// ReturnsStdDev computes the population standard deviation of
// period-over-period returns across the sample series.
func ReturnsStdDev(samples []decimal.Decimal) float64 {
	if len(samples) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, _ := samples[i-1].Float64()
		cur, _ := samples[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
