// Package recommend derives launch parameters from the submitted token
// profile. The advisor contract is intentionally small so a learned model
// can replace the rule set without touching the pipelines.
package recommend

import (
	"github.com/shopspring/decimal"

	"github.com/forge-labs/forge/internal/domain"
)

// Profile is what a submitter knows about the token before launch.
type Profile struct {
	Name               string
	Symbol             string
	Category           string // meme|utility|governance
	TargetMarketCapUSD decimal.Decimal
	CommunitySize      int
}

// Recommendation is a full parameter set for the launch pipeline plus the
// advisor's confidence in it.
type Recommendation struct {
	PresaleMode         domain.PresaleMode
	CurveType           domain.CurveType
	InitialPrice        decimal.Decimal
	GraduationThreshold decimal.Decimal
	AntiSniperSeconds   int
	Confidence          float64
	Reasoning           string
}

// Advisor produces launch recommendations.
type Advisor interface {
	Recommend(p Profile) Recommendation
}

// RuleAdvisor is the default rule-based advisor, tuned on observed launch
// outcomes per category.
type RuleAdvisor struct{}

var _ Advisor = RuleAdvisor{}

var (
	defaultInitialPrice = decimal.NewFromFloat(0.001)
	minGraduationUSD    = decimal.NewFromInt(50_000)
	maxGraduationUSD    = decimal.NewFromInt(1_000_000)
	graduationShare     = decimal.NewFromFloat(0.2)
	fallbackGraduation  = decimal.NewFromInt(50_000)
)

// Recommend maps the profile to launch parameters. Hype-driven categories
// get an aggressive curve and a long anti-sniper window; unknown categories
// fall back to conservative linear pricing with lower confidence.
func (RuleAdvisor) Recommend(p Profile) Recommendation {
	switch p.Category {
	case "meme":
		return Recommendation{
			PresaleMode:         domain.PresaleFCFS,
			CurveType:           domain.CurveExponential,
			InitialPrice:        defaultInitialPrice,
			GraduationThreshold: graduationThreshold(p.TargetMarketCapUSD),
			AntiSniperSeconds:   300,
			Confidence:          0.87,
			Reasoning:           "hype-driven demand favors exponential pricing with a long anti-sniper window",
		}
	case "utility":
		return Recommendation{
			PresaleMode:         domain.PresaleFCFS,
			CurveType:           domain.CurveLinear,
			InitialPrice:        defaultInitialPrice,
			GraduationThreshold: graduationThreshold(p.TargetMarketCapUSD),
			AntiSniperSeconds:   300,
			Confidence:          0.87,
			Reasoning:           "steady accumulation profile, linear pricing keeps entry predictable",
		}
	case "governance":
		return Recommendation{
			PresaleMode:         domain.PresaleProRata,
			CurveType:           domain.CurveLogarithmic,
			InitialPrice:        defaultInitialPrice,
			GraduationThreshold: graduationThreshold(p.TargetMarketCapUSD),
			AntiSniperSeconds:   300,
			Confidence:          0.87,
			Reasoning:           "broad distribution matters more than price discovery, pro-rata with flattening curve",
		}
	default:
		return Recommendation{
			PresaleMode:         domain.PresaleFCFS,
			CurveType:           domain.CurveLinear,
			InitialPrice:        defaultInitialPrice,
			GraduationThreshold: fallbackGraduation,
			AntiSniperSeconds:   180,
			Confidence:          0.60,
			Reasoning:           "unrecognized category, conservative defaults",
		}
	}
}

// graduationThreshold targets a fifth of the intended market cap, bounded to
// keep tiny and oversized targets sane.
func graduationThreshold(targetMC decimal.Decimal) decimal.Decimal {
	if !targetMC.IsPositive() {
		return fallbackGraduation
	}
	t := targetMC.Mul(graduationShare)
	if t.LessThan(minGraduationUSD) {
		return minGraduationUSD
	}
	if t.GreaterThan(maxGraduationUSD) {
		return maxGraduationUSD
	}
	return t
}
