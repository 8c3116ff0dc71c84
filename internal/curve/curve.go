// Package curve holds the pure price bucketing math used by the launch and
// liquidity pipelines. No state, no I/O.
package curve

import (
	"fmt"
	"math"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/shopspring/decimal"
)

// Discrete price buckets are clamped to the valid concentrated liquidity
// range. One bucket id step is a (1 + granularity) price multiple.
const (
	MinBucketID = -887272
	MaxBucketID = 887272
)

// GranularityForCurveType maps a curve type to its fractional price step.
// Granularities are in basis points: LINEAR 25bp, EXPONENTIAL 50bp,
// LOGARITHMIC 100bp.
func GranularityForCurveType(t domain.CurveType) (float64, error) {
	switch t {
	case domain.CurveLinear:
		return 0.0025, nil
	case domain.CurveExponential:
		return 0.0050, nil
	case domain.CurveLogarithmic:
		return 0.0100, nil
	default:
		return 0, fmt.Errorf("unknown curve type %q", t)
	}
}

// PriceToBucketID maps a price to its discrete bucket id:
// floor(ln(price) / ln(1 + granularity)), clamped to the valid range.
func PriceToBucketID(price decimal.Decimal, granularity float64) (int, error) {
	p, _ := price.Float64()
	if p <= 0 {
		return 0, fmt.Errorf("price must be positive, got %s", price)
	}
	if granularity <= 0 {
		return 0, fmt.Errorf("granularity must be positive, got %f", granularity)
	}
	id := int(math.Floor(math.Log(p) / math.Log(1+granularity)))
	if id < MinBucketID {
		id = MinBucketID
	}
	if id > MaxBucketID {
		id = MaxBucketID
	}
	return id, nil
}

// BucketIDForLaunch resolves the starting bucket id for a launch's initial
// price under its curve type.
func BucketIDForLaunch(curveType domain.CurveType, initialPrice decimal.Decimal) (int, error) {
	g, err := GranularityForCurveType(curveType)
	if err != nil {
		return 0, err
	}
	return PriceToBucketID(initialPrice, g)
}
