package chain

import (
	"context"
	"errors"
	"time"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Chain Execution Service contract
// ---------------------------------------------------------------------------

// Terminal execution errors. Retrying these cannot succeed; everything else
// returned by an Executor is treated as transient by the pipelines.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid on-chain state")
)

// IsTerminal reports whether err is a non-retryable execution failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInvalidState)
}

// VaultConfig describes a presale vault to create.
type VaultConfig struct {
	LaunchID            string
	TokenMint           domain.Address
	Mode                domain.PresaleMode
	DepositLimit        decimal.Decimal
	VestingImmediatePct int
	VestingGradualPct   int
	DurationSeconds     int
}

// FeeTier is one step of the decaying anti-sniper fee schedule.
type FeeTier struct {
	StartOffsetSeconds int
	FeeBps             int
}

// CurveConfig describes a bonding curve deployment. The fee schedule is part
// of the deployment itself; it cannot be applied after the fact.
type CurveConfig struct {
	LaunchID            string
	TokenMint           domain.Address
	BucketGranularity   float64
	InitialBucketID     int
	GraduationThreshold decimal.Decimal
	FeeSchedule         []FeeTier
}

// TxReceipt identifies a confirmed transaction.
type TxReceipt struct {
	Signature   domain.Signature `json:"signature"`
	Slot        uint64           `json:"slot"`
	ConfirmedAt time.Time        `json:"confirmed_at"`
}

// VaultResult is the outcome of a presale vault creation.
type VaultResult struct {
	Address domain.Address `json:"address"`
	Receipt TxReceipt      `json:"receipt"`
}

// CurveResult is the outcome of a bonding curve deployment.
type CurveResult struct {
	Address domain.Address `json:"address"`
	Receipt TxReceipt      `json:"receipt"`
}

// PositionResult is the outcome of opening a liquidity position.
type PositionResult struct {
	PositionAddress domain.Address `json:"position_address"`
	Receipt         TxReceipt      `json:"receipt"`
}

// HarvestResult is the outcome of a fee harvest.
type HarvestResult struct {
	Amount  decimal.Decimal `json:"amount"`
	Receipt TxReceipt       `json:"receipt"`
}

// Holder is one entry of a token's holder distribution.
type Holder struct {
	Address domain.Address `json:"address"`
	Pct     float64        `json:"pct"` // % of total supply
}

// Indicators is the raw on-chain read used by the risk pipeline.
type Indicators struct {
	Holders            []Holder          `json:"holders"` // descending by Pct
	LiquidityLocked    bool              `json:"liquidity_locked"`
	PooledValueUSD     decimal.Decimal   `json:"pooled_value_usd"`
	PriceSamples       []decimal.Decimal `json:"price_samples"` // oldest first
	VolumeSpike        bool              `json:"volume_spike"`
	TokenAccountExists bool              `json:"token_account_exists"`
}

// TopHolderPct returns the largest holder's share of supply.
func (i Indicators) TopHolderPct() float64 {
	if len(i.Holders) == 0 {
		return 0
	}
	return i.Holders[0].Pct
}

// Top3HolderPct returns the combined share of the three largest holders.
func (i Indicators) Top3HolderPct() float64 {
	total := 0.0
	for n, h := range i.Holders {
		if n >= 3 {
			break
		}
		total += h.Pct
	}
	return total
}

// Executor performs on-chain operations for the pipelines. Implementations
// own their network timeout/retry semantics; any returned error is a stage
// failure. Implementations: StubClient (deterministic, for tests and dry
// runs) and whatever real signer-backed client the deployment wires in.
type Executor interface {
	// CreatePresaleVault creates the time-boxed deposit vault.
	CreatePresaleVault(ctx context.Context, cfg VaultConfig) (*VaultResult, error)

	// DeployBondingCurve deploys the curve pool with its fee schedule.
	DeployBondingCurve(ctx context.Context, cfg CurveConfig) (*CurveResult, error)

	// AddLiquidity opens a concentrated position on a pool.
	AddLiquidity(ctx context.Context, pool domain.Address, rng domain.PriceRange, amountA, amountB decimal.Decimal) (*PositionResult, error)

	// RemoveLiquidity closes a position.
	RemoveLiquidity(ctx context.Context, position domain.Address) (*TxReceipt, error)

	// HarvestFees claims accrued fees for a position.
	HarvestFees(ctx context.Context, position domain.Address) (*HarvestResult, error)

	// ReadIndicators fetches the on-chain indicator snapshot for a token.
	ReadIndicators(ctx context.Context, tokenMint domain.Address) (*Indicators, error)
}
