package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Address is a base58-encoded on-chain account address.
type Address string

// Signature is an on-chain transaction signature.
type Signature string

// PresaleMode selects the allocation rule for the presale vault.
type PresaleMode string

const (
	PresaleFCFS    PresaleMode = "FCFS"
	PresaleProRata PresaleMode = "PRO_RATA"
)

// CurveType selects the bonding curve shape.
type CurveType string

const (
	CurveLinear      CurveType = "LINEAR"
	CurveExponential CurveType = "EXPONENTIAL"
	CurveLogarithmic CurveType = "LOGARITHMIC"
)

// LaunchStatus is the lifecycle state of a launch.
// Transitions are monotonic: pending -> active -> graduated. failed is
// reachable from any non-terminal state and is terminal.
type LaunchStatus string

const (
	LaunchPending   LaunchStatus = "pending"
	LaunchActive    LaunchStatus = "active"
	LaunchGraduated LaunchStatus = "graduated"
	LaunchFailed    LaunchStatus = "failed"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s LaunchStatus) IsTerminal() bool {
	return s == LaunchGraduated || s == LaunchFailed
}

// RiskLevel is the discretized risk classification of a launch.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Launch represents one token's journey from launch request to graduation.
// Name/symbol/category/supply and the token mint are immutable once set;
// vault and curve addresses are set exactly once by the launch pipeline.
type Launch struct {
	ID          string          `json:"id"`
	TokenMint   Address         `json:"token_mint"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Category    string          `json:"category"` // meme|utility|governance
	TotalSupply decimal.Decimal `json:"total_supply"`

	TargetMarketCapUSD  decimal.Decimal `json:"target_marketcap_usd"`
	PresaleMode         PresaleMode     `json:"presale_mode"`
	CurveType           CurveType       `json:"curve_type"`
	InitialPrice        decimal.Decimal `json:"initial_price"`
	GraduationThreshold decimal.Decimal `json:"graduation_threshold"`
	AntiSniperSeconds   int             `json:"anti_sniper_seconds"`

	Status       LaunchStatus `json:"status"`
	RiskScore    float64      `json:"risk_score"`
	RiskLevel    RiskLevel    `json:"risk_level"`
	VaultAddress Address      `json:"vault_address,omitempty"`
	CurveAddress Address      `json:"curve_address,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	LaunchedAt *time.Time `json:"launched_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastError  string     `json:"last_error,omitempty"`
}

// launchRank orders the forward path of the status machine.
var launchRank = map[LaunchStatus]int{
	LaunchPending:   0,
	LaunchActive:    1,
	LaunchGraduated: 2,
}

// TransitionTo validates and applies a status transition.
// Forward moves on pending -> active -> graduated are allowed; failed is
// allowed from any non-terminal state. Everything else is rejected.
func (l *Launch) TransitionTo(next LaunchStatus) error {
	if l.Status.IsTerminal() {
		return fmt.Errorf("launch %s: status %s is terminal, cannot transition to %s", l.ID, l.Status, next)
	}
	if next == LaunchFailed {
		l.Status = LaunchFailed
		return nil
	}
	cur, curOK := launchRank[l.Status]
	nxt, nxtOK := launchRank[next]
	if !curOK || !nxtOK || nxt <= cur {
		return fmt.Errorf("launch %s: invalid transition %s -> %s", l.ID, l.Status, next)
	}
	l.Status = next
	return nil
}

// SetVaultAddress records the presale vault address. The address is written
// exactly once; a second write with a different value is an invariant breach.
func (l *Launch) SetVaultAddress(addr Address) error {
	if l.VaultAddress != "" && l.VaultAddress != addr {
		return fmt.Errorf("launch %s: vault address already set to %s", l.ID, l.VaultAddress)
	}
	l.VaultAddress = addr
	return nil
}

// SetCurveAddress records the bonding curve pool address, write-once.
func (l *Launch) SetCurveAddress(addr Address) error {
	if l.CurveAddress != "" && l.CurveAddress != addr {
		return fmt.Errorf("launch %s: curve address already set to %s", l.ID, l.CurveAddress)
	}
	l.CurveAddress = addr
	return nil
}
