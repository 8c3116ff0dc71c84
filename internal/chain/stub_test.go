package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClient_DeterministicAddresses(t *testing.T) {
	s := NewStubClient()
	ctx := context.Background()

	cfg := VaultConfig{LaunchID: "l-1", TokenMint: "Mint111", Mode: domain.PresaleFCFS}
	r1, err := s.CreatePresaleVault(ctx, cfg)
	require.NoError(t, err)
	r2, err := s.CreatePresaleVault(ctx, cfg)
	require.NoError(t, err)

	// Same inputs, same address: retries must be idempotent upstream.
	assert.Equal(t, r1.Address, r2.Address)
	assert.True(t, ValidAddress(r1.Address))
	assert.Equal(t, 2, s.Calls("create_vault"))
}

func TestStubClient_FailureInjection(t *testing.T) {
	s := NewStubClient()
	ctx := context.Background()
	boom := errors.New("rpc timeout")
	s.FailNext("create_vault", boom, 2)

	_, err := s.CreatePresaleVault(ctx, VaultConfig{LaunchID: "l-1"})
	assert.ErrorIs(t, err, boom)
	_, err = s.CreatePresaleVault(ctx, VaultConfig{LaunchID: "l-1"})
	assert.ErrorIs(t, err, boom)

	// Third attempt succeeds.
	_, err = s.CreatePresaleVault(ctx, VaultConfig{LaunchID: "l-1"})
	assert.NoError(t, err)
}

func TestStubClient_CurveRequiresFeeSchedule(t *testing.T) {
	s := NewStubClient()
	_, err := s.DeployBondingCurve(context.Background(), CurveConfig{LaunchID: "l-1", TokenMint: "Mint111"})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
}

func TestStubClient_HarvestDrainsOnce(t *testing.T) {
	s := NewStubClient()
	ctx := context.Background()
	s.SetHarvestAmount("Pos111", decimal.NewFromInt(500))

	r, err := s.HarvestFees(ctx, "Pos111")
	require.NoError(t, err)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(500)))

	r, err = s.HarvestFees(ctx, "Pos111")
	require.NoError(t, err)
	assert.True(t, r.Amount.IsZero())
}

func TestStubClient_UnknownTokenDoesNotResolve(t *testing.T) {
	s := NewStubClient()
	ind, err := s.ReadIndicators(context.Background(), "Unknown111")
	require.NoError(t, err)
	assert.False(t, ind.TokenAccountExists)
}

func TestIndicators_HolderShares(t *testing.T) {
	ind := Indicators{Holders: []Holder{{Pct: 55}, {Pct: 20}, {Pct: 10}, {Pct: 5}}}
	assert.Equal(t, 55.0, ind.TopHolderPct())
	assert.Equal(t, 85.0, ind.Top3HolderPct())

	assert.Equal(t, 0.0, Indicators{}.TopHolderPct())
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(ErrInsufficientFunds))
	assert.True(t, IsTerminal(ErrInvalidState))
	assert.False(t, IsTerminal(errors.New("timeout")))
}
