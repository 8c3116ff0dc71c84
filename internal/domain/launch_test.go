package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchTransitions_ForwardOnly(t *testing.T) {
	l := &Launch{ID: "l-1", Status: LaunchPending}

	require.NoError(t, l.TransitionTo(LaunchActive))
	assert.Equal(t, LaunchActive, l.Status)

	// No going back.
	assert.Error(t, l.TransitionTo(LaunchActive))

	require.NoError(t, l.TransitionTo(LaunchGraduated))
	assert.True(t, l.Status.IsTerminal())

	// Terminal states reject everything, including failed.
	assert.Error(t, l.TransitionTo(LaunchFailed))
}

func TestLaunchTransitions_FailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []LaunchStatus{LaunchPending, LaunchActive} {
		l := &Launch{ID: "l-2", Status: from}
		require.NoError(t, l.TransitionTo(LaunchFailed))
		assert.True(t, l.Status.IsTerminal())
		assert.Error(t, l.TransitionTo(LaunchActive))
	}
}

func TestLaunchAddresses_WriteOnce(t *testing.T) {
	l := &Launch{ID: "l-3", Status: LaunchPending}

	require.NoError(t, l.SetVaultAddress("Vault111"))
	// Idempotent re-set with the same value is fine (retry path).
	require.NoError(t, l.SetVaultAddress("Vault111"))
	// Overwrite with a different value is not.
	assert.Error(t, l.SetVaultAddress("Vault222"))

	require.NoError(t, l.SetCurveAddress("Curve111"))
	assert.Error(t, l.SetCurveAddress("Curve222"))
}

func TestPositionRebalanceLifecycle(t *testing.T) {
	p := &LiquidityPosition{
		ID:     "p-1",
		Status: PositionActive,
		Range:  PriceRange{Lower: decimal.NewFromFloat(0.9), Upper: decimal.NewFromFloat(1.1)},
	}

	require.NoError(t, p.BeginRebalance())
	assert.Equal(t, PositionRebalancing, p.Status)

	// Back to active requires a valid new bound pair.
	bad := PriceRange{Lower: decimal.NewFromFloat(1.2), Upper: decimal.NewFromFloat(1.1)}
	assert.Error(t, p.CompleteRebalance("Pos222", bad, time.Now()))
	assert.Equal(t, PositionRebalancing, p.Status)

	now := time.Now()
	newRange := PriceRange{Lower: decimal.NewFromFloat(0.95), Upper: decimal.NewFromFloat(1.05)}
	require.NoError(t, p.CompleteRebalance("Pos222", newRange, now))
	assert.Equal(t, PositionActive, p.Status)
	assert.Equal(t, 1, p.RebalanceCount)
	assert.Equal(t, newRange, p.Range)
	require.NotNil(t, p.LastRebalanceAt)
}

func TestPositionClose_NoResurrection(t *testing.T) {
	p := &LiquidityPosition{ID: "p-2", Status: PositionActive}
	require.NoError(t, p.Close())
	assert.Error(t, p.Close())
	assert.Error(t, p.BeginRebalance())
}

func TestPositionRebalance_OnlyFromActive(t *testing.T) {
	p := &LiquidityPosition{ID: "p-3", Status: PositionRebalancing}
	assert.Error(t, p.BeginRebalance())
}
