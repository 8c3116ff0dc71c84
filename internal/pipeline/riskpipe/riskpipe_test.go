package riskpipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/pipeline/fault"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/riskscore"
	"github.com/forge-labs/forge/internal/store"
	"github.com/forge-labs/forge/internal/store/memory"
)

type harness struct {
	stores store.Stores
	exec   *chain.StubClient
	hub    *events.Hub
	pipe   *Pipeline
	mint   domain.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stores := memory.New().Stores()
	exec := chain.NewStubClient()
	hub := events.NewHub(64, zerolog.Nop())
	engine := riskscore.New(riskscore.DefaultWeights())
	h := &harness{
		stores: stores,
		exec:   exec,
		hub:    hub,
		pipe:   New(stores, exec, engine, hub, zerolog.Nop()),
		mint:   chain.DeriveMint("l1"),
	}

	l := &domain.Launch{
		ID: "l1", TokenMint: h.mint, Name: "Tok", Symbol: "TOK",
		Category: "utility", TotalSupply: decimal.NewFromInt(1_000_000),
		Status: domain.LaunchActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, stores.Launches.Insert(context.Background(), l))
	return h
}

func (h *harness) handle(t *testing.T, payload queue.RiskPayload) (*Result, error) {
	t.Helper()
	job := &queue.Job{ID: "job-1", Queue: queue.QueueRisk, Type: payload.JobType(), Payload: payload}
	out, err := h.pipe.Handle(context.Background(), job)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*Result)
	require.True(t, ok)
	return res, nil
}

func (h *harness) launch(t *testing.T) *domain.Launch {
	t.Helper()
	l, err := h.stores.Launches.Get(context.Background(), "l1")
	require.NoError(t, err)
	return l
}

func (h *harness) alerts(t *testing.T) []*domain.RiskAlert {
	t.Helper()
	alerts, err := h.stores.Alerts.ListByLaunch(context.Background(), "l1")
	require.NoError(t, err)
	return alerts
}

// benignIndicators scores LOW across the board.
func benignIndicators() chain.Indicators {
	return chain.Indicators{
		Holders:            []chain.Holder{{Address: "a", Pct: 5}, {Address: "b", Pct: 4}, {Address: "c", Pct: 3}},
		LiquidityLocked:    true,
		PooledValueUSD:     decimal.NewFromInt(200_000),
		PriceSamples:       samples(1.0, 1.0, 1.0, 1.0, 1.0),
		TokenAccountExists: true,
	}
}

// riskyIndicators pins every dimension: rug 4 (locked but 55% whale),
// liquidity 8 (5k pooled), holders 9 (85% in top 3), volatility 8,
// contract 2. Weighted composite is exactly 6.5, a HIGH rating.
func riskyIndicators() chain.Indicators {
	return chain.Indicators{
		Holders:            []chain.Holder{{Address: "a", Pct: 55}, {Address: "b", Pct: 20}, {Address: "c", Pct: 10}},
		LiquidityLocked:    true,
		PooledValueUSD:     decimal.NewFromInt(5_000),
		PriceSamples:       samples(1.0, 2.0, 0.5, 2.0, 0.5),
		TokenAccountExists: true,
	}
}

func samples(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func alertTypes(alerts []*domain.RiskAlert) []domain.AlertType {
	types := make([]domain.AlertType, len(alerts))
	for i, a := range alerts {
		types[i] = a.Type
	}
	return types
}

func TestBenignAssessmentPersistsWithoutAlerts(t *testing.T) {
	h := newHarness(t)
	h.exec.SetIndicators(h.mint, benignIndicators())

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.InDelta(t, 0.7, res.Score, 0.001)
	assert.Equal(t, domain.RiskLow, res.Level)
	assert.Zero(t, res.AlertsRaised)

	l := h.launch(t)
	assert.InDelta(t, 0.7, l.RiskScore, 0.001)
	assert.Equal(t, domain.RiskLow, l.RiskLevel)
	assert.Empty(t, h.alerts(t))
}

func TestHighRiskRaisesAlertsAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.exec.SetIndicators(h.mint, riskyIndicators())
	sub := h.hub.Subscribe(events.TokenTopic(h.mint))
	defer sub.Close()

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.InDelta(t, 6.5, res.Score, 0.001)
	assert.Equal(t, domain.RiskHigh, res.Level)
	assert.Equal(t, 3, res.AlertsRaised)

	alerts := h.alerts(t)
	require.Len(t, alerts, 3)
	assert.ElementsMatch(t,
		[]domain.AlertType{domain.AlertLiquidity, domain.AlertSuspiciousActivity, domain.AlertHighRisk},
		alertTypes(alerts))
	for _, a := range alerts {
		switch a.Type {
		case domain.AlertLiquidity:
			assert.Equal(t, domain.SeverityCritical, a.Severity)
			assert.Equal(t, 0.90, a.Confidence)
		case domain.AlertSuspiciousActivity:
			assert.Equal(t, domain.SeverityCritical, a.Severity)
			assert.Equal(t, 0.80, a.Confidence)
		case domain.AlertHighRisk:
			assert.Equal(t, domain.SeverityHigh, a.Severity)
			assert.Equal(t, 0.92, a.Confidence)
		}
		assert.Equal(t, h.mint, a.TokenMint)
		assert.NotEmpty(t, a.Indicators)
	}

	assert.Len(t, sub.C, 3)
	ev := <-sub.C
	raised, ok := ev.(events.RiskAlertRaised)
	require.True(t, ok)
	assert.Equal(t, "l1", raised.LaunchID)
}

func TestMediumRiskNotBroadcast(t *testing.T) {
	h := newHarness(t)
	// No indicator fixture: the token account does not resolve, which
	// scores suspicious but not HIGH.
	sub := h.hub.Subscribe(events.TokenTopic(h.mint))
	defer sub.Close()

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskMedium, res.Level)
	require.Len(t, h.alerts(t), 1)
	assert.Equal(t, domain.AlertLiquidity, h.alerts(t)[0].Type)
	assert.Empty(t, sub.C)
}

func TestRugProbeDetectsSellOff(t *testing.T) {
	h := newHarness(t)
	ind := benignIndicators()
	ind.PriceSamples = samples(1.0, 0.95, 0.9, 0.8, 0.7)
	ind.VolumeSpike = true
	h.exec.SetIndicators(h.mint, ind)

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskLow, res.Level)
	alerts := h.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertRugPull, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 0.85, alerts[0].Confidence)
	assert.Contains(t, alerts[0].Message, "30.0%")
}

func TestRugProbeNeedsVolumeSpike(t *testing.T) {
	h := newHarness(t)
	ind := benignIndicators()
	ind.PriceSamples = samples(1.0, 0.95, 0.9, 0.8, 0.7)
	h.exec.SetIndicators(h.mint, ind)

	_, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)
	assert.Empty(t, h.alerts(t))
}

func TestChecksNarrowIndicatorAlerts(t *testing.T) {
	h := newHarness(t)
	h.exec.SetIndicators(h.mint, riskyIndicators())

	res, err := h.handle(t, queue.RiskPayload{
		LaunchID:  "l1",
		TokenMint: h.mint,
		Checks:    []string{"rug_pull"},
	})
	require.NoError(t, err)

	// The composite is still computed and persisted in full; only the
	// per-dimension alerts are narrowed. The overall HIGH finding is not
	// a check and always fires.
	assert.InDelta(t, 6.5, res.Score, 0.001)
	alerts := h.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertHighRisk, alerts[0].Type)
}

func TestGraduationAtThreshold(t *testing.T) {
	h := newHarness(t)
	l := h.launch(t)
	l.GraduationThreshold = decimal.NewFromInt(100_000)
	require.NoError(t, h.stores.Launches.Update(context.Background(), l))
	h.exec.SetIndicators(h.mint, benignIndicators()) // 200k pooled

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.True(t, res.Graduated)
	assert.Equal(t, domain.LaunchGraduated, h.launch(t).Status)
}

func TestNoGraduationBelowThreshold(t *testing.T) {
	h := newHarness(t)
	l := h.launch(t)
	l.GraduationThreshold = decimal.NewFromInt(500_000)
	require.NoError(t, h.stores.Launches.Update(context.Background(), l))
	h.exec.SetIndicators(h.mint, benignIndicators())

	res, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	assert.False(t, res.Graduated)
	assert.Equal(t, domain.LaunchActive, h.launch(t).Status)
}

func TestUnknownLaunchIsValidationFault(t *testing.T) {
	h := newHarness(t)
	_, err := h.handle(t, queue.RiskPayload{LaunchID: "ghost", TokenMint: h.mint})
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func TestIndicatorReadFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.exec.FailNext("read_indicators", errors.New("rpc timeout"), 1)

	_, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.Error(t, err)
	assert.True(t, fault.Retryable(err))

	entries, lerr := h.stores.Activity.ListByJob(context.Background(), "job-1")
	require.NoError(t, lerr)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestAssessmentActivityLogged(t *testing.T) {
	h := newHarness(t)
	h.exec.SetIndicators(h.mint, benignIndicators())

	_, err := h.handle(t, queue.RiskPayload{LaunchID: "l1", TokenMint: h.mint})
	require.NoError(t, err)

	entries, lerr := h.stores.Activity.ListByLaunch(context.Background(), "l1")
	require.NoError(t, lerr)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "risk_assess", entries[0].Action)
	assert.Contains(t, entries[0].Detail, "score")
}
