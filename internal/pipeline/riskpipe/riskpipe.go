// Package riskpipe is the worker logic of the risk queue. One assessment job
// reads the on-chain indicator snapshot for a launch's token, scores it,
// persists the composite on the launch record, and raises alerts for the
// dimensions that cross their thresholds. Low-severity results are persisted
// but never broadcast.
package riskpipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/observability"
	"github.com/forge-labs/forge/internal/pipeline/fault"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/riskscore"
	"github.com/forge-labs/forge/internal/store"
)

// Per-dimension alert thresholds on the 0-10 indicator scale.
const (
	rugPullAlertScore   = 6.0
	liquidityAlertScore = 6.0
	holderAlertScore    = 7.0
)

// Rug probe parameters: a sell-off is a >20% drop across the most recent
// price samples, and it only counts as a rug pattern together with a volume
// spike. Fewer than five samples is too little history to call.
const (
	rugProbeMinSamples = 5
	rugProbeWindow     = 10
	rugProbeDropPct    = 20.0
)

// Detection confidences, fixed per finding type.
const (
	confRugPull    = 0.85
	confLiquidity  = 0.90
	confSuspicious = 0.80
	confHighRisk   = 0.92
)

// Result is what a completed risk job acks with.
type Result struct {
	LaunchID     string           `json:"launch_id"`
	TokenMint    domain.Address   `json:"token_mint"`
	Score        float64          `json:"score"`
	Level        domain.RiskLevel `json:"level"`
	AlertsRaised int              `json:"alerts_raised"`
	Graduated    bool             `json:"graduated,omitempty"`
}

// Pipeline executes risk assessment jobs.
type Pipeline struct {
	stores store.Stores
	exec   chain.Executor
	engine *riskscore.Engine
	pub    events.Publisher
	log    zerolog.Logger
	now    func() time.Time

	metrics *observability.Registry
}

// WithMetrics attaches the shared metrics registry. Optional.
func (p *Pipeline) WithMetrics(r *observability.Registry) *Pipeline {
	p.metrics = r
	return p
}

// New creates the risk pipeline.
func New(stores store.Stores, exec chain.Executor, engine *riskscore.Engine, pub events.Publisher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		stores: stores,
		exec:   exec,
		engine: engine,
		pub:    pub,
		log:    logger.With().Str("pipeline", "risk").Logger(),
		now:    time.Now,
	}
}

// Handle runs one assessment.
func (p *Pipeline) Handle(ctx context.Context, job *queue.Job) (any, error) {
	payload, ok := job.Payload.(queue.RiskPayload)
	if !ok {
		return nil, fault.Invariantf("risk job %s carries %T payload", job.ID, job.Payload)
	}

	start := p.now()
	res, err := p.assess(ctx, payload)
	took := p.now().Sub(start)

	if err != nil {
		classified := classify(err)
		p.appendActivity(ctx, job, payload.LaunchID, false, "", classified, took)
		p.log.Warn().Str("job_id", job.ID).Str("launch_id", payload.LaunchID).Err(err).Msg("risk assessment failed")
		return nil, classified
	}

	detail := fmt.Sprintf("score %.2f %s, %d alerts", res.Score, res.Level, res.AlertsRaised)
	if res.Graduated {
		detail += ", graduated"
	}
	p.appendActivity(ctx, job, payload.LaunchID, true, detail, nil, took)
	return res, nil
}

func (p *Pipeline) assess(ctx context.Context, payload queue.RiskPayload) (*Result, error) {
	l, err := p.stores.Launches.Get(ctx, payload.LaunchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.Validationf("launch %s does not exist", payload.LaunchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load launch %s: %w", payload.LaunchID, err)
	}

	ind, err := p.exec.ReadIndicators(ctx, payload.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("read indicators for %s: %w", payload.TokenMint, err)
	}

	assessment := p.engine.Score(riskscore.Input{
		LiquidityLocked:    ind.LiquidityLocked,
		TopHolderPct:       ind.TopHolderPct(),
		Top3HolderPct:      ind.Top3HolderPct(),
		PooledValueUSD:     ind.PooledValueUSD,
		PriceSamples:       ind.PriceSamples,
		TokenAccountExists: ind.TokenAccountExists,
	})

	l.RiskScore = assessment.Composite
	l.RiskLevel = assessment.Level
	l.UpdatedAt = p.now()

	graduated := p.maybeGraduate(l, ind)

	if err := p.stores.Launches.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("persist assessment for %s: %w", l.ID, err)
	}

	alerts := p.findings(l, payload, assessment, ind)
	for _, a := range alerts {
		if err := p.stores.Alerts.Insert(ctx, a); err != nil {
			return nil, fmt.Errorf("insert %s alert for %s: %w", a.Type, l.ID, err)
		}
	}
	if p.metrics != nil {
		if len(alerts) > 0 {
			p.metrics.GetCounter("forge_risk_alerts_total").Add(float64(len(alerts)))
		}
		if graduated {
			p.metrics.GetCounter("forge_launches_graduated_total").Inc()
		}
	}

	// Only assessments that land HIGH or CRITICAL reach subscribers; a 2.3
	// on a fresh launch is a row in the alert table, not a broadcast.
	if assessment.Level == domain.RiskHigh || assessment.Level == domain.RiskCritical {
		for _, a := range alerts {
			p.pub.Publish(events.NewRiskAlertRaised(a))
		}
	}

	p.log.Info().
		Str("launch_id", l.ID).
		Float64("score", assessment.Composite).
		Str("level", string(assessment.Level)).
		Int("alerts", len(alerts)).
		Msg("risk assessment complete")

	return &Result{
		LaunchID:     l.ID,
		TokenMint:    payload.TokenMint,
		Score:        assessment.Composite,
		Level:        assessment.Level,
		AlertsRaised: len(alerts),
		Graduated:    graduated,
	}, nil
}

// maybeGraduate flips an active launch to graduated once the pooled value
// reaches its graduation threshold. The caller persists the launch.
func (p *Pipeline) maybeGraduate(l *domain.Launch, ind *chain.Indicators) bool {
	if l.Status != domain.LaunchActive || !l.GraduationThreshold.IsPositive() {
		return false
	}
	if ind.PooledValueUSD.LessThan(l.GraduationThreshold) {
		return false
	}
	if err := l.TransitionTo(domain.LaunchGraduated); err != nil {
		return false
	}
	p.log.Info().
		Str("launch_id", l.ID).
		Str("pooled_usd", ind.PooledValueUSD.String()).
		Str("threshold", l.GraduationThreshold.String()).
		Msg("launch graduated")
	return true
}

// findings builds the alert rows this assessment raises. Payload checks
// narrow which dimensions may alert; the composite score is always computed
// and persisted in full regardless.
func (p *Pipeline) findings(l *domain.Launch, payload queue.RiskPayload, assessment riskscore.Assessment, ind *chain.Indicators) []*domain.RiskAlert {
	wants := checkSet(payload.Checks)
	snapshot := assessment.Indicators.Map()
	var alerts []*domain.RiskAlert

	add := func(typ domain.AlertType, sev domain.AlertSeverity, conf float64, msg string) {
		alerts = append(alerts, &domain.RiskAlert{
			ID:         uuid.NewString(),
			LaunchID:   l.ID,
			TokenMint:  payload.TokenMint,
			Type:       typ,
			Severity:   sev,
			Message:    msg,
			Indicators: snapshot,
			Confidence: conf,
			CreatedAt:  p.now(),
		})
	}

	if wants("rug_pull") {
		if assessment.Indicators.RugPull >= rugPullAlertScore {
			add(domain.AlertRugPull, severityForScore(assessment.Indicators.RugPull), confRugPull,
				fmt.Sprintf("rug pull risk %.1f: unlocked liquidity or dominant holder", assessment.Indicators.RugPull))
		}
		if drop, hit := rugProbe(ind); hit {
			add(domain.AlertRugPull, domain.SeverityCritical, confRugPull,
				fmt.Sprintf("rug pull pattern: %.1f%% price drop with volume spike", drop))
		}
	}
	if wants("liquidity") && assessment.Indicators.Liquidity >= liquidityAlertScore {
		add(domain.AlertLiquidity, severityForScore(assessment.Indicators.Liquidity), confLiquidity,
			fmt.Sprintf("thin liquidity: %s USD pooled", ind.PooledValueUSD.StringFixed(0)))
	}
	if wants("holder_concentration") && assessment.Indicators.HolderConcentration >= holderAlertScore {
		add(domain.AlertSuspiciousActivity, severityForScore(assessment.Indicators.HolderConcentration), confSuspicious,
			fmt.Sprintf("holder concentration %.1f: top 3 hold %.1f%% of supply", assessment.Indicators.HolderConcentration, ind.Top3HolderPct()))
	}
	if assessment.Level == domain.RiskHigh || assessment.Level == domain.RiskCritical {
		sev := domain.SeverityHigh
		if assessment.Level == domain.RiskCritical {
			sev = domain.SeverityCritical
		}
		add(domain.AlertHighRisk, sev, confHighRisk,
			fmt.Sprintf("composite risk %.2f rated %s", assessment.Composite, assessment.Level))
	}
	return alerts
}

// rugProbe inspects the recent price samples for the classic rug shape:
// a sharp fall from the start of the window to now, preceded by a volume
// spike. Returns the drop percentage and whether the pattern matched.
func rugProbe(ind *chain.Indicators) (float64, bool) {
	samples := ind.PriceSamples
	if len(samples) < rugProbeMinSamples {
		return 0, false
	}
	if len(samples) > rugProbeWindow {
		samples = samples[len(samples)-rugProbeWindow:]
	}
	first, _ := samples[0].Float64()
	last, _ := samples[len(samples)-1].Float64()
	if first <= 0 {
		return 0, false
	}
	drop := (first - last) / first * 100
	return drop, drop > rugProbeDropPct && ind.VolumeSpike
}

// severityForScore grades a single 0-10 indicator.
func severityForScore(score float64) domain.AlertSeverity {
	switch {
	case score >= 8:
		return domain.SeverityCritical
	case score >= 6:
		return domain.SeverityHigh
	case score >= 3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// checkSet turns the payload's check list into a membership predicate.
// An empty list means every check runs.
func checkSet(checks []string) func(string) bool {
	if len(checks) == 0 {
		return func(string) bool { return true }
	}
	m := make(map[string]bool, len(checks))
	for _, c := range checks {
		m[c] = true
	}
	return func(name string) bool { return m[name] }
}

func classify(err error) error {
	var f *fault.Fault
	if errors.As(err, &f) {
		return err
	}
	if chain.IsTerminal(err) {
		return fault.New(fault.Terminal, "risk_assess", err)
	}
	return fault.New(fault.Transient, "risk_assess", err)
}

func (p *Pipeline) appendActivity(ctx context.Context, job *queue.Job, launchID string, success bool, detail string, cause error, took time.Duration) {
	entry := &domain.ActivityEntry{
		ID:        uuid.NewString(),
		LaunchID:  launchID,
		JobID:     job.ID,
		Action:    "risk_assess",
		Success:   success,
		Detail:    detail,
		Duration:  took,
		CreatedAt: p.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.stores.Activity.Append(ctx, entry); err != nil {
		p.log.Error().Str("job_id", job.ID).Err(err).Msg("activity append failed")
	}
}
