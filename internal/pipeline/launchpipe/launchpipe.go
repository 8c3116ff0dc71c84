// Package launchpipe is the worker logic of the launch queue: a five stage
// sequence taking a token from submitted parameters to an active launch with
// a presale vault and a bonding curve on chain. Every stage is idempotent
// with respect to already-completed work, so a retried job resumes at the
// first incomplete stage instead of redoing chain transactions.
package launchpipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/curve"
	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/observability"
	"github.com/forge-labs/forge/internal/pipeline/fault"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/store"
)

// Stage progress checkpoints.
const (
	progressAcquired  = 10
	progressVault     = 20
	progressCurve     = 50
	progressFees      = 75
	progressFinalized = 90
)

// Presale vaults run for an hour unless the product layer says otherwise.
const defaultPresaleDurationSeconds = 3600

// Result is what a completed launch job acks with.
type Result struct {
	LaunchID     string         `json:"launch_id"`
	TokenMint    domain.Address `json:"token_mint"`
	VaultAddress domain.Address `json:"vault_address"`
	CurveAddress domain.Address `json:"curve_address"`
}

// Pipeline executes launch jobs.
type Pipeline struct {
	stores store.Stores
	exec   chain.Executor
	jobs   *queue.Queue
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

// New creates the launch pipeline.
func New(stores store.Stores, exec chain.Executor, jobs *queue.Queue, pub events.Publisher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		stores: stores,
		exec:   exec,
		jobs:   jobs,
		pub:    pub,
		log:    logger.With().Str("pipeline", "launch").Logger(),
		now:    time.Now,
	}
}

// Handle runs the stage sequence for one leased job.
func (p *Pipeline) Handle(ctx context.Context, job *queue.Job) (any, error) {
	payload, ok := job.Payload.(queue.LaunchPayload)
	if !ok {
		return nil, fault.Invariantf("launch job %s carries %T payload", job.ID, job.Payload)
	}

	l, err := p.acquire(ctx, job, payload)
	if err != nil {
		return nil, p.stageFailed(ctx, job, payload.LaunchID, "acquire_launch", err)
	}
	if l.Status == domain.LaunchActive || l.Status == domain.LaunchGraduated {
		// A previous attempt finished everything but the ack.
		return resultFor(l), nil
	}
	p.checkpoint(ctx, job, l.ID, "acquire_launch", progressAcquired)

	if err := p.createVault(ctx, job, l, payload); err != nil {
		return nil, p.stageFailed(ctx, job, l.ID, "create_vault", err)
	}
	p.checkpoint(ctx, job, l.ID, "create_vault", progressVault)

	if err := p.deployCurve(ctx, job, l); err != nil {
		return nil, p.stageFailed(ctx, job, l.ID, "deploy_curve", err)
	}
	p.checkpoint(ctx, job, l.ID, "deploy_curve", progressCurve)

	// The fee schedule rides the curve deployment transaction; this stage
	// records that it actually made it on chain.
	p.appendActivity(ctx, job, l.ID, "configure_fees", true, fmt.Sprintf("%d fee tiers active", len(feeSchedule(l.AntiSniperSeconds))), nil, 0)
	p.checkpoint(ctx, job, l.ID, "configure_fees", progressFees)

	if err := p.finalize(ctx, job, l); err != nil {
		return nil, p.stageFailed(ctx, job, l.ID, "finalize_launch", err)
	}
	p.checkpoint(ctx, job, l.ID, "finalize_launch", progressFinalized)

	p.pub.Publish(events.NewLaunchCompleted(l, job.ID))
	p.log.Info().Str("launch_id", l.ID).Str("vault", string(l.VaultAddress)).
		Str("curve", string(l.CurveAddress)).Msg("launch active")
	return resultFor(l), nil
}

// --- stages ----------------------------------------------------------------

// acquire loads the launch or creates it in pending state. Creation races
// with nothing (the entity lease guarantees that) but ErrDuplicateKey is
// still folded into a reload for safety.
func (p *Pipeline) acquire(ctx context.Context, job *queue.Job, payload queue.LaunchPayload) (*domain.Launch, error) {
	start := p.now()
	l, err := p.stores.Launches.Get(ctx, payload.LaunchID)
	switch {
	case err == nil:
		if l.Status == domain.LaunchFailed {
			return nil, fault.Validationf("launch %s already failed, submit a new launch", l.ID)
		}
		return l, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("load launch %s: %w", payload.LaunchID, err)
	}

	now := p.now()
	l = &domain.Launch{
		ID:                  payload.LaunchID,
		TokenMint:           chain.DeriveMint(payload.LaunchID),
		Name:                payload.Name,
		Symbol:              payload.Symbol,
		Category:            payload.Category,
		TotalSupply:         payload.TotalSupply,
		TargetMarketCapUSD:  payload.TargetMarketCapUSD,
		PresaleMode:         payload.PresaleMode,
		CurveType:           payload.CurveType,
		InitialPrice:        payload.InitialPrice,
		GraduationThreshold: payload.GraduationThreshold,
		AntiSniperSeconds:   payload.AntiSniperSeconds,
		Status:              domain.LaunchPending,
		RiskLevel:           domain.RiskLow,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := p.stores.Launches.Insert(ctx, l); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return p.stores.Launches.Get(ctx, payload.LaunchID)
		}
		return nil, fmt.Errorf("create launch %s: %w", payload.LaunchID, err)
	}
	if p.metrics != nil {
		p.metrics.GetCounter("forge_launches_created_total").Inc()
	}
	p.appendActivity(ctx, job, l.ID, "acquire_launch", true, "launch record created", nil, p.now().Sub(start))
	return l, nil
}

func (p *Pipeline) createVault(ctx context.Context, job *queue.Job, l *domain.Launch, payload queue.LaunchPayload) error {
	if l.VaultAddress != "" {
		// Completed on a prior attempt.
		return nil
	}
	start := p.now()
	res, err := p.exec.CreatePresaleVault(ctx, chain.VaultConfig{
		LaunchID:            l.ID,
		TokenMint:           l.TokenMint,
		Mode:                l.PresaleMode,
		DepositLimit:        payload.TargetMarketCapUSD,
		VestingImmediatePct: 50,
		VestingGradualPct:   50,
		DurationSeconds:     defaultPresaleDurationSeconds,
	})
	if err != nil {
		return err
	}
	if err := l.SetVaultAddress(res.Address); err != nil {
		return fault.Invariantf("%s", err)
	}
	l.UpdatedAt = p.now()
	if err := p.stores.Launches.Update(ctx, l); err != nil {
		return fmt.Errorf("persist vault address: %w", err)
	}
	p.appendActivity(ctx, job, l.ID, "create_vault", true, string(res.Address), nil, p.now().Sub(start))
	return nil
}

func (p *Pipeline) deployCurve(ctx context.Context, job *queue.Job, l *domain.Launch) error {
	if l.CurveAddress != "" {
		return nil
	}
	start := p.now()

	bucketID, err := curve.BucketIDForLaunch(l.CurveType, l.InitialPrice)
	if err != nil {
		return fault.Validationf("curve parameters: %s", err)
	}
	granularity, err := curve.GranularityForCurveType(l.CurveType)
	if err != nil {
		return fault.Validationf("curve parameters: %s", err)
	}
	schedule := feeSchedule(l.AntiSniperSeconds)
	if len(schedule) == 0 {
		// An unprotected curve must never reach the chain.
		return fault.New(fault.Terminal, "deploy_curve", errors.New("empty fee schedule"))
	}

	res, err := p.exec.DeployBondingCurve(ctx, chain.CurveConfig{
		LaunchID:            l.ID,
		TokenMint:           l.TokenMint,
		BucketGranularity:   granularity,
		InitialBucketID:     bucketID,
		GraduationThreshold: l.GraduationThreshold,
		FeeSchedule:         schedule,
	})
	if err != nil {
		return err
	}
	if err := l.SetCurveAddress(res.Address); err != nil {
		return fault.Invariantf("%s", err)
	}
	l.UpdatedAt = p.now()
	if err := p.stores.Launches.Update(ctx, l); err != nil {
		return fmt.Errorf("persist curve address: %w", err)
	}
	p.appendActivity(ctx, job, l.ID, "deploy_curve", true, string(res.Address), nil, p.now().Sub(start))
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, job *queue.Job, l *domain.Launch) error {
	start := p.now()
	if l.Status == domain.LaunchPending {
		if err := l.TransitionTo(domain.LaunchActive); err != nil {
			return fault.Invariantf("%s", err)
		}
		now := p.now()
		l.LaunchedAt = &now
	}
	l.LastError = ""
	l.UpdatedAt = p.now()
	if err := p.stores.Launches.Update(ctx, l); err != nil {
		return fmt.Errorf("persist active launch: %w", err)
	}
	p.appendActivity(ctx, job, l.ID, "finalize_launch", true, "launch active", nil, p.now().Sub(start))
	return nil
}

// --- failure path -----------------------------------------------------------

// stageFailed logs and journals the failure, classifies it, and on the final
// attempt marks the launch failed and broadcasts it.
func (p *Pipeline) stageFailed(ctx context.Context, job *queue.Job, launchID, stage string, cause error) error {
	classified := classify(stage, cause)
	p.appendActivity(ctx, job, launchID, stage, false, "", classified, 0)

	lastAttempt := !fault.Retryable(classified) || job.Attempt+1 >= job.MaxAttempts
	if lastAttempt {
		p.markFailed(ctx, launchID, classified)
		p.pub.Publish(events.NewLaunchFailed(launchID, job.ID, stage, classified.Error()))
	}
	p.log.Warn().Str("launch_id", launchID).Str("stage", stage).Bool("final", lastAttempt).
		Err(cause).Msg("launch stage failed")
	return classified
}

func (p *Pipeline) markFailed(ctx context.Context, launchID string, cause error) {
	l, err := p.stores.Launches.Get(ctx, launchID)
	if err != nil {
		return
	}
	if l.Status.IsTerminal() {
		return
	}
	if err := l.TransitionTo(domain.LaunchFailed); err != nil {
		return
	}
	l.LastError = cause.Error()
	l.UpdatedAt = p.now()
	if err := p.stores.Launches.Update(ctx, l); err != nil {
		p.log.Error().Str("launch_id", launchID).Err(err).Msg("persist failed launch")
	}
}

// classify wraps raw errors with a fault kind. Chain terminal errors stop
// retrying; anything unclassified stays transient.
func classify(stage string, err error) error {
	var f *fault.Fault
	if errors.As(err, &f) {
		return err
	}
	if chain.IsTerminal(err) {
		return fault.New(fault.Terminal, stage, err)
	}
	return fault.New(fault.Transient, stage, err)
}

// --- helpers ----------------------------------------------------------------

func (p *Pipeline) checkpoint(ctx context.Context, job *queue.Job, launchID, stage string, progress int) {
	if err := p.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		p.log.Debug().Str("job_id", job.ID).Err(err).Msg("progress update failed")
	}
	p.pub.Publish(events.NewLaunchProgress(launchID, job.ID, stage, progress))
}

func (p *Pipeline) appendActivity(ctx context.Context, job *queue.Job, launchID, action string, success bool, detail string, cause error, took time.Duration) {
	entry := &domain.ActivityEntry{
		ID:        uuid.NewString(),
		LaunchID:  launchID,
		JobID:     job.ID,
		Action:    action,
		Success:   success,
		Detail:    detail,
		Duration:  took,
		CreatedAt: p.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.stores.Activity.Append(ctx, entry); err != nil {
		p.log.Error().Str("launch_id", launchID).Str("action", action).Err(err).Msg("activity append failed")
	}
}

func resultFor(l *domain.Launch) Result {
	return Result{LaunchID: l.ID, TokenMint: l.TokenMint, VaultAddress: l.VaultAddress, CurveAddress: l.CurveAddress}
}

// feeSchedule builds the decaying anti-sniper tiers over the protection
// window, settling at the 1% base fee. A zero window keeps only the base.
func feeSchedule(antiSniperSeconds int) []chain.FeeTier {
	const baseFeeBps = 100
	if antiSniperSeconds <= 0 {
		return []chain.FeeTier{{StartOffsetSeconds: 0, FeeBps: baseFeeBps}}
	}
	third := antiSniperSeconds / 3
	return []chain.FeeTier{
		{StartOffsetSeconds: 0, FeeBps: 2500},
		{StartOffsetSeconds: third, FeeBps: 1000},
		{StartOffsetSeconds: 2 * third, FeeBps: 500},
		{StartOffsetSeconds: antiSniperSeconds, FeeBps: baseFeeBps},
	}
}
