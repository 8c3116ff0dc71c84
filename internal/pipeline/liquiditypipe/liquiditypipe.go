// Package liquiditypipe is the worker logic of the liquidity queue. Four job
// subtypes share one pool: add, rebalance, harvest and close. Rebalance is
// deliberately fail-visible: when the close leg succeeds but the reopen leg
// fails, the position stays in rebalancing for an operator instead of
// silently reverting to stale bounds.
package liquiditypipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/pipeline/fault"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/store"
)

// APR is annualized from daily fee yield and capped to keep near-zero
// liquidity from producing absurd numbers.
const (
	periodsPerYear = 365
	aprCapPct      = 10_000.0
)

// Harvest profitability floor: claiming under a dollar of fees, or under
// twice the gas it costs to claim them, burns money.
var minHarvestFees = decimal.NewFromInt(1)

// Result is what a completed liquidity job acks with.
type Result struct {
	PositionID string                `json:"position_id"`
	Action     string                `json:"action"`
	Status     domain.PositionStatus `json:"status"`
	Skipped    bool                  `json:"skipped,omitempty"`
	Detail     string                `json:"detail,omitempty"`
}

// Pipeline executes liquidity jobs.
type Pipeline struct {
	stores store.Stores
	exec   chain.Executor
	pub    events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

// New creates the liquidity pipeline.
func New(stores store.Stores, exec chain.Executor, pub events.Publisher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		stores: stores,
		exec:   exec,
		pub:    pub,
		log:    logger.With().Str("pipeline", "liquidity").Logger(),
		now:    time.Now,
	}
}

// Handle dispatches one leased job to its subtype.
func (p *Pipeline) Handle(ctx context.Context, job *queue.Job) (any, error) {
	start := p.now()
	var (
		res *Result
		err error
	)
	switch payload := job.Payload.(type) {
	case queue.AddLiquidityPayload:
		res, err = p.add(ctx, payload)
	case queue.RebalancePayload:
		res, err = p.rebalance(ctx, payload)
	case queue.HarvestPayload:
		res, err = p.harvest(ctx, payload)
	case queue.ClosePayload:
		res, err = p.close(ctx, payload)
	default:
		return nil, fault.Invariantf("liquidity job %s carries %T payload", job.ID, job.Payload)
	}
	took := p.now().Sub(start)

	if err != nil {
		classified := classify(job.Type, err)
		p.appendActivity(ctx, job, "", positionIDOf(job.Payload), job.Type, false, "", classified, took)
		p.log.Warn().Str("job_id", job.ID).Str("type", job.Type).Err(err).Msg("liquidity job failed")
		return nil, classified
	}

	p.appendActivity(ctx, job, "", res.PositionID, job.Type, true, res.Detail, nil, took)
	return res, nil
}

// --- add --------------------------------------------------------------------

func (p *Pipeline) add(ctx context.Context, payload queue.AddLiquidityPayload) (*Result, error) {
	if _, err := p.stores.Launches.Get(ctx, payload.LaunchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.Validationf("launch %s not found", payload.LaunchID)
		}
		return nil, fmt.Errorf("load launch %s: %w", payload.LaunchID, err)
	}

	opened, err := p.exec.AddLiquidity(ctx, payload.PoolAddress, payload.Range, payload.AmountA, payload.AmountB)
	if err != nil {
		return nil, err
	}

	now := p.now()
	pos := &domain.LiquidityPosition{
		ID:              uuid.NewString(),
		LaunchID:        payload.LaunchID,
		PoolAddress:     payload.PoolAddress,
		PositionAddress: opened.PositionAddress,
		Range:           payload.Range,
		LiquidityAmount: payload.AmountA.Add(payload.AmountB),
		Status:          domain.PositionActive,
		FeesEarned:      decimal.Zero,
		AIManaged:       payload.AIManaged,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.stores.Positions.Insert(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	p.pub.Publish(events.NewPositionUpdated(pos, "add"))
	p.log.Info().Str("position_id", pos.ID).Str("launch_id", pos.LaunchID).
		Str("pool", string(pos.PoolAddress)).Msg("position opened")
	return &Result{PositionID: pos.ID, Action: "add", Status: pos.Status, Detail: string(opened.PositionAddress)}, nil
}

// --- rebalance --------------------------------------------------------------

func (p *Pipeline) rebalance(ctx context.Context, payload queue.RebalancePayload) (*Result, error) {
	pos, err := p.loadPosition(ctx, payload.PositionID)
	if err != nil {
		return nil, err
	}

	// A position found mid-rebalance means a prior attempt closed the old
	// position and died before reopening; resume at the reopen leg.
	if pos.Status == domain.PositionActive {
		if err := pos.BeginRebalance(); err != nil {
			return nil, fault.Invariantf("%s", err)
		}
		pos.UpdatedAt = p.now()
		if err := p.stores.Positions.Update(ctx, pos); err != nil {
			return nil, fmt.Errorf("persist rebalancing state: %w", err)
		}
		if _, err := p.exec.RemoveLiquidity(ctx, pos.PositionAddress); err != nil {
			return nil, err
		}
	} else if pos.Status != domain.PositionRebalancing {
		return nil, fault.Invariantf("position %s: cannot rebalance from status %s", pos.ID, pos.Status)
	}

	// Reopen leg. On failure the position stays rebalancing, visibly stuck.
	opened, err := p.exec.AddLiquidity(ctx, pos.PoolAddress, payload.NewRange,
		pos.LiquidityAmount.Div(decimal.NewFromInt(2)), pos.LiquidityAmount.Div(decimal.NewFromInt(2)))
	if err != nil {
		return nil, err
	}

	if err := pos.CompleteRebalance(opened.PositionAddress, payload.NewRange, p.now()); err != nil {
		return nil, fault.Invariantf("%s", err)
	}
	pos.UpdatedAt = p.now()
	if err := p.stores.Positions.Update(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist rebalanced position: %w", err)
	}

	p.pub.Publish(events.NewPositionUpdated(pos, "rebalance"))
	p.log.Info().Str("position_id", pos.ID).Int("rebalances", pos.RebalanceCount).
		Str("lower", pos.Range.Lower.String()).Str("upper", pos.Range.Upper.String()).
		Msg("position rebalanced")
	return &Result{PositionID: pos.ID, Action: "rebalance", Status: pos.Status}, nil
}

// --- harvest ----------------------------------------------------------------

func (p *Pipeline) harvest(ctx context.Context, payload queue.HarvestPayload) (*Result, error) {
	pos, err := p.loadPosition(ctx, payload.PositionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != domain.PositionActive {
		return nil, fault.Validationf("position %s is %s, cannot harvest", pos.ID, pos.Status)
	}

	claimed, err := p.exec.HarvestFees(ctx, pos.PositionAddress)
	if err != nil {
		return nil, err
	}

	// Profitability gate.
	if claimed.Amount.LessThan(minHarvestFees) || claimed.Amount.LessThan(payload.EstimatedGas.Mul(decimal.NewFromInt(2))) {
		detail := fmt.Sprintf("unprofitable harvest skipped: fees %s, gas %s", claimed.Amount, payload.EstimatedGas)
		p.log.Debug().Str("position_id", pos.ID).Msg(detail)
		return &Result{PositionID: pos.ID, Action: "harvest", Status: pos.Status, Skipped: true, Detail: detail}, nil
	}

	pos.FeesEarned = pos.FeesEarned.Add(claimed.Amount)
	pos.APR = annualizedAPR(pos.FeesEarned, pos.LiquidityAmount)
	pos.UpdatedAt = p.now()
	if err := p.stores.Positions.Update(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist harvested position: %w", err)
	}

	p.pub.Publish(events.NewPositionUpdated(pos, "harvest"))
	p.log.Info().Str("position_id", pos.ID).Str("claimed", claimed.Amount.String()).
		Float64("apr", pos.APR).Msg("fees harvested")
	return &Result{PositionID: pos.ID, Action: "harvest", Status: pos.Status, Detail: claimed.Amount.String()}, nil
}

// --- close ------------------------------------------------------------------

func (p *Pipeline) close(ctx context.Context, payload queue.ClosePayload) (*Result, error) {
	pos, err := p.loadPosition(ctx, payload.PositionID)
	if err != nil {
		return nil, err
	}
	if pos.Status == domain.PositionClosed {
		// Prior attempt finished everything but the ack.
		return &Result{PositionID: pos.ID, Action: "close", Status: pos.Status}, nil
	}

	// The pool address lives on the row, so closing never derives anything
	// on chain.
	if _, err := p.exec.RemoveLiquidity(ctx, pos.PositionAddress); err != nil {
		return nil, err
	}
	if err := pos.Close(); err != nil {
		return nil, fault.Invariantf("%s", err)
	}
	pos.UpdatedAt = p.now()
	if err := p.stores.Positions.Update(ctx, pos); err != nil {
		return nil, fmt.Errorf("persist closed position: %w", err)
	}

	p.pub.Publish(events.NewPositionUpdated(pos, "close"))
	p.log.Info().Str("position_id", pos.ID).Msg("position closed")
	return &Result{PositionID: pos.ID, Action: "close", Status: pos.Status}, nil
}

// --- helpers ----------------------------------------------------------------

func (p *Pipeline) loadPosition(ctx context.Context, id string) (*domain.LiquidityPosition, error) {
	pos, err := p.stores.Positions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.Validationf("position %s not found", id)
		}
		return nil, fmt.Errorf("load position %s: %w", id, err)
	}
	return pos, nil
}

func (p *Pipeline) appendActivity(ctx context.Context, job *queue.Job, launchID, positionID, action string, success bool, detail string, cause error, took time.Duration) {
	entry := &domain.ActivityEntry{
		ID:         uuid.NewString(),
		LaunchID:   launchID,
		PositionID: positionID,
		JobID:      job.ID,
		Action:     action,
		Success:    success,
		Detail:     detail,
		Duration:   took,
		CreatedAt:  p.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := p.stores.Activity.Append(ctx, entry); err != nil {
		p.log.Error().Str("action", action).Err(err).Msg("activity append failed")
	}
}

func positionIDOf(payload queue.Payload) string {
	switch v := payload.(type) {
	case queue.RebalancePayload:
		return v.PositionID
	case queue.HarvestPayload:
		return v.PositionID
	case queue.ClosePayload:
		return v.PositionID
	default:
		return ""
	}
}

func classify(jobType string, err error) error {
	var f *fault.Fault
	if errors.As(err, &f) {
		return err
	}
	if chain.IsTerminal(err) {
		return fault.New(fault.Terminal, jobType, err)
	}
	return fault.New(fault.Transient, jobType, err)
}

// annualizedAPR computes (fees / liquidity) * periodsPerYear as a percent,
// capped at the sanity ceiling.
func annualizedAPR(feesEarned, liquidity decimal.Decimal) float64 {
	if !liquidity.IsPositive() {
		return aprCapPct
	}
	apr, _ := feesEarned.Div(liquidity).
		Mul(decimal.NewFromInt(periodsPerYear)).
		Mul(decimal.NewFromInt(100)).
		Float64()
	if apr > aprCapPct {
		return aprCapPct
	}
	return apr
}
