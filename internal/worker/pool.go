// Package worker runs the per-queue worker pools and the supervisor that
// owns them. A pool leases jobs from exactly one queue and hands them to a
// handler with bounded parallelism; the supervisor holds explicit pool
// handles, no global registry.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/forge-labs/forge/internal/observability"
	"github.com/forge-labs/forge/internal/pipeline/fault"
	"github.com/forge-labs/forge/internal/queue"
)

// ---------------------------------------------------------------------------
// Worker Pool: bounded parallel execution of one queue's jobs
// ---------------------------------------------------------------------------

// leaseRetryBackoff paces retries after a failed lease transition, so a
// struggling journal is not hammered by every idle worker at once.
const leaseRetryBackoff = 500 * time.Millisecond

// Handler processes one leased job and returns the result to ack with. A nil
// error acks the job; a non-nil error fails it, with retryability decided by
// the fault kind (unclassified errors retry).
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Job) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) (any, error) {
	return f(ctx, job)
}

// PoolStats is a point-in-time census of one pool.
type PoolStats struct {
	Queue     string `json:"queue"`
	Processed int64  `json:"processed"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

// Pool runs a fixed number of lease loops against one queue.
type Pool struct {
	queue       *queue.Queue
	handler     Handler
	concurrency int
	log         zerolog.Logger

	leaseCtx    context.Context
	stopLeasing context.CancelFunc
	workCtx     context.Context
	stopWork    context.CancelFunc
	group       *errgroup.Group

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
	running   atomic.Bool

	metrics *observability.Registry
}

// NewPool creates a pool over q with the given parallelism.
func NewPool(q *queue.Queue, h Handler, concurrency int, logger zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		queue:       q,
		handler:     h,
		concurrency: concurrency,
		log:         logger.With().Str("pool", q.Name()).Logger(),
	}
}

// WithMetrics attaches the shared metrics registry. Optional.
func (p *Pool) WithMetrics(r *observability.Registry) *Pool {
	p.metrics = r
	return p
}

// Start launches the lease loops. Idempotent; a second call is a no-op.
func (p *Pool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.leaseCtx, p.stopLeasing = context.WithCancel(context.Background())
	p.workCtx, p.stopWork = context.WithCancel(context.Background())
	p.group = &errgroup.Group{}
	for i := 0; i < p.concurrency; i++ {
		p.group.Go(p.run)
	}
	p.log.Info().Int("concurrency", p.concurrency).Msg("worker pool started")
}

func (p *Pool) run() error {
	for {
		job, err := p.queue.Dequeue(p.leaseCtx)
		if err != nil {
			if p.leaseCtx.Err() != nil {
				// Lease context cancelled: phase one of shutdown.
				return nil
			}
			// A journal blip on the lease transition. The loop must outlive
			// transient storage errors or the pool bleeds workers.
			p.log.Warn().Err(err).Msg("lease attempt failed, backing off")
			select {
			case <-p.leaseCtx.Done():
				return nil
			case <-time.After(leaseRetryBackoff):
			}
			continue
		}
		p.process(job)
	}
}

func (p *Pool) process(job *queue.Job) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.processed.Add(1)

	start := time.Now()
	result, err := p.handler.Handle(p.workCtx, job)
	if p.metrics != nil {
		p.metrics.GetHistogram("forge_job_duration_ms").Observe(float64(time.Since(start).Milliseconds()))
	}

	// Journaling the outcome must survive shutdown of the work context.
	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		p.succeeded.Add(1)
		if p.metrics != nil {
			p.metrics.GetCounter("forge_jobs_completed_total").Inc()
		}
		if ackErr := p.queue.Ack(ackCtx, job.ID, result); ackErr != nil {
			p.log.Error().Str("job_id", job.ID).Err(ackErr).Msg("ack failed")
		}
		return
	}

	p.failed.Add(1)
	if p.metrics != nil {
		p.metrics.GetCounter("forge_jobs_failed_total").Inc()
	}
	kind := fault.KindOf(err)
	if kind == fault.Invariant {
		p.log.Error().Str("job_id", job.ID).Str("type", job.Type).Err(err).
			Msg("invariant violation in job handler")
	} else {
		p.log.Warn().Str("job_id", job.ID).Str("type", job.Type).
			Str("kind", kind.String()).Dur("took", time.Since(start)).Err(err).
			Msg("job handler failed")
	}
	if failErr := p.queue.Fail(ackCtx, job.ID, err, !fault.Retryable(err)); failErr != nil {
		p.log.Error().Str("job_id", job.ID).Err(failErr).Msg("fail transition failed")
	}
}

// StopLeasing ends phase one: no new jobs are leased, in-flight jobs keep
// running. Safe to call more than once.
func (p *Pool) StopLeasing() {
	if p.running.CompareAndSwap(true, false) {
		p.stopLeasing()
	}
}

// Shutdown stops leasing immediately, then waits up to timeout for in-flight
// jobs to finish. Jobs still running past the timeout get their context
// cancelled and are abandoned to the retry path on restart.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.StopLeasing()
	if p.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.stopWork()
		p.log.Info().Msg("worker pool drained")
		return nil
	case <-time.After(timeout):
		abandoned := p.inFlight.Load()
		p.stopWork()
		p.log.Warn().Int64("abandoned", abandoned).Msg("worker pool shutdown timed out")
		return fmt.Errorf("pool %s: %d jobs abandoned at shutdown", p.queue.Name(), abandoned)
	}
}

// Stats returns a point-in-time census.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Queue:     p.queue.Name(),
		Processed: p.processed.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
	}
}
