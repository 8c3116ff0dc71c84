// Package queue implements the durable job queues feeding the pipeline
// workers. Three queues exist (launch, liquidity, risk), each with exclusive
// leases, FIFO ordering with delayed eligibility, capped exponential retry
// backoff and a rolling-window rate limit. Every state transition is
// journaled to the job store before it becomes observable, so a restart
// rebuilds the exact queue state and abandoned leases fall back to retry.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forge-labs/forge/internal/store"
)

// Policy is the per-queue tuning knob set.
type Policy struct {
	Concurrency  int           `yaml:"concurrency"`
	RateLimit    int           `yaml:"rate_limit"`
	RateWindow   time.Duration `yaml:"rate_window"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffCap   time.Duration `yaml:"backoff_cap"`
	KeepTerminal int           `yaml:"keep_terminal"`
}

// DefaultPolicies returns the observed production defaults per queue.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		QueueLaunch: {
			Concurrency: 5, RateLimit: 10, RateWindow: 60 * time.Second,
			MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: 30 * time.Second,
			KeepTerminal: 500,
		},
		QueueLiquidity: {
			Concurrency: 5, RateLimit: 20, RateWindow: 60 * time.Second,
			MaxAttempts: 3, BackoffBase: time.Second, BackoffCap: 15 * time.Second,
			KeepTerminal: 500,
		},
		QueueRisk: {
			Concurrency: 5, RateLimit: 30, RateWindow: 60 * time.Second,
			MaxAttempts: 2, BackoffBase: 500 * time.Millisecond, BackoffCap: 10 * time.Second,
			KeepTerminal: 500,
		},
	}
}

// Stats is a point-in-time census of a queue.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Delayed   int    `json:"delayed"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Queue is one durable job queue. All fields behind mu; the job store is the
// durability journal, the in-memory maps are the serving view.
type Queue struct {
	name    string
	policy  Policy
	backoff Backoff
	journal store.JobStore
	log     zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string          // FIFO of waiting/delayed job ids
	leased  map[string]string // entityKey -> job id holding the lease
	active  int
	limiter *windowLimiter
	wake    chan struct{}
	now     func() time.Time
}

// New creates a queue. Recover must be called before the first Dequeue when
// the journal may hold prior state.
func New(name string, policy Policy, journal store.JobStore, logger zerolog.Logger) *Queue {
	return &Queue{
		name:    name,
		policy:  policy,
		backoff: Backoff{Base: policy.BackoffBase, Cap: policy.BackoffCap},
		journal: journal,
		log:     logger.With().Str("queue", name).Logger(),
		jobs:    make(map[string]*Job),
		leased:  make(map[string]string),
		limiter: newWindowLimiter(policy.RateLimit, policy.RateWindow),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue validates the payload, journals the job and makes it leasable.
// Returns the new job id.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (string, error) {
	return q.EnqueueDelayed(ctx, p, 0)
}

// EnqueueDelayed enqueues a job that only becomes eligible after delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, p Payload, delay time.Duration) (string, error) {
	if _, err := payloadFor(q.name, p.JobType()); err != nil {
		return "", err
	}
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s payload: %w", p.JobType(), err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	now := q.nowLocked()
	j := &Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Type:        p.JobType(),
		Payload:     derefPayload(p),
		EntityKey:   p.EntityKey(),
		State:       StateWaiting,
		MaxAttempts: q.policy.MaxAttempts,
		NotBefore:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if delay > 0 {
		j.State = StateDelayed
		j.NotBefore = now.Add(delay)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.persistLocked(ctx, j, raw); err != nil {
		return "", err
	}
	q.jobs[j.ID] = j
	q.pending = append(q.pending, j.ID)
	q.signal()
	q.log.Debug().Str("job_id", j.ID).Str("type", j.Type).Str("entity", j.EntityKey).Msg("job enqueued")
	return j.ID, nil
}

// Dequeue blocks until a job can be exclusively leased or ctx is done. The
// returned job is a snapshot; all further interaction goes through Ack, Fail
// and UpdateProgress by id.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		j, wait, err := q.tryLease(ctx)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryLease attempts one lease pass. Returns the leased snapshot, or how long
// to wait before the next pass.
func (q *Queue) tryLease(ctx context.Context) (*Job, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if q.active >= q.policy.Concurrency {
		return nil, 250 * time.Millisecond, nil
	}

	wait := 250 * time.Millisecond
	for i := 0; i < len(q.pending); i++ {
		j, ok := q.jobs[q.pending[i]]
		if !ok || (j.State != StateWaiting && j.State != StateDelayed) {
			// Cancelled or pruned since it was queued. Compact the entry so
			// the scan never revisits it and the slice cannot grow unbounded.
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			i--
			continue
		}
		if eligible := j.eligibleAt(); eligible.After(now) {
			if d := eligible.Sub(now); d < wait {
				wait = d
			}
			continue
		}
		if _, held := q.leased[j.EntityKey]; held {
			// Same-entity job already running; later jobs for other
			// entities may still overtake it.
			continue
		}
		if !q.limiter.allow(now) {
			if d := q.limiter.nextFree(now).Sub(now); d > 0 && d < wait {
				wait = d
			}
			return nil, wait, nil
		}

		j.State = StateActive
		j.UpdatedAt = now
		if err := q.persistLocked(ctx, j, nil); err != nil {
			// Undo: the lease never happened if it was not journaled.
			j.State = StateWaiting
			return nil, 0, err
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.leased[j.EntityKey] = j.ID
		q.active++
		q.log.Debug().Str("job_id", j.ID).Int("attempt", j.Attempt).Msg("job leased")
		return j.snapshot(), 0, nil
	}
	return nil, wait, nil
}

// Ack marks an active job completed and releases its lease.
func (q *Queue) Ack(ctx context.Context, id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.activeLocked(id)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.Progress = 100
	j.Result = raw
	j.UpdatedAt = q.now()
	if err := q.persistLocked(ctx, j, nil); err != nil {
		return err
	}
	q.releaseLocked(j)
	q.pruneLocked(ctx)
	q.log.Info().Str("job_id", id).Str("type", j.Type).Msg("job completed")
	return nil
}

// Fail records a failed attempt. Retryable failures are rescheduled with
// capped exponential backoff; terminal failures and exhausted retries mark
// the job failed for good.
func (q *Queue) Fail(ctx context.Context, id string, cause error, terminal bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.activeLocked(id)
	if err != nil {
		return err
	}

	delay := q.backoff.Delay(j.Attempt)
	j.Attempt++
	j.Error = cause.Error()
	j.UpdatedAt = q.now()

	if terminal || j.Attempt >= j.MaxAttempts {
		j.State = StateFailed
		if err := q.persistLocked(ctx, j, nil); err != nil {
			return err
		}
		q.releaseLocked(j)
		q.pruneLocked(ctx)
		q.log.Warn().Str("job_id", id).Int("attempt", j.Attempt).Bool("terminal", terminal).
			Str("error", j.Error).Msg("job failed")
		return nil
	}

	j.State = StateDelayed
	j.NotBefore = j.UpdatedAt.Add(delay)
	if err := q.persistLocked(ctx, j, nil); err != nil {
		return err
	}
	q.releaseLocked(j)
	q.pending = append(q.pending, j.ID)
	q.signal()
	q.log.Info().Str("job_id", id).Int("attempt", j.Attempt).Dur("delay", delay).
		Str("error", j.Error).Msg("job scheduled for retry")
	return nil
}

// Cancel skips a job that has not been leased yet. Active and terminal jobs
// are untouched; once a stage sequence starts it runs to a stage boundary.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.State != StateWaiting && j.State != StateDelayed {
		return fmt.Errorf("job %s is %s, only unleased jobs can be cancelled", id, j.State)
	}
	j.State = StateFailed
	j.Error = "cancelled"
	j.UpdatedAt = q.now()
	if err := q.persistLocked(ctx, j, nil); err != nil {
		return err
	}
	q.dropPendingLocked(id)
	q.pruneLocked(ctx)
	q.log.Info().Str("job_id", id).Msg("job cancelled")
	return nil
}

// UpdateProgress journals a progress checkpoint for an active job.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d out of range", progress)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.activeLocked(id)
	if err != nil {
		return err
	}
	j.Progress = progress
	j.UpdatedAt = q.now()
	return q.persistLocked(ctx, j, nil)
}

// Get returns a snapshot of a job by id.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.snapshot(), nil
}

// Stats returns a point-in-time census.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Queue: q.name}
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting:
			s.Waiting++
		case StateDelayed:
			s.Delayed++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// Recover rebuilds queue state from the journal after a restart. Jobs found
// active were abandoned mid-flight; they go back to waiting on the same
// attempt and rerun through the pipelines' idempotent stage checks.
func (q *Queue) Recover(ctx context.Context) error {
	records, err := q.journal.ListByQueue(ctx, q.name)
	if err != nil {
		return fmt.Errorf("recover queue %s: %w", q.name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	recovered := 0
	for _, r := range records {
		p, err := DecodePayload(r.Queue, r.Type, r.Payload)
		if err != nil {
			q.log.Error().Str("job_id", r.ID).Err(err).Msg("dropping undecodable journaled job")
			continue
		}
		j := &Job{
			ID:          r.ID,
			Queue:       r.Queue,
			Type:        r.Type,
			Payload:     p,
			EntityKey:   r.EntityKey,
			State:       State(r.State),
			Attempt:     r.Attempt,
			MaxAttempts: r.MaxAttempts,
			Progress:    r.Progress,
			Result:      r.Result,
			Error:       r.Error,
			NotBefore:   r.NotBefore,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		}
		if j.State == StateActive {
			j.State = StateWaiting
			j.UpdatedAt = q.now()
			if err := q.persistLocked(ctx, j, nil); err != nil {
				return err
			}
		}
		q.jobs[j.ID] = j
		if j.State == StateWaiting || j.State == StateDelayed {
			q.pending = append(q.pending, j.ID)
			recovered++
		}
	}
	sort.SliceStable(q.pending, func(a, b int) bool {
		return q.jobs[q.pending[a]].CreatedAt.Before(q.jobs[q.pending[b]].CreatedAt)
	})
	if recovered > 0 {
		q.log.Info().Int("jobs", recovered).Msg("recovered pending jobs from journal")
		q.signal()
	}
	return nil
}

// --- internals ------------------------------------------------------------

func (q *Queue) activeLocked(id string) (*Job, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.State != StateActive {
		return nil, fmt.Errorf("job %s is %s, not active", id, j.State)
	}
	return j, nil
}

// dropPendingLocked removes one id from the pending scan order.
func (q *Queue) dropPendingLocked(id string) {
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) releaseLocked(j *Job) {
	if q.leased[j.EntityKey] == j.ID {
		delete(q.leased, j.EntityKey)
	}
	if q.active > 0 {
		q.active--
	}
	q.signal()
}

// persistLocked journals the job's current state. raw carries the payload
// bytes on first save; later saves only touch mutable columns.
func (q *Queue) persistLocked(ctx context.Context, j *Job, raw []byte) error {
	if raw == nil {
		var err error
		raw, err = json.Marshal(j.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}
	rec := &store.JobRecord{
		ID:          j.ID,
		Queue:       j.Queue,
		Type:        j.Type,
		Payload:     raw,
		EntityKey:   j.EntityKey,
		State:       string(j.State),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Progress:    j.Progress,
		Result:      j.Result,
		Error:       j.Error,
		NotBefore:   j.NotBefore,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if err := q.journal.Save(ctx, rec); err != nil {
		return fmt.Errorf("journal job %s: %w", j.ID, err)
	}
	return nil
}

// pruneLocked trims terminal jobs past the retention bound, journal first.
func (q *Queue) pruneLocked(ctx context.Context) {
	keep := q.policy.KeepTerminal
	if keep <= 0 {
		return
	}
	terminal := make([]*Job, 0)
	for _, j := range q.jobs {
		if j.State.Terminal() {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= keep {
		return
	}
	if _, err := q.journal.PruneTerminal(ctx, q.name, keep); err != nil {
		q.log.Error().Err(err).Msg("prune journal failed")
		return
	}
	sort.Slice(terminal, func(a, b int) bool {
		return terminal[a].UpdatedAt.After(terminal[b].UpdatedAt)
	})
	for _, j := range terminal[keep:] {
		delete(q.jobs, j.ID)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) nowLocked() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now()
}
