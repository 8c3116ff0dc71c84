package launchpipe

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
	"github.com/forge-labs/forge/internal/store"
	"github.com/forge-labs/forge/internal/store/memory"
)

type harness struct {
	stores store.Stores
	exec   *chain.StubClient
	queue  *queue.Queue
	hub    *events.Hub
	pipe   *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stores := memory.New().Stores()
	exec := chain.NewStubClient()
	policy := queue.Policy{
		Concurrency: 5, RateLimit: 100, RateWindow: time.Minute,
		MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 4 * time.Millisecond,
		KeepTerminal: 100,
	}
	q := queue.New(queue.QueueLaunch, policy, stores.Jobs, zerolog.Nop())
	hub := events.NewHub(64, zerolog.Nop())
	return &harness{
		stores: stores,
		exec:   exec,
		queue:  q,
		hub:    hub,
		pipe:   New(stores, exec, q, hub, zerolog.Nop()),
	}
}

func memePayload(launchID string) queue.LaunchPayload {
	return queue.LaunchPayload{
		LaunchID:            launchID,
		Name:                "DogeCoin2.0",
		Symbol:              "DOGE2",
		Category:            "meme",
		TotalSupply:         decimal.NewFromInt(1_000_000_000),
		TargetMarketCapUSD:  decimal.NewFromInt(500_000),
		PresaleMode:         domain.PresaleFCFS,
		CurveType:           domain.CurveExponential,
		InitialPrice:        decimal.NewFromFloat(0.001),
		GraduationThreshold: decimal.NewFromInt(100_000),
		AntiSniperSeconds:   300,
	}
}

// runToTerminal drives the job through Handle and the queue's retry logic
// the same way a worker pool does, until the job reaches a terminal state.
func (h *harness) runToTerminal(t *testing.T, jobID string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		leaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		j, err := h.queue.Dequeue(leaseCtx)
		cancel()
		require.NoError(t, err)
		require.Equal(t, jobID, j.ID)

		result, err := h.pipe.Handle(ctx, j)
		if err == nil {
			require.NoError(t, h.queue.Ack(ctx, j.ID, result))
		} else {
			require.NoError(t, h.queue.Fail(ctx, j.ID, err, !fault.Retryable(err)))
		}

		snap, err := h.queue.Get(jobID)
		require.NoError(t, err)
		if snap.State.Terminal() {
			return snap
		}
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestLaunchHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	job := h.runToTerminal(t, jobID)

	// Scenario: one completed job record, launch active with both addresses.
	assert.Equal(t, queue.StateCompleted, job.State)
	assert.Equal(t, 100, job.Progress)

	l, err := h.stores.Launches.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)
	assert.NotEmpty(t, l.VaultAddress)
	assert.NotEmpty(t, l.CurveAddress)
	assert.NotEmpty(t, l.TokenMint)
	require.NotNil(t, l.LaunchedAt)

	assert.Equal(t, 1, h.exec.Calls("create_vault"))
	assert.Equal(t, 1, h.exec.Calls("deploy_curve"))

	entries, err := h.stores.Activity.ListByJob(ctx, jobID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		require.True(t, e.Success)
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"acquire_launch", "create_vault", "deploy_curve", "configure_fees", "finalize_launch"}, actions)
}

func TestLaunchTransientFailureRetriesToSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Vault creation fails twice, succeeds on the third attempt.
	h.exec.FailNext("create_vault", errors.New("rpc timeout"), 2)

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	job := h.runToTerminal(t, jobID)

	assert.Equal(t, queue.StateCompleted, job.State)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, 3, h.exec.Calls("create_vault"))

	l, err := h.stores.Launches.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)

	// Two failure entries precede the eventual success entry for the stage.
	entries, err := h.stores.Activity.ListByJob(ctx, jobID)
	require.NoError(t, err)
	var failures, successes int
	for _, e := range entries {
		if e.Action != "create_vault" {
			continue
		}
		if e.Success {
			successes++
		} else {
			failures++
			assert.Contains(t, e.Error, "rpc timeout")
		}
	}
	assert.Equal(t, 2, failures)
	assert.Equal(t, 1, successes)
}

func TestLaunchIdempotentResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Curve deployment fails once, so attempt one completes the vault stage
	// and attempt two must resume past it without re-creating the vault.
	h.exec.FailNext("deploy_curve", errors.New("blockhash expired"), 1)

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	job := h.runToTerminal(t, jobID)

	assert.Equal(t, queue.StateCompleted, job.State)
	assert.Equal(t, 1, h.exec.Calls("create_vault"), "vault must not be re-created on resume")
	assert.Equal(t, 2, h.exec.Calls("deploy_curve"))

	l, err := h.stores.Launches.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchActive, l.Status)
}

func TestLaunchTerminalChainErrorFailsFast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.exec.FailNext("create_vault", chain.ErrInsufficientFunds, 1)

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	job := h.runToTerminal(t, jobID)

	assert.Equal(t, queue.StateFailed, job.State)
	assert.Equal(t, 1, job.Attempt, "terminal chain errors skip retries")
	assert.Contains(t, job.Error, "insufficient funds")

	l, err := h.stores.Launches.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchFailed, l.Status)
	assert.NotEmpty(t, l.LastError)
}

func TestLaunchExhaustedRetriesMarksFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.exec.FailNext("create_vault", errors.New("rpc down"), 3)

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)

	sub := h.hub.Subscribe(events.LaunchTopic("l1"))
	defer sub.Close()

	job := h.runToTerminal(t, jobID)
	assert.Equal(t, queue.StateFailed, job.State)
	assert.Equal(t, 3, job.Attempt)

	l, err := h.stores.Launches.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchFailed, l.Status)
	// A failed launch keeps no partial success payload visible to callers.
	assert.Empty(t, l.VaultAddress)
	assert.Empty(t, l.CurveAddress)

	var failed bool
	for len(sub.C) > 0 {
		if _, ok := (<-sub.C).(events.LaunchFailed); ok {
			failed = true
		}
	}
	assert.True(t, failed, "failure event broadcast on final attempt")
}

func TestLaunchEventsCarryAddresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.hub.Subscribe(events.LaunchTopic("l1"))
	defer sub.Close()

	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	h.runToTerminal(t, jobID)

	var completed *events.LaunchCompleted
	var checkpoints []int
	for len(sub.C) > 0 {
		switch e := (<-sub.C).(type) {
		case events.LaunchProgress:
			checkpoints = append(checkpoints, e.Progress)
		case events.LaunchCompleted:
			completed = &e
		}
	}
	require.NotNil(t, completed)
	assert.NotEmpty(t, completed.VaultAddress)
	assert.NotEmpty(t, completed.CurveAddress)
	assert.Equal(t, []int{10, 20, 50, 75, 90}, checkpoints)
}

func TestResubmittingFailedLaunchRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.exec.FailNext("create_vault", chain.ErrInsufficientFunds, 1)
	jobID, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	h.runToTerminal(t, jobID)

	// Same launch id again: validation failure, no retries.
	jobID2, err := h.queue.Enqueue(ctx, memePayload("l1"))
	require.NoError(t, err)
	job := h.runToTerminal(t, jobID2)
	assert.Equal(t, queue.StateFailed, job.State)
	assert.Equal(t, 1, job.Attempt)
	assert.Contains(t, job.Error, "already failed")
}

func TestFeeScheduleShape(t *testing.T) {
	tiers := feeSchedule(300)
	require.Len(t, tiers, 4)
	assert.Equal(t, 2500, tiers[0].FeeBps)
	assert.Equal(t, 100, tiers[len(tiers)-1].FeeBps)
	assert.Equal(t, 300, tiers[len(tiers)-1].StartOffsetSeconds)
	for i := 1; i < len(tiers); i++ {
		assert.Greater(t, tiers[i].StartOffsetSeconds, tiers[i-1].StartOffsetSeconds)
		assert.Less(t, tiers[i].FeeBps, tiers[i-1].FeeBps)
	}

	base := feeSchedule(0)
	require.Len(t, base, 1)
	assert.Equal(t, 100, base[0].FeeBps)
}
