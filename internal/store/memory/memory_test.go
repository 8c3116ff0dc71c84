package memory

import (
	"context"
	"testing"
	"time"

	"github.com/forge-labs/forge/internal/domain"
	"github.com/forge-labs/forge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchStore_UniqueMint(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	l := &domain.Launch{ID: "l-1", TokenMint: "Mint111", Status: domain.LaunchPending, CreatedAt: time.Now()}
	require.NoError(t, st.Launches.Insert(ctx, l))

	dup := &domain.Launch{ID: "l-2", TokenMint: "Mint111", Status: domain.LaunchPending}
	assert.ErrorIs(t, st.Launches.Insert(ctx, dup), store.ErrDuplicateKey)

	_, err := st.Launches.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := st.Launches.GetByTokenMint(ctx, "Mint111")
	require.NoError(t, err)
	assert.Equal(t, "l-1", got.ID)
}

func TestLaunchStore_CopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	l := &domain.Launch{ID: "l-1", Status: domain.LaunchPending}
	require.NoError(t, st.Launches.Insert(ctx, l))

	got, err := st.Launches.Get(ctx, "l-1")
	require.NoError(t, err)
	got.Status = domain.LaunchFailed // must not leak into the store

	again, err := st.Launches.Get(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchPending, again.Status)
}

func TestLaunchStore_MintIndexedOnFirstUpdate(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	require.NoError(t, st.Launches.Insert(ctx, &domain.Launch{ID: "l-1", Status: domain.LaunchPending}))

	l, _ := st.Launches.Get(ctx, "l-1")
	l.TokenMint = "MintLate"
	require.NoError(t, st.Launches.Update(ctx, l))

	got, err := st.Launches.GetByTokenMint(ctx, "MintLate")
	require.NoError(t, err)
	assert.Equal(t, "l-1", got.ID)
}

func TestPositionStore_AIManagedFilter(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	now := time.Now()
	require.NoError(t, st.Positions.Insert(ctx, &domain.LiquidityPosition{
		ID: "p-1", LaunchID: "l-1", Status: domain.PositionActive, AIManaged: true, CreatedAt: now,
	}))
	require.NoError(t, st.Positions.Insert(ctx, &domain.LiquidityPosition{
		ID: "p-2", LaunchID: "l-1", Status: domain.PositionClosed, AIManaged: true, CreatedAt: now.Add(time.Second),
	}))
	require.NoError(t, st.Positions.Insert(ctx, &domain.LiquidityPosition{
		ID: "p-3", LaunchID: "l-1", Status: domain.PositionActive, AIManaged: false, CreatedAt: now.Add(2 * time.Second),
	}))

	managed, err := st.Positions.ListAIManaged(ctx)
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, "p-1", managed[0].ID)

	all, err := st.Positions.ListByLaunch(ctx, "l-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAlertStore_Acknowledge(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	require.NoError(t, st.Alerts.Insert(ctx, &domain.RiskAlert{
		ID: "a-1", LaunchID: "l-1", Type: domain.AlertHighRisk, CreatedAt: time.Now(),
	}))

	require.NoError(t, st.Alerts.Acknowledge(ctx, "a-1"))
	assert.ErrorIs(t, st.Alerts.Acknowledge(ctx, "a-2"), store.ErrNotFound)

	alerts, err := st.Alerts.ListByLaunch(ctx, "l-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Acknowledged)
}

func TestActivityStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	require.NoError(t, st.Activity.Append(ctx, &domain.ActivityEntry{ID: "e-1", LaunchID: "l-1", JobID: "j-1", Action: "create_vault", Success: false}))
	require.NoError(t, st.Activity.Append(ctx, &domain.ActivityEntry{ID: "e-2", LaunchID: "l-1", JobID: "j-1", Action: "create_vault", Success: true}))

	byLaunch, err := st.Activity.ListByLaunch(ctx, "l-1")
	require.NoError(t, err)
	assert.Len(t, byLaunch, 2)
	assert.False(t, byLaunch[0].Success)
	assert.True(t, byLaunch[1].Success)

	byJob, err := st.Activity.ListByJob(ctx, "j-1")
	require.NoError(t, err)
	assert.Len(t, byJob, 2)
}

func TestJobStore_PruneTerminalKeepsNewest(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()

	for i, id := range []string{"j-1", "j-2", "j-3", "j-4"} {
		state := "completed"
		if id == "j-4" {
			state = "waiting"
		}
		require.NoError(t, st.Jobs.Save(ctx, &store.JobRecord{
			ID: id, Queue: "launch", State: state, CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
		time.Sleep(2 * time.Millisecond) // UpdatedAt ordering
	}

	pruned, err := st.Jobs.PruneTerminal(ctx, "launch", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	// The waiting job and the newest terminal job survive.
	_, err = st.Jobs.Get(ctx, "j-4")
	assert.NoError(t, err)
	_, err = st.Jobs.Get(ctx, "j-3")
	assert.NoError(t, err)
	_, err = st.Jobs.Get(ctx, "j-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
