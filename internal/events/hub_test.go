package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-labs/forge/internal/domain"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestHubTopicScoping(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	l1 := hub.Subscribe(LaunchTopic("l1"))
	defer l1.Close()
	l2 := hub.Subscribe(LaunchTopic("l2"))
	defer l2.Close()

	hub.Publish(NewLaunchProgress("l1", "j1", "create_vault", 20))

	e := recvEvent(t, l1)
	prog, ok := e.(LaunchProgress)
	require.True(t, ok)
	assert.Equal(t, "create_vault", prog.Stage)
	assert.Equal(t, 20, prog.Progress)
	assert.NotEmpty(t, prog.EventID)

	select {
	case <-l2.C:
		t.Fatal("event leaked across topics")
	default:
	}
}

func TestHubMultipleSubscribersSameTopic(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	a := hub.Subscribe(PositionTopic("p1"))
	defer a.Close()
	b := hub.Subscribe(PositionTopic("p1"))
	defer b.Close()

	pos := &domain.LiquidityPosition{ID: "p1", LaunchID: "l1", Status: domain.PositionActive}
	hub.Publish(NewPositionUpdated(pos, "harvest"))

	for _, sub := range []*Subscription{a, b} {
		e := recvEvent(t, sub)
		upd, ok := e.(PositionUpdated)
		require.True(t, ok)
		assert.Equal(t, "harvest", upd.Action)
	}
}

func TestHubSlowSubscriberDropsNotBlocks(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe(LaunchTopic("l1"))
	defer sub.Close()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(NewLaunchProgress("l1", "j1", "finalize", i*10))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	stats := hub.Stats()
	assert.Equal(t, int64(10), stats.Published)
	assert.Equal(t, int64(1), stats.Delivered)
	assert.Equal(t, int64(9), stats.Dropped)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	sub := hub.Subscribe(TokenTopic("mint1"))
	sub.Close()
	sub.Close() // double close is safe

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, hub.Stats().Topics)
}

func TestRiskAlertTopicKeyedByToken(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	sub := hub.Subscribe(TokenTopic("mintX"))
	defer sub.Close()

	alert := &domain.RiskAlert{
		LaunchID: "l1", TokenMint: "mintX",
		Type: domain.AlertHighRisk, Severity: domain.SeverityHigh,
		Message: "composite risk 6.5", Confidence: 0.92,
	}
	hub.Publish(NewRiskAlertRaised(alert))

	e := recvEvent(t, sub)
	raised, ok := e.(RiskAlertRaised)
	require.True(t, ok)
	assert.Equal(t, domain.AlertHighRisk, raised.AlertType)
	assert.Equal(t, 0.92, raised.Confidence)
}
