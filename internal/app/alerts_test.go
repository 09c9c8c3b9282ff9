package app

import (
	"botwatch/clients/notifier"
	"botwatch/internal/connectivity"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func state(ch connectivity.Channel, phase connectivity.Phase, connected bool, retries int) connectivity.State {
	return connectivity.State{
		Channel:     ch,
		Phase:       phase,
		IsConnected: connected,
		RetryCount:  retries,
		MaxRetries:  3,
	}
}

func TestClassifyTransition(t *testing.T) {
	pushUp := state(connectivity.ChannelPush, connectivity.PhasePushActive, true, 0)
	pollUp := state(connectivity.ChannelPoll, connectivity.PhasePollActive, true, 0)
	pollDown := state(connectivity.ChannelPoll, connectivity.PhasePollActive, false, 0)
	degraded := state(connectivity.ChannelPoll, connectivity.PhaseDegraded, false, 3)
	initial := state(connectivity.ChannelUnknown, connectivity.PhaseInit, false, 0)

	tests := []struct {
		name     string
		from, to connectivity.State
		want     notifier.AlertKind
		alert    bool
	}{
		{"poll to degraded", pollUp, degraded, notifier.AlertKindDegraded, true},
		{"push to degraded", pushUp, degraded, notifier.AlertKindDegraded, true},
		{"degraded to poll", degraded, pollUp, notifier.AlertKindRecovered, true},
		{"degraded to push", degraded, pushUp, notifier.AlertKindRecovered, true},
		{"push lost", pushUp, pollDown, notifier.AlertKindPushLost, true},
		{"push restored", pollUp, pushUp, notifier.AlertKindPushRestored, true},
		{"first push connect", initial, pushUp, "", false},
		{"first poll", initial, pollDown, "", false},
		{"poll reconnects", pollDown, pollUp, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := classifyTransition(connectivity.Transition{From: tt.from, To: tt.to})
			assert.Equal(t, tt.alert, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestAlertDispatcher_SendsAlerts(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewAlertDispatcher(zap.NewNop(), rec, "/api/bot/status")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	degraded := state(connectivity.ChannelPoll, connectivity.PhaseDegraded, false, 3)
	degraded.LastSuccessAt = now.Add(-time.Minute)

	d.OnTransition(connectivity.Transition{
		From: state(connectivity.ChannelPoll, connectivity.PhasePollActive, true, 0),
		To:   degraded,
	})
	// No alert for a plain reconnect.
	d.OnTransition(connectivity.Transition{
		From: state(connectivity.ChannelPoll, connectivity.PhasePollActive, false, 1),
		To:   state(connectivity.ChannelPoll, connectivity.PhasePollActive, true, 0),
	})

	require.Eventually(t, func() bool { return d.Sent() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	alerts := rec.Alerts()
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, notifier.AlertKindDegraded, a.Kind)
	assert.Equal(t, "/api/bot/status", a.Endpoint)
	assert.Equal(t, "poll", a.Channel)
	assert.Equal(t, "degraded", a.Phase)
	assert.Equal(t, 3, a.RetryCount)
	assert.Equal(t, 3, a.MaxRetries)
	assert.Equal(t, now.Add(-time.Minute), a.LastSuccessAt)
	assert.Equal(t, now, a.Timestamp)
}

func TestAlertDispatcher_DropsWhenQueueFull(t *testing.T) {
	d := NewAlertDispatcher(nil, &recordingNotifier{}, "/api/status")
	tr := connectivity.Transition{
		From: state(connectivity.ChannelPush, connectivity.PhasePushActive, true, 0),
		To:   state(connectivity.ChannelPoll, connectivity.PhasePollActive, false, 0),
	}

	for i := 0; i < alertQueueSize+2; i++ {
		d.OnTransition(tr)
	}

	assert.Equal(t, uint64(2), d.Dropped())
	assert.Equal(t, uint64(0), d.Sent())
}

func TestAlertDispatcher_NilNotifier(t *testing.T) {
	d := NewAlertDispatcher(nil, nil, "/api/status")
	d.OnTransition(connectivity.Transition{
		From: state(connectivity.ChannelPoll, connectivity.PhasePollActive, true, 0),
		To:   state(connectivity.ChannelPoll, connectivity.PhaseDegraded, false, 3),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(0), d.Sent())
}
