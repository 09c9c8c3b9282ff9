package app

import (
	"botwatch/clients/notifier"
	"botwatch/internal/connectivity"
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const alertQueueSize = 32

// AlertDispatcher turns coordinator transitions into notifier alerts.
// Transitions are queued so slow notifiers never hold up the coordinator.
type AlertDispatcher struct {
	logger   *zap.Logger
	notifier notifier.Notifier
	endpoint string
	now      func() time.Time

	queue   chan notifier.ConnectivityAlert
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewAlertDispatcher(logger *zap.Logger, n notifier.Notifier, endpoint string) *AlertDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertDispatcher{
		logger:   logger,
		notifier: n,
		endpoint: endpoint,
		now:      time.Now,
		queue:    make(chan notifier.ConnectivityAlert, alertQueueSize),
	}
}

// OnTransition is registered as a coordinator status listener.
func (d *AlertDispatcher) OnTransition(t connectivity.Transition) {
	kind, ok := classifyTransition(t)
	if !ok {
		return
	}

	alert := notifier.ConnectivityAlert{
		Kind:          kind,
		Endpoint:      d.endpoint,
		Channel:       t.To.Channel.String(),
		Phase:         t.To.Phase.String(),
		RetryCount:    t.To.RetryCount,
		MaxRetries:    t.To.MaxRetries,
		LastSuccessAt: t.To.LastSuccessAt,
		Timestamp:     d.now(),
	}

	select {
	case d.queue <- alert:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alert queue full, dropping alert", zap.String("kind", string(kind)))
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *AlertDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert := <-d.queue:
			if d.notifier == nil {
				continue
			}
			d.logger.Info("sending connectivity alert",
				zap.String("kind", string(alert.Kind)),
				zap.String("phase", alert.Phase),
				zap.Int("retryCount", alert.RetryCount))
			d.notifier.SendConnectivityAlert(alert)
			d.sent.Add(1)
		}
	}
}

// Sent returns how many alerts reached the notifier.
func (d *AlertDispatcher) Sent() uint64 { return d.sent.Load() }

func (d *AlertDispatcher) Dropped() uint64 { return d.dropped.Load() }

// classifyTransition picks the alert for a transition. Degradation changes
// win over channel changes.
func classifyTransition(t connectivity.Transition) (notifier.AlertKind, bool) {
	from, to := t.From, t.To
	switch {
	case !from.Degraded() && to.Degraded():
		return notifier.AlertKindDegraded, true
	case from.Degraded() && !to.Degraded():
		return notifier.AlertKindRecovered, true
	case from.Channel == connectivity.ChannelPush && to.Channel == connectivity.ChannelPoll:
		return notifier.AlertKindPushLost, true
	case from.Channel == connectivity.ChannelPoll && to.Channel == connectivity.ChannelPush:
		return notifier.AlertKindPushRestored, true
	}
	return "", false
}
