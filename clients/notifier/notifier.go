package notifier

import (
	"fmt"
	"time"
)

// AlertKind indicates which connectivity change triggered an alert.
type AlertKind string

const (
	AlertKindDegraded     AlertKind = "degraded"      // Retries exhausted
	AlertKindRecovered    AlertKind = "recovered"     // First success after degraded
	AlertKindPushLost     AlertKind = "push_lost"     // Push channel dropped, polling took over
	AlertKindPushRestored AlertKind = "push_restored" // Push channel reconnected
)

// Title returns a short human-readable headline for the kind.
func (k AlertKind) Title() string {
	switch k {
	case AlertKindDegraded:
		return "Bot backend unreachable"
	case AlertKindRecovered:
		return "Bot backend reachable again"
	case AlertKindPushLost:
		return "Live updates lost, polling"
	case AlertKindPushRestored:
		return "Live updates restored"
	default:
		return "Connectivity changed"
	}
}

// ConnectivityAlert contains all the data needed for a connectivity notification.
type ConnectivityAlert struct {
	Kind AlertKind

	// Backend info
	Endpoint string

	// Connection state after the change
	Channel       string // push, poll or unknown
	Phase         string
	RetryCount    int
	MaxRetries    int
	LastSuccessAt time.Time // Zero if never succeeded

	Timestamp time.Time
}

// LastSuccessText formats LastSuccessAt relative to the alert time.
func (a ConnectivityAlert) LastSuccessText() string {
	if a.LastSuccessAt.IsZero() {
		return "never"
	}
	ago := a.Timestamp.Sub(a.LastSuccessAt).Truncate(time.Second)
	if ago < 0 {
		ago = 0
	}
	return fmt.Sprintf("%s (%s ago)", a.LastSuccessAt.UTC().Format(time.RFC3339), ago)
}

// Notifier is the interface for sending connectivity alerts to various channels.
type Notifier interface {
	// SendConnectivityAlert sends a connectivity alert notification.
	SendConnectivityAlert(alert ConnectivityAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendConnectivityAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendConnectivityAlert(alert ConnectivityAlert) {
	for _, n := range m.notifiers {
		n.SendConnectivityAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
