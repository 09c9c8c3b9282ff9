package app

import (
	"botwatch/clients/notifier"
	"sync"
)

// recordingNotifier captures alerts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notifier.ConnectivityAlert
	closed bool
}

func (n *recordingNotifier) SendConnectivityAlert(alert notifier.ConnectivityAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *recordingNotifier) Alerts() []notifier.ConnectivityAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.ConnectivityAlert(nil), n.alerts...)
}

// fakeLevels records SetLevel calls.
type fakeLevels struct {
	mu     sync.Mutex
	levels []string
}

func (f *fakeLevels) SetLevel(level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
	return nil
}

func (f *fakeLevels) Levels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.levels...)
}
