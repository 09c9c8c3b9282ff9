package notifier

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	alerts      []ConnectivityAlert
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendConnectivityAlert(alert ConnectivityAlert) {
	m.alerts = append(m.alerts, alert)
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, nil, mock2, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}

	// Must not panic with nothing registered.
	mn.SendConnectivityAlert(ConnectivityAlert{Kind: AlertKindDegraded})
	if err := mn.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMultiNotifier_SendConnectivityAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	mn.SendConnectivityAlert(ConnectivityAlert{
		Kind:       AlertKindDegraded,
		Endpoint:   "/api/bot/status",
		Channel:    "poll",
		RetryCount: 3,
		MaxRetries: 3,
	})

	if len(mock1.alerts) != 1 || len(mock2.alerts) != 1 {
		t.Fatalf("expected 1 alert each, got %d and %d", len(mock1.alerts), len(mock2.alerts))
	}
	if mock1.alerts[0].Kind != AlertKindDegraded {
		t.Errorf("unexpected kind: %s", mock1.alerts[0].Kind)
	}
}

func TestMultiNotifier_Close(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{closeErr: errors.New("close failed")}

	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()
	if err == nil || err.Error() != "close failed" {
		t.Errorf("expected close error, got %v", err)
	}
	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected every notifier to be closed")
	}
}

func TestAlertKindTitle(t *testing.T) {
	kinds := []AlertKind{AlertKindDegraded, AlertKindRecovered, AlertKindPushLost, AlertKindPushRestored}
	seen := map[string]bool{}
	for _, k := range kinds {
		title := k.Title()
		if title == "" || seen[title] {
			t.Errorf("expected distinct title for %s, got %q", k, title)
		}
		seen[title] = true
	}
	if AlertKind("other").Title() != "Connectivity changed" {
		t.Error("unexpected fallback title")
	}
}

func TestLastSuccessText(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	never := ConnectivityAlert{Timestamp: now}
	if never.LastSuccessText() != "never" {
		t.Errorf("unexpected text: %s", never.LastSuccessText())
	}

	alert := ConnectivityAlert{Timestamp: now, LastSuccessAt: now.Add(-90 * time.Second)}
	text := alert.LastSuccessText()
	if !strings.HasPrefix(text, "2024-05-01T11:58:30Z") || !strings.Contains(text, "1m30s ago") {
		t.Errorf("unexpected text: %s", text)
	}
}
