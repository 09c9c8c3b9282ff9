package connectivity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrContactFailed wraps every failed status check (network, non-2xx or bad JSON).
	ErrContactFailed = errors.New("contact failed")

	// ErrDegraded is added to the returned error once retries are exhausted.
	ErrDegraded = errors.New("retries exhausted")

	ErrAlreadyInitialized = errors.New("coordinator already initialized")
	ErrClosed             = errors.New("coordinator closed")
)

// Channel identifies the data-acquisition mode currently in use.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelPush
	ChannelPoll
)

func (c Channel) String() string {
	switch c {
	case ChannelPush:
		return "push"
	case ChannelPoll:
		return "poll"
	default:
		return "unknown"
	}
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unknown":
		*c = ChannelUnknown
	case "push":
		*c = ChannelPush
	case "poll":
		*c = ChannelPoll
	default:
		return fmt.Errorf("unknown channel %q", b)
	}
	return nil
}

// Phase is the coordinator's position in its state machine.
// It is derived from Channel, IsConnected and RetryCount.
type Phase int

const (
	PhaseInit Phase = iota
	PhasePushActive
	PhasePollActive
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhasePushActive:
		return "push_active"
	case PhasePollActive:
		return "poll_active"
	case PhaseDegraded:
		return "degraded"
	default:
		return "init"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "init":
		*p = PhaseInit
	case "push_active":
		*p = PhasePushActive
	case "poll_active":
		*p = PhasePollActive
	case "degraded":
		*p = PhaseDegraded
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// State is a snapshot of the connection state.
type State struct {
	Channel       Channel   `json:"channel"`
	Phase         Phase     `json:"phase"`
	IsConnected   bool      `json:"is_connected"`
	LastSuccessAt time.Time `json:"last_success_at"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
}

// Degraded reports whether automatic retries have been exhausted.
func (s State) Degraded() bool {
	return s.Phase == PhaseDegraded
}

func (s State) derivePhase() Phase {
	if s.MaxRetries > 0 && s.RetryCount >= s.MaxRetries {
		return PhaseDegraded
	}
	switch s.Channel {
	case ChannelPush:
		return PhasePushActive
	case ChannelPoll:
		return PhasePollActive
	default:
		return PhaseInit
	}
}

// observablyDifferent reports whether a listener should hear about the change.
func (s State) observablyDifferent(other State) bool {
	return s.Channel != other.Channel ||
		s.IsConnected != other.IsConnected ||
		s.Phase != other.Phase
}

// Transition is delivered to status listeners.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Update is a successful payload, tagged with the channel that delivered it.
type Update struct {
	Source     Channel         `json:"source"`
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Stats are cumulative counters since the coordinator was created.
type Stats struct {
	Checks           uint64 `json:"checks"`
	Failures         uint64 `json:"failures"`
	SkippedTicks     uint64 `json:"skipped_ticks"`
	StaleDiscarded   uint64 `json:"stale_discarded"`
	RetriesScheduled uint64 `json:"retries_scheduled"`
	PollStarts       uint64 `json:"poll_starts"`
	PushEvents       uint64 `json:"push_events"`
	PushMessages     uint64 `json:"push_messages"`
}
