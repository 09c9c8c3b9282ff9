package connectivity

import (
	"context"
	"encoding/json"
	"time"
)

// PushEventKind names a push channel lifecycle event.
type PushEventKind int

const (
	PushConnect PushEventKind = iota + 1
	PushDisconnect
	PushConnectError
	PushMessage
)

func (k PushEventKind) String() string {
	switch k {
	case PushConnect:
		return "connect"
	case PushDisconnect:
		return "disconnect"
	case PushConnectError:
		return "connect_error"
	case PushMessage:
		return "message"
	default:
		return "unknown"
	}
}

// PushEvent is emitted by a PushChannel.
// Err is set for disconnect and connect_error, Payload for message.
type PushEvent struct {
	Kind    PushEventKind
	Err     error
	Payload json.RawMessage
	At      time.Time
}

// PushChannel is a server-to-client event stream.
type PushChannel interface {
	// Events returns the channel's event stream. It is closed after Close.
	Events() <-chan PushEvent

	Close() error
}

// PushChannelFactory constructs a push channel. Returning an error means the
// environment has no usable push capability.
type PushChannelFactory func(ctx context.Context) (PushChannel, error)

// StatusFetcher performs one status request against the backend.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, endpoint string) (json.RawMessage, error)
}

// StatusFetcherFunc adapts a function to StatusFetcher.
type StatusFetcherFunc func(ctx context.Context, endpoint string) (json.RawMessage, error)

func (f StatusFetcherFunc) FetchStatus(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return f(ctx, endpoint)
}
