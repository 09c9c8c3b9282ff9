package app

import (
	"botwatch/internal/connectivity"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 16

// HubMessage is the frame written to websocket subscribers.
type HubMessage struct {
	Type string `json:"type"` // "state" or "transition"
	Data any    `json:"data"`
}

type subscriber struct {
	id string
	ch chan []byte
}

// Hub fans encoded messages out to websocket subscribers. A subscriber whose
// buffer is full is dropped and its channel closed.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		subs:   make(map[string]*subscriber),
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// subscriber is removed, dropped, or the hub closes. ok is false once the hub
// has closed.
func (h *Hub) Subscribe() (id string, ch <-chan []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	s := &subscriber{
		id: uuid.NewString(),
		ch: make(chan []byte, h.buffer),
	}
	h.subs[s.id] = s
	return s.id, s.ch, true
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Broadcast encodes msg once and queues it for every subscriber.
func (h *Hub) Broadcast(msg HubMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode hub message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		select {
		case s.ch <- data:
		default:
			delete(h.subs, id)
			close(s.ch)
			h.logger.Warn("dropping slow websocket subscriber", zap.String("id", shortID(id)))
		}
	}
}

// OnTransition is registered as a coordinator status listener.
func (h *Hub) OnTransition(t connectivity.Transition) {
	h.Broadcast(HubMessage{Type: "transition", Data: t})
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
