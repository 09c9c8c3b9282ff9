package pushchannel

import (
	"botwatch/config"
	"botwatch/internal/connectivity"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNoPushURL means push is not configured for this environment.
	ErrNoPushURL = errors.New("no push URL configured")

	ErrUnsupportedScheme = errors.New("push URL must use ws or wss")
)

type PushChannelClient struct {
	logger *zap.Logger

	url           string
	header        http.Header
	dialer        *websocket.Dialer
	pingInterval  time.Duration
	reconnectBase time.Duration
	reconnectMax  time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	connID  string

	events chan connectivity.PushEvent

	lifeMu  sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
	reconnects      uint64
}

// NewPushChannelClient creates a client for cfg.Push.URL. It does not dial
// until Start is called.
func NewPushChannelClient(logger *zap.Logger, cfg *config.Config) (*PushChannelClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Push.URL == "" {
		return nil, ErrNoPushURL
	}
	u, err := url.Parse(cfg.Push.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	header := http.Header{}
	if cfg.Bot.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.Bot.APIKey)
	}

	pingInterval := cfg.Push.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	base := cfg.Push.ReconnectBase
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.Push.ReconnectMax
	if maxDelay < base {
		maxDelay = base
	}

	return &PushChannelClient{
		logger:        logger,
		url:           cfg.Push.URL,
		header:        header,
		dialer:        websocket.DefaultDialer,
		pingInterval:  pingInterval,
		reconnectBase: base,
		reconnectMax:  maxDelay,
		events:        make(chan connectivity.PushEvent, 256),
		done:          make(chan struct{}),
	}, nil
}

// Factory returns a connectivity.PushChannelFactory that builds and starts a
// client. It fails when no usable push URL is configured.
func Factory(logger *zap.Logger, cfg *config.Config) connectivity.PushChannelFactory {
	return func(ctx context.Context) (connectivity.PushChannel, error) {
		client, err := NewPushChannelClient(logger, cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Start(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Start launches the connect/read/redial loop. Events are delivered on Events.
func (c *PushChannelClient) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return fmt.Errorf("push channel closed")
	}
	if c.started {
		return fmt.Errorf("push channel already started")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

func (c *PushChannelClient) Events() <-chan connectivity.PushEvent {
	return c.events
}

type Stats struct {
	Connected     bool
	ConnectionID  string
	MessageCount  uint64
	LastMessageAt time.Time
	Reconnects    uint64
}

func (c *PushChannelClient) Stats() Stats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	c.connMu.Lock()
	connected := c.conn != nil
	connID := c.connID
	c.connMu.Unlock()

	return Stats{
		Connected:     connected,
		ConnectionID:  connID,
		MessageCount:  n,
		LastMessageAt: t,
		Reconnects:    atomic.LoadUint64(&c.reconnects),
	}
}

// Close stops the run loop, closes the connection and then the event channel.
// It is safe to call more than once.
func (c *PushChannelClient) Close() error {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.lifeMu.Unlock()

	if !started {
		close(c.events)
		return nil
	}

	cancel()
	err := c.closeConn()
	<-c.done
	return err
}

func (c *PushChannelClient) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectBase
	bo.MaxInterval = c.reconnectMax
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("push channel dial failed", zap.String("url", c.url), zap.Error(err))
			c.emit(ctx, connectivity.PushEvent{Kind: connectivity.PushConnectError, Err: fmt.Errorf("dial push channel: %w", err)})
			if !sleepCtx(ctx, nextDelay(bo, c.reconnectMax)) {
				return
			}
			continue
		}

		bo.Reset()
		connID := uuid.NewString()
		c.setConn(conn, connID)
		if ctx.Err() != nil {
			_ = c.closeConn()
			return
		}
		c.logger.Info("push channel connected", zap.String("url", c.url), zap.String("connId", connID))
		c.emit(ctx, connectivity.PushEvent{Kind: connectivity.PushConnect})

		readErr := c.serve(ctx, conn)
		_ = c.closeConn()

		if ctx.Err() != nil {
			return
		}

		atomic.AddUint64(&c.reconnects, 1)
		c.logger.Warn("push channel disconnected", zap.String("connId", connID), zap.Error(readErr))
		c.emit(ctx, connectivity.PushEvent{Kind: connectivity.PushDisconnect, Err: readErr})

		if !sleepCtx(ctx, nextDelay(bo, c.reconnectMax)) {
			return
		}
	}
}

// serve runs the ping loop and reads until the connection fails.
func (c *PushChannelClient) serve(ctx context.Context, conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(conn, pingDone)
	}()

	err := c.readLoop(ctx, conn)
	close(pingDone)
	wg.Wait()
	return err
}

func (c *PushChannelClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("push channel ping failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (c *PushChannelClient) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		trimmed := bytes.TrimSpace(b)
		if len(trimmed) == 0 {
			continue
		}

		// Keepalive frames.
		if string(trimmed) == "PONG" || string(trimmed) == "PING" {
			continue
		}

		if !json.Valid(trimmed) {
			c.logger.Warn("push channel bad json frame", zap.ByteString("frame", truncate(trimmed, 256)))
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emit(ctx, connectivity.PushEvent{
			Kind:    connectivity.PushMessage,
			Payload: json.RawMessage(append([]byte(nil), trimmed...)),
			At:      time.Now(),
		})
	}
}

// emit delivers ev in order, giving up only when the client is stopping.
func (c *PushChannelClient) emit(ctx context.Context, ev connectivity.PushEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *PushChannelClient) setConn(conn *websocket.Conn, id string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = conn
	c.connID = id
}

func (c *PushChannelClient) closeConn() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connID = ""
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func nextDelay(bo *backoff.ExponentialBackOff, ceiling time.Duration) time.Duration {
	d := bo.NextBackOff()
	if d == backoff.Stop || d > ceiling {
		return ceiling
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
