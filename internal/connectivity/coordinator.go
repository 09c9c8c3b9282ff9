package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRetryDelay     = 2 * time.Second
	DefaultMaxRetries     = 3
	DefaultRequestTimeout = 10 * time.Second
)

var errInvalidBody = errors.New("response body is not valid JSON")

// Config holds the coordinator's timing and retry settings.
type Config struct {
	PollInterval   time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when none are provided.
func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		RetryDelay:     DefaultRetryDelay,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	return c
}

// StatusListener receives state transitions.
type StatusListener func(Transition)

// UpdateListener receives every successful payload from either channel.
type UpdateListener func(Update)

type listenerEntry[T any] struct {
	id uint64
	fn T
}

type delivery struct {
	transition *Transition
	update     *Update
}

// Coordinator owns the connection state for one backend. It prefers the push
// channel and falls back to polling the status endpoint when push is
// unavailable or drops.
type Coordinator struct {
	fetcher StatusFetcher
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	cfg         Config
	state       State
	endpoint    string
	latest      Update
	hasLatest   bool
	initialized bool
	closed      bool
	push        PushChannel

	pollCancel context.CancelFunc
	pollTicker *time.Ticker

	retryTimer *time.Timer
	retryGen   uint64

	// Every request and push event takes a sequence number; responses older
	// than appliedSeq are discarded.
	nextSeq    uint64
	appliedSeq uint64

	pending  []delivery
	draining bool

	inFlight atomic.Bool

	listenerMu      sync.Mutex
	nextListenerID  uint64
	statusListeners []listenerEntry[StatusListener]
	updateListeners []listenerEntry[UpdateListener]

	checks           atomic.Uint64
	failures         atomic.Uint64
	skippedTicks     atomic.Uint64
	staleDiscarded   atomic.Uint64
	retriesScheduled atomic.Uint64
	pollStarts       atomic.Uint64
	pushEvents       atomic.Uint64
	pushMessages     atomic.Uint64
}

// New creates a coordinator in the INIT phase. Nothing runs until Initialize
// or StartPolling is called.
func New(cfg Config, fetcher StatusFetcher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		state: State{
			Channel:    ChannelUnknown,
			Phase:      PhaseInit,
			MaxRetries: cfg.MaxRetries,
		},
	}
}

// Initialize records the status endpoint and attempts to construct the push
// channel. Without a factory, or when the factory fails, the coordinator
// switches to polling immediately. Cancelling ctx stops all background work
// but does not close the push channel; call Close for that.
func (c *Coordinator) Initialize(ctx context.Context, factory PushChannelFactory, statusEndpoint string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.initialized = true
	c.endpoint = statusEndpoint
	c.mu.Unlock()

	context.AfterFunc(ctx, c.cancel)

	if factory == nil {
		c.logger.Info("no push channel configured, using polling",
			zap.String("endpoint", statusEndpoint))
		c.fallBackToPolling()
		return nil
	}

	push, err := factory(c.ctx)
	if err != nil {
		c.logger.Warn("push channel unavailable, falling back to polling",
			zap.String("endpoint", statusEndpoint),
			zap.Error(err))
		c.fallBackToPolling()
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = push.Close()
		return ErrClosed
	}
	c.push = push
	c.wg.Add(1)
	c.mu.Unlock()

	go c.consumePush(push)
	return nil
}

// CheckStatus performs one status request and applies the outcome to the
// connection state. It is not subject to the in-flight guard.
func (c *Coordinator) CheckStatus(ctx context.Context) (json.RawMessage, error) {
	return c.check(ctx, "check")
}

// Refresh is the manual refresh entry point. It runs even when the
// coordinator is degraded, and a success there clears the degraded state.
// Automatic retries are not re-armed by a failed refresh.
func (c *Coordinator) Refresh(ctx context.Context) (json.RawMessage, error) {
	return c.check(ctx, "manual")
}

// StartPolling starts the poll loop. The first check runs immediately. A
// second call while the loop is running is a no-op. A non-positive interval
// uses the configured one.
func (c *Coordinator) StartPolling(interval time.Duration) {
	c.mu.Lock()
	if c.closed || c.pollCancel != nil {
		c.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}
	c.cfg.PollInterval = interval

	ctx, cancel := context.WithCancel(c.ctx)
	ticker := time.NewTicker(interval)
	c.pollCancel = cancel
	c.pollTicker = ticker
	c.wg.Add(1)
	endpoint := c.endpoint
	c.mu.Unlock()

	c.pollStarts.Add(1)
	c.logger.Info("polling started",
		zap.String("endpoint", endpoint),
		zap.Duration("interval", interval))

	go c.pollLoop(ctx, ticker)
}

// StopPolling stops the poll loop. It does not wait for an in-flight request.
func (c *Coordinator) StopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.pollTicker = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.logger.Info("polling stopped")
}

// SetPollInterval changes the poll interval, resetting a running ticker.
func (c *Coordinator) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.PollInterval == d {
		return
	}
	c.cfg.PollInterval = d
	if c.pollTicker != nil {
		c.pollTicker.Reset(d)
	}
	c.logger.Info("poll interval updated", zap.Duration("interval", d))
}

// SetRetryPolicy changes the retry delay and the retry budget. A non-positive
// delay or a budget below one leaves that setting unchanged. A retry already
// scheduled keeps its old delay. Lowering the budget to the current
// RetryCount degrades the coordinator; raising it above RetryCount leaves
// DEGRADED and schedules a retry.
func (c *Coordinator) SetRetryPolicy(delay time.Duration, maxRetries int) {
	c.mu.Lock()
	changed := false
	if delay > 0 && delay != c.cfg.RetryDelay {
		c.cfg.RetryDelay = delay
		changed = true
	}
	if maxRetries >= 1 && maxRetries != c.cfg.MaxRetries {
		changed = true
		c.cfg.MaxRetries = maxRetries
		c.applyLocked(func(s *State) {
			s.MaxRetries = maxRetries
			if s.RetryCount >= maxRetries {
				s.RetryCount = maxRetries
				s.IsConnected = false
			}
		})
		switch {
		case c.state.Degraded():
			c.cancelRetryLocked()
		case c.state.RetryCount > 0:
			c.scheduleRetryLocked()
		}
	}
	delay, maxRetries = c.cfg.RetryDelay, c.cfg.MaxRetries
	c.mu.Unlock()
	c.drain()

	if !changed {
		return
	}
	c.logger.Info("retry policy updated",
		zap.Duration("retryDelay", delay),
		zap.Int("maxRetries", maxRetries))
}

// SetRequestTimeout changes the per-request timeout for later checks. Zero
// disables it; negative values are ignored.
func (c *Coordinator) SetRequestTimeout(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.RequestTimeout == d {
		return
	}
	c.cfg.RequestTimeout = d
	c.logger.Info("request timeout updated", zap.Duration("timeout", d))
}

// RetryPolicy returns the current retry delay and retry budget.
func (c *Coordinator) RetryPolicy() (time.Duration, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.RetryDelay, c.cfg.MaxRetries
}

// Polling reports whether the poll loop is running.
func (c *Coordinator) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollCancel != nil
}

// RetryPending reports whether an automatic retry is scheduled.
func (c *Coordinator) RetryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryTimer != nil
}

// OnStatusChange registers a listener called whenever IsConnected, Channel or
// Phase changes. Listeners run in registration order. The returned function
// removes the listener.
func (c *Coordinator) OnStatusChange(fn StatusListener) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.statusListeners = append(c.statusListeners, listenerEntry[StatusListener]{id: id, fn: fn})

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		c.statusListeners = removeListener(c.statusListeners, id)
	}
}

// OnUpdate registers a payload listener. The returned function removes it.
func (c *Coordinator) OnUpdate(fn UpdateListener) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.updateListeners = append(c.updateListeners, listenerEntry[UpdateListener]{id: id, fn: fn})

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		c.updateListeners = removeListener(c.updateListeners, id)
	}
}

func removeListener[T any](entries []listenerEntry[T], id uint64) []listenerEntry[T] {
	out := make([]listenerEntry[T], 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// State returns a snapshot of the connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the status endpoint passed to Initialize.
func (c *Coordinator) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Latest returns the most recent successful payload.
func (c *Coordinator) Latest() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.hasLatest
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Checks:           c.checks.Load(),
		Failures:         c.failures.Load(),
		SkippedTicks:     c.skippedTicks.Load(),
		StaleDiscarded:   c.staleDiscarded.Load(),
		RetriesScheduled: c.retriesScheduled.Load(),
		PollStarts:       c.pollStarts.Load(),
		PushEvents:       c.pushEvents.Load(),
		PushMessages:     c.pushMessages.Load(),
	}
}

// Close stops polling, cancels any pending retry, closes the push channel and
// waits for background goroutines to exit.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelRetryLocked()
	pollCancel := c.pollCancel
	c.pollCancel = nil
	c.pollTicker = nil
	push := c.push
	c.mu.Unlock()

	if pollCancel != nil {
		pollCancel()
	}
	c.cancel()

	var err error
	if push != nil {
		err = push.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Coordinator) fallBackToPolling() {
	c.mu.Lock()
	c.applyLocked(func(s *State) {
		s.Channel = ChannelPoll
	})
	interval := c.cfg.PollInterval
	c.mu.Unlock()

	c.drain()
	c.StartPolling(interval)
}

func (c *Coordinator) pollLoop(ctx context.Context, ticker *time.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	c.tick()
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.pollTicker == ticker {
				c.pollCancel = nil
				c.pollTicker = nil
			}
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick starts a guarded check unless one is already outstanding.
func (c *Coordinator) tick() {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.skippedTicks.Add(1)
		c.logger.Debug("skipping poll tick, request in flight")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inFlight.Store(false)
		_, _ = c.check(c.ctx, "poll")
	}()
}

func (c *Coordinator) check(ctx context.Context, trigger string) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextSeq++
	seq := c.nextSeq
	endpoint := c.endpoint
	timeout := c.cfg.RequestTimeout
	c.mu.Unlock()

	c.checks.Add(1)

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := c.fetcher.FetchStatus(reqCtx, endpoint)
	if err == nil && !json.Valid(body) {
		err = errInvalidBody
	}
	at := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding status response after close",
			zap.String("trigger", trigger),
			zap.Uint64("seq", seq))
		return nil, ErrClosed
	}
	if err != nil && ctx.Err() != nil {
		// Caller cancellation is not a backend failure.
		c.mu.Unlock()
		c.logger.Debug("status check abandoned by caller",
			zap.String("trigger", trigger),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
	}
	if seq < c.appliedSeq {
		c.mu.Unlock()
		c.staleDiscarded.Add(1)
		c.logger.Debug("discarding stale status response",
			zap.String("trigger", trigger),
			zap.Uint64("seq", seq))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContactFailed, err)
		}
		return body, nil
	}
	c.appliedSeq = seq

	if err != nil {
		return nil, c.recordFailureLocked(trigger, endpoint, err)
	}

	c.recordSuccessLocked(at)
	c.recordUpdateLocked(Update{Source: ChannelPoll, Body: body, ReceivedAt: at})
	c.mu.Unlock()
	c.drain()

	c.logger.Debug("status check succeeded",
		zap.String("trigger", trigger),
		zap.String("endpoint", endpoint))
	return body, nil
}

// recordFailureLocked applies a failed contact and releases c.mu.
func (c *Coordinator) recordFailureLocked(trigger, endpoint string, cause error) error {
	c.failures.Add(1)
	c.applyLocked(func(s *State) {
		if s.RetryCount < s.MaxRetries {
			s.RetryCount++
		}
		if s.RetryCount >= s.MaxRetries {
			s.IsConnected = false
		}
	})

	degraded := c.state.RetryCount >= c.state.MaxRetries
	if degraded {
		c.cancelRetryLocked()
	} else {
		c.scheduleRetryLocked()
	}
	retries, maxRetries := c.state.RetryCount, c.state.MaxRetries
	c.mu.Unlock()
	c.drain()

	err := fmt.Errorf("%w: %w", ErrContactFailed, cause)
	if degraded {
		c.logger.Error("status check failed, retries exhausted",
			zap.String("trigger", trigger),
			zap.String("endpoint", endpoint),
			zap.Int("retryCount", retries),
			zap.Int("maxRetries", maxRetries),
			zap.Error(cause))
		return fmt.Errorf("%w: %w", ErrDegraded, err)
	}

	c.logger.Warn("status check failed",
		zap.String("trigger", trigger),
		zap.String("endpoint", endpoint),
		zap.Int("retryCount", retries),
		zap.Int("maxRetries", maxRetries),
		zap.Error(cause))
	return err
}

func (c *Coordinator) recordSuccessLocked(at time.Time) {
	c.cancelRetryLocked()
	c.applyLocked(func(s *State) {
		s.IsConnected = true
		s.RetryCount = 0
		s.LastSuccessAt = at
	})
}

func (c *Coordinator) recordUpdateLocked(u Update) {
	c.latest = u
	c.hasLatest = true
	c.pending = append(c.pending, delivery{update: &u})
}

// applyLocked mutates the state, re-derives the phase and queues a transition
// when the change is observable.
func (c *Coordinator) applyLocked(fn func(*State)) {
	prev := c.state
	fn(&c.state)
	c.state.Phase = c.state.derivePhase()
	if prev.observablyDifferent(c.state) {
		c.pending = append(c.pending, delivery{transition: &Transition{From: prev, To: c.state}})
	}
}

func (c *Coordinator) scheduleRetryLocked() {
	if c.closed || c.retryTimer != nil {
		return
	}
	c.retryGen++
	gen := c.retryGen
	delay := c.cfg.RetryDelay
	c.retryTimer = time.AfterFunc(delay, func() { c.runRetry(gen) })
	c.retriesScheduled.Add(1)
	c.logger.Debug("retry scheduled", zap.Duration("delay", delay))
}

func (c *Coordinator) cancelRetryLocked() {
	if c.retryTimer == nil {
		return
	}
	c.retryTimer.Stop()
	c.retryTimer = nil
	c.retryGen++
}

func (c *Coordinator) runRetry(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.retryGen {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if !c.inFlight.CompareAndSwap(false, true) {
		c.skippedTicks.Add(1)
		c.logger.Debug("skipping retry, request in flight")
		return
	}
	defer c.inFlight.Store(false)
	_, _ = c.check(c.ctx, "retry")
}

func (c *Coordinator) consumePush(push PushChannel) {
	defer c.wg.Done()

	events := push.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("push channel event stream ended")
				c.handlePushEvent(PushEvent{Kind: PushDisconnect, At: c.now()})
				return
			}
			c.handlePushEvent(ev)
		}
	}
}

func (c *Coordinator) handlePushEvent(ev PushEvent) {
	c.pushEvents.Add(1)
	at := ev.At
	if at.IsZero() {
		at = c.now()
	}

	switch ev.Kind {
	case PushConnect:
		c.mu.Lock()
		c.nextSeq++
		c.appliedSeq = c.nextSeq
		c.cancelRetryLocked()
		c.applyLocked(func(s *State) {
			s.Channel = ChannelPush
			s.IsConnected = true
			s.RetryCount = 0
			s.LastSuccessAt = at
		})
		c.mu.Unlock()
		c.drain()
		c.StopPolling()
		c.logger.Info("push channel connected")

	case PushDisconnect:
		c.mu.Lock()
		if c.state.Channel != ChannelPush {
			c.mu.Unlock()
			c.logger.Debug("push disconnect ignored, not on push channel", zap.Error(ev.Err))
			return
		}
		c.nextSeq++
		c.appliedSeq = c.nextSeq
		c.applyLocked(func(s *State) {
			s.Channel = ChannelPoll
			s.IsConnected = false
		})
		interval := c.cfg.PollInterval
		c.mu.Unlock()
		c.drain()
		c.logger.Warn("push channel disconnected, falling back to polling", zap.Error(ev.Err))
		c.StartPolling(interval)

	case PushConnectError:
		c.mu.Lock()
		if c.state.Channel != ChannelUnknown {
			c.mu.Unlock()
			c.logger.Debug("push connect error", zap.Error(ev.Err))
			return
		}
		c.mu.Unlock()
		c.logger.Warn("push channel failed to connect, falling back to polling", zap.Error(ev.Err))
		c.fallBackToPolling()

	case PushMessage:
		c.pushMessages.Add(1)
		if !json.Valid(ev.Payload) {
			c.logger.Debug("dropping push message with invalid JSON payload")
			return
		}
		c.mu.Lock()
		c.nextSeq++
		c.appliedSeq = c.nextSeq
		c.recordSuccessLocked(at)
		c.recordUpdateLocked(Update{Source: ChannelPush, Body: ev.Payload, ReceivedAt: at})
		c.mu.Unlock()
		c.drain()

	default:
		c.logger.Debug("unknown push event", zap.Int("kind", int(ev.Kind)))
	}
}

// drain delivers queued notifications. Only one goroutine drains at a time;
// notifications queued by a listener are delivered after the current one, in
// order, by the goroutine already draining.
func (c *Coordinator) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, d := range batch {
			c.deliver(d)
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Coordinator) deliver(d delivery) {
	c.listenerMu.Lock()
	statusListeners := append([]listenerEntry[StatusListener](nil), c.statusListeners...)
	updateListeners := append([]listenerEntry[UpdateListener](nil), c.updateListeners...)
	c.listenerMu.Unlock()

	if d.transition != nil {
		for _, l := range statusListeners {
			c.safeCall(func() { l.fn(*d.transition) })
		}
	}
	if d.update != nil {
		for _, l := range updateListeners {
			c.safeCall(func() { l.fn(*d.update) })
		}
	}
}

func (c *Coordinator) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
