package app

import (
	clts "botwatch/clients"
	"botwatch/config"
	"botwatch/internal/connectivity"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// LevelSetter changes the process log level on config reload.
type LevelSetter interface {
	SetLevel(level string) error
}

type Runner struct {
	clients    *clts.Clients
	liveConfig *config.LiveConfig
	levels     LevelSetter
	startTime  time.Time

	mu          sync.Mutex
	coordinator *connectivity.Coordinator
	addr        string
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, levels LevelSetter) *Runner {
	return &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		levels:     levels,
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, propagating to components")

	if coord := r.Coordinator(); coord != nil {
		coord.SetPollInterval(cfg.Connectivity.PollInterval)
		coord.SetRetryPolicy(cfg.Connectivity.RetryDelay, cfg.Connectivity.MaxRetries)
		coord.SetRequestTimeout(cfg.Bot.RequestTimeout)
	}
	if r.clients.StatusAPI != nil {
		r.clients.StatusAPI.SetTimeout(cfg.Bot.RequestTimeout)
	}

	if r.levels != nil {
		if err := r.levels.SetLevel(cfg.Logging.Level); err != nil {
			r.clients.Logger.Warn("failed to apply log level", zap.String("level", cfg.Logging.Level), zap.Error(err))
		}
	}
}

// Coordinator returns the running coordinator, or nil before Run.
func (r *Runner) Coordinator() *connectivity.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinator
}

// Addr returns the status server's listen address once it is bound.
func (r *Runner) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Run wires the coordinator to its listeners, starts the status server and
// blocks until ctx is cancelled or a component fails.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	coord := connectivity.New(connectivity.Config{
		PollInterval:   cfg.Connectivity.PollInterval,
		RetryDelay:     cfg.Connectivity.RetryDelay,
		MaxRetries:     cfg.Connectivity.MaxRetries,
		RequestTimeout: cfg.Bot.RequestTimeout,
	}, r.clients.StatusAPI, logger.Named("connectivity"))

	hub := NewHub(logger, defaultSubscriberBuffer)
	alerts := NewAlertDispatcher(logger, r.clients.Notifier, cfg.Bot.StatusEndpoint)

	coord.OnStatusChange(func(t connectivity.Transition) {
		logTransition(logger, t)
	})
	coord.OnStatusChange(alerts.OnTransition)
	coord.OnStatusChange(hub.OnTransition)

	var ln net.Listener
	if cfg.HealthServer.Enabled {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthServer.Port))
		if err != nil {
			_ = coord.Close()
			return fmt.Errorf("listen on port %d: %w", cfg.HealthServer.Port, err)
		}
	}

	r.mu.Lock()
	r.coordinator = coord
	if ln != nil {
		r.addr = ln.Addr().String()
	}
	r.mu.Unlock()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return alerts.Run(gctx)
	})

	if ln != nil {
		server := NewStatusServer(logger, coord, hub, r.startTime)
		g.Go(func() error {
			return server.Serve(gctx, ln)
		})
	}

	if err := coord.Initialize(gctx, r.clients.PushFactory, cfg.Bot.StatusEndpoint); err != nil {
		logger.Error("failed to initialize coordinator", zap.Error(err))
	}

	logger.Info("botwatch running",
		zap.String("endpoint", cfg.Bot.StatusEndpoint),
		zap.Bool("push", r.clients.PushFactory != nil),
		zap.Duration("pollInterval", cfg.Connectivity.PollInterval),
		zap.Int("maxRetries", cfg.Connectivity.MaxRetries),
		zap.String("commit", BuildCommit),
	)

	<-gctx.Done()
	logger.Info("shutting down")

	closeErr := coord.Close()
	hub.Close()
	err := g.Wait()

	return errors.Join(err, closeErr)
}

// logTransition is the status indicator: one log line per observable change.
func logTransition(logger *zap.Logger, t connectivity.Transition) {
	fields := []zap.Field{
		zap.Stringer("from", t.From.Phase),
		zap.Stringer("to", t.To.Phase),
		zap.Stringer("channel", t.To.Channel),
		zap.Bool("connected", t.To.IsConnected),
		zap.Int("retryCount", t.To.RetryCount),
		zap.Int("maxRetries", t.To.MaxRetries),
	}
	if t.To.Degraded() {
		logger.Warn("connectivity degraded, automatic retries stopped", fields...)
		return
	}
	logger.Info("connectivity changed", fields...)
}
