package main

import (
	clts "botwatch/clients"
	"botwatch/config"
	"botwatch/internal/app"
	"botwatch/internal/logging"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	// Load config from environment variables (and an optional .env)
	envConfig := config.Load()

	logger, err := logging.New(envConfig.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("starting botwatch",
		zap.Bool("isProd", envConfig.IsProd),
		zap.String("commit", app.BuildCommit))

	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("refusing to start with invalid config")
	}

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger.Logger, envConfig)
	defer clients.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// SIGHUP re-reads the environment and .env and applies it live
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info("SIGHUP received, reloading config")
				if err := liveConfig.Reload(config.Reload); err != nil {
					logger.Warn("config reload rejected", zap.Error(err))
				}
			}
		}
	}()

	runner := app.NewRunner(clients, liveConfig, logger)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
		logger.Close()
		os.Exit(1)
	}
}
