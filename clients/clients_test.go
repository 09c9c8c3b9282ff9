package clients

import (
	"botwatch/config"
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.ProdChannelID = "prod"
	cfg.Discord.BetaChannelID = "beta"
	cfg.Push.Enabled = true
	cfg.Push.URL = ""

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
	if clients.Telegram == nil {
		t.Error("expected Telegram client to be set")
	}
	if clients.StatusAPI == nil {
		t.Error("expected StatusAPI client to be set")
	}
	if clients.PushFactory == nil {
		t.Fatal("expected PushFactory to be set when push is enabled")
	}

	// Without a push URL the factory reports no push capability.
	if _, err := clients.PushFactory(context.Background()); err == nil {
		t.Error("expected factory error without push URL")
	}

	if err := clients.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNewClients_PollingMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Push.Enabled = false
	cfg.Push.URL = "wss://bot.example.com/ws"

	clients := NewClients(zap.NewNop(), cfg)

	if clients.PushFactory != nil {
		t.Error("expected no PushFactory when push is disabled")
	}
}
