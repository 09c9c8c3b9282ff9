package clients

import (
	"botwatch/clients/discord"
	"botwatch/clients/notifier"
	"botwatch/clients/pushchannel"
	"botwatch/clients/statusapi"
	"botwatch/clients/telegram"
	"botwatch/config"
	"botwatch/internal/connectivity"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord   *discord.DiscordClient
	Telegram  *telegram.TelegramClient
	Notifier  notifier.Notifier // Combined notifier for all channels
	StatusAPI *statusapi.StatusAPIClient

	// PushFactory is nil when push is disabled; the coordinator then polls.
	PushFactory connectivity.PushChannelFactory
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	c := &Clients{
		Logger:    logger,
		Discord:   discordClient,
		Telegram:  telegramClient,
		Notifier:  multiNotifier,
		StatusAPI: statusapi.NewStatusAPIClient(logger, cfg),
	}

	// Only build a push factory if configured to use it
	if cfg.Push.Enabled {
		c.PushFactory = pushchannel.Factory(logger, cfg)
	}

	return c
}

// Close releases notifier resources.
func (c *Clients) Close() error {
	if c.Notifier == nil {
		return nil
	}
	return c.Notifier.Close()
}
