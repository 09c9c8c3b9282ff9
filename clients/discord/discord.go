package discord

import (
	"botwatch/clients/notifier"
	"botwatch/config"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorRed    = 0xE74C3C
	colorGreen  = 0x2ECC71
	colorOrange = 0xE67E22
	colorBlue   = 0x3498DB
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.ChannelID()

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// Enabled reports whether alerts will actually be sent.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendConnectivityAlert sends an embed describing the connectivity change.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendConnectivityAlert(alert notifier.ConnectivityAlert) {
	if !dc.Enabled() {
		dc.logger.Debug("discord not configured, skipping alert")
		return
	}

	embed := buildConnectivityEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord connectivity alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("endpoint", alert.Endpoint),
	)
}

func buildConnectivityEmbed(alert notifier.ConnectivityAlert) *discordgo.MessageEmbed {
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Channel",
			Value:  alert.Channel,
			Inline: true,
		},
		{
			Name:   "Phase",
			Value:  alert.Phase,
			Inline: true,
		},
		{
			Name:   "Retries",
			Value:  fmt.Sprintf("%d/%d", alert.RetryCount, alert.MaxRetries),
			Inline: true,
		},
		{
			Name:   "Last Success",
			Value:  alert.LastSuccessText(),
			Inline: false,
		},
	}

	description := "Endpoint: `" + alert.Endpoint + "`"

	return &discordgo.MessageEmbed{
		Title:       kindEmoji(alert.Kind) + " " + alert.Kind.Title(),
		Description: description,
		Color:       kindColor(alert.Kind),
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("botwatch * %s", ts.UTC().Format("1/2/2006, 3:04:05PM (MST)")),
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func kindColor(k notifier.AlertKind) int {
	switch k {
	case notifier.AlertKindDegraded:
		return colorRed
	case notifier.AlertKindRecovered:
		return colorGreen
	case notifier.AlertKindPushLost:
		return colorOrange
	default:
		return colorBlue
	}
}

func kindEmoji(k notifier.AlertKind) string {
	switch k {
	case notifier.AlertKindDegraded:
		return "🚨"
	case notifier.AlertKindRecovered:
		return "✅"
	case notifier.AlertKindPushLost:
		return "⚠️"
	default:
		return "🔌"
	}
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
