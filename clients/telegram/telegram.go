package telegram

import (
	"botwatch/clients/notifier"
	"botwatch/config"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiBase  string
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.ChatID()

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger:  logger,
			apiBase: defaultAPIBase,
			chatID:  chatID,
			isProd:  cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		apiBase:  defaultAPIBase,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendConnectivityAlert sends a connectivity alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendConnectivityAlert(alert notifier.ConnectivityAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	message := buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram connectivity alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("endpoint", alert.Endpoint),
	)
}

func buildAlertMessage(alert notifier.ConnectivityAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alert.Kind.Title())))
	sb.WriteString(fmt.Sprintf("*Endpoint:* %s\n", escapeMarkdown(alert.Endpoint)))
	sb.WriteString(fmt.Sprintf("*Channel:* %s\n", escapeMarkdown(alert.Channel)))
	sb.WriteString(fmt.Sprintf("*Phase:* %s\n", escapeMarkdown(alert.Phase)))
	sb.WriteString(fmt.Sprintf("*Retries:* %d/%d\n", alert.RetryCount, alert.MaxRetries))
	sb.WriteString(fmt.Sprintf("*Last success:* %s\n", escapeMarkdown(alert.LastSuccessText())))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
