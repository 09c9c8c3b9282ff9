package telegram

import (
	"botwatch/clients/notifier"
	"botwatch/config"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewTelegramClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		IsProd: false,
		Telegram: config.TelegramConfig{
			BotToken:   "",
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(zap.NewNop(), cfg)

	if client.botToken != "" {
		t.Error("expected empty token")
	}
	if client.chatID != "beta-chat" {
		t.Errorf("expected beta chat, got: %s", client.chatID)
	}

	// Disabled client must not attempt a request.
	client.SendConnectivityAlert(notifier.ConnectivityAlert{Kind: notifier.AlertKindDegraded})
}

func TestNewTelegramClient_ProdChat(t *testing.T) {
	cfg := &config.Config{
		IsProd: true,
		Telegram: config.TelegramConfig{
			BotToken:   "token",
			ProdChatID: "prod-chat",
			BetaChatID: "beta-chat",
		},
	}

	client := NewTelegramClient(nil, cfg)

	if client.chatID != "prod-chat" {
		t.Errorf("expected prod chat, got: %s", client.chatID)
	}
	if client.client == nil {
		t.Error("expected http client to be set")
	}
}

func TestSendConnectivityAlert(t *testing.T) {
	var gotPath string
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiBase:  server.URL,
		botToken: "test-token",
		chatID:   "test-chat",
		client:   server.Client(),
	}

	client.SendConnectivityAlert(notifier.ConnectivityAlert{
		Kind:       notifier.AlertKindPushLost,
		Endpoint:   "/api/bot/status",
		Channel:    "poll",
		Phase:      "poll_active",
		MaxRetries: 3,
		Timestamp:  time.Now(),
	})

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if payload["chat_id"] != "test-chat" {
		t.Errorf("unexpected chat id: %v", payload["chat_id"])
	}
	if payload["parse_mode"] != "Markdown" {
		t.Errorf("unexpected parse mode: %v", payload["parse_mode"])
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "Live updates lost") {
		t.Errorf("unexpected text: %s", text)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &TelegramClient{
		logger:   zap.NewNop(),
		apiBase:  server.URL,
		botToken: "test-token",
		chatID:   "test-chat",
		client:   server.Client(),
	}

	if err := client.sendMessage("hello"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestBuildAlertMessage(t *testing.T) {
	msg := buildAlertMessage(notifier.ConnectivityAlert{
		Kind:       notifier.AlertKindDegraded,
		Endpoint:   "/api/bot_status",
		Channel:    "poll",
		Phase:      "degraded",
		RetryCount: 3,
		MaxRetries: 3,
	})

	for _, want := range []string{
		"*Bot backend unreachable*",
		"*Endpoint:* /api/bot\\_status",
		"*Phase:* degraded",
		"*Retries:* 3/3",
		"*Last success:* never",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"poll_active", "poll\\_active"},
		{"*bold*", "\\*bold\\*"},
		{"[link]", "\\[link\\]"},
		{"`code`", "\\`code\\`"},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
