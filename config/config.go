package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Bot backend REST API
	Bot BotConfig `json:"bot"`

	// Push channel (websocket)
	Push PushConfig `json:"push"`

	// Polling and retry behaviour
	Connectivity ConnectivityConfig `json:"connectivity"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`

	// Logging
	Logging LoggingConfig `json:"logging"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// BotConfig describes the watched backend's REST API.
type BotConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"-"` // Excluded - env var only
	StatusEndpoint string        `json:"status_endpoint"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// PushConfig describes the backend's websocket push channel.
type PushConfig struct {
	Enabled       bool          `json:"enabled"` // If false, poll only
	URL           string        `json:"url"`
	PingInterval  time.Duration `json:"ping_interval"`
	ReconnectBase time.Duration `json:"reconnect_base"` // Initial redial backoff
	ReconnectMax  time.Duration `json:"reconnect_max"`  // Redial backoff ceiling
}

// ConnectivityConfig controls polling and retry-with-cap.
type ConnectivityConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	RetryDelay   time.Duration `json:"retry_delay"`
	MaxRetries   int           `json:"max_retries"` // Failures before giving up automatic retry
}

type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// LoggingConfig controls the process logger. File is optional; when set,
// logs are also written to a rotating file.
type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config, omitting secrets.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON overlays JSON onto base (Defaults when nil).
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Bot: BotConfig{
			BaseURL:        "http://localhost:8000",
			StatusEndpoint: "/api/bot/status",
			RequestTimeout: 10 * time.Second,
		},
		Push: PushConfig{
			Enabled:       true,
			PingInterval:  30 * time.Second,
			ReconnectBase: 1 * time.Second,
			ReconnectMax:  30 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			PollInterval: 5 * time.Second,
			RetryDelay:   2 * time.Second,
			MaxRetries:   3,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from the environment. Variables from an optional
// .env file in the working directory are applied first without overriding
// variables that are already set.
func Load() *Config {
	_ = godotenv.Load()
	return fromEnv()
}

// Reload is like Load but lets the .env file override the environment, so
// edits to it take effect on SIGHUP.
func Reload() *Config {
	_ = godotenv.Overload()
	return fromEnv()
}

func fromEnv() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Bot: BotConfig{
			BaseURL:        strings.TrimRight(envString("BOT_API_URL", "http://localhost:8000"), "/"),
			APIKey:         envString("BOT_API_KEY", ""),
			StatusEndpoint: envString("BOT_STATUS_ENDPOINT", "/api/bot/status"),
			RequestTimeout: envDuration("REQUEST_TIMEOUT", 10*time.Second),
		},

		Push: PushConfig{
			Enabled:       envBoolDefault("USE_PUSH", true),
			URL:           envString("BOT_PUSH_URL", ""),
			PingInterval:  envDuration("PUSH_PING_INTERVAL", 30*time.Second),
			ReconnectBase: envDuration("PUSH_RECONNECT_BASE", 1*time.Second),
			ReconnectMax:  envDuration("PUSH_RECONNECT_MAX", 30*time.Second),
		},

		Connectivity: ConnectivityConfig{
			PollInterval: envDuration("POLL_INTERVAL", 5*time.Second),
			RetryDelay:   envDuration("RETRY_DELAY", 2*time.Second),
			MaxRetries:   envInt("MAX_RETRIES", 3),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},

		Logging: LoggingConfig{
			Level:      strings.ToLower(envString("LOG_LEVEL", "info")),
			File:       envString("LOG_FILE", ""),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 28),
		},
	}
}

// ChannelID returns the Discord channel for the current stage.
func (c *Config) ChannelID() string {
	if c.IsProd {
		return c.Discord.ProdChannelID
	}
	return c.Discord.BetaChannelID
}

// ChatID returns the Telegram chat for the current stage.
func (c *Config) ChatID() string {
	if c.IsProd {
		return c.Telegram.ProdChatID
	}
	return c.Telegram.BetaChatID
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
