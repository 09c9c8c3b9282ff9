package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateBot(&c.Bot)...)
	errors = append(errors, validatePush(&c.Push)...)
	errors = append(errors, validateConnectivity(&c.Connectivity)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)
	errors = append(errors, validateLogging(&c.Logging)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateBot(b *BotConfig) []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(b.BaseURL)
	if b.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "bot.base_url",
			Message: "must be an absolute http or https URL",
		})
	}

	if !strings.HasPrefix(b.StatusEndpoint, "/") {
		errors = append(errors, ValidationError{
			Field:   "bot.status_endpoint",
			Message: "must start with /",
		})
	}

	if b.RequestTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "bot.request_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validatePush(p *PushConfig) []ValidationError {
	var errors []ValidationError

	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "push.url",
				Message: "must be a ws or wss URL",
			})
		}
	}

	if p.PingInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "push.ping_interval",
			Message: "must be at least 1 second",
		})
	}

	if p.ReconnectBase <= 0 {
		errors = append(errors, ValidationError{
			Field:   "push.reconnect_base",
			Message: "must be positive",
		})
	}

	if p.ReconnectMax < p.ReconnectBase {
		errors = append(errors, ValidationError{
			Field:   "push.reconnect_max",
			Message: "must be at least reconnect_base",
		})
	}

	return errors
}

func validateConnectivity(c *ConnectivityConfig) []ValidationError {
	var errors []ValidationError

	if c.PollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "connectivity.poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if c.RetryDelay < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "connectivity.retry_delay",
			Message: "must be at least 100 milliseconds",
		})
	}

	if c.MaxRetries < 1 || c.MaxRetries > 100 {
		errors = append(errors, ValidationError{
			Field:   "connectivity.max_retries",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", c.MaxRetries),
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}

func validateLogging(l *LoggingConfig) []ValidationError {
	var errors []ValidationError

	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	if l.File != "" {
		if l.MaxSizeMB < 1 {
			errors = append(errors, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "must be at least 1",
			})
		}
		if l.MaxBackups < 0 {
			errors = append(errors, ValidationError{
				Field:   "logging.max_backups",
				Message: "must be non-negative",
			})
		}
		if l.MaxAgeDays < 0 {
			errors = append(errors, ValidationError{
				Field:   "logging.max_age_days",
				Message: "must be non-negative",
			})
		}
	}

	return errors
}
