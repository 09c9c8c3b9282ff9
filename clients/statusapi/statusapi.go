package statusapi

import (
	"botwatch/config"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Known status endpoints exposed by the bot backend.
const (
	BotStatusPath    = "/api/bot/status"
	SystemStatusPath = "/api/status"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

// ErrInvalidJSON is returned when a 2xx response body is not valid JSON.
var ErrInvalidJSON = errors.New("response is not valid JSON")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

type StatusAPIClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// Per-request timeout in nanoseconds; swapped on config reload.
	timeout atomic.Int64
}

func NewStatusAPIClient(logger *zap.Logger, cfg *config.Config) *StatusAPIClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &StatusAPIClient{
		logger:     logger,
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.Bot.BaseURL, "/"),
		apiKey:     cfg.Bot.APIKey,
	}
	c.SetTimeout(cfg.Bot.RequestTimeout)
	return c
}

// SetTimeout changes the timeout applied to each request. A non-positive
// value restores the 30s default.
func (c *StatusAPIClient) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = 30 * time.Second
	}
	c.timeout.Store(int64(d))
}

func (c *StatusAPIClient) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// FetchStatus GETs endpoint (a path relative to the base URL, or an absolute
// URL) and returns the raw JSON body.
func (c *StatusAPIClient) FetchStatus(ctx context.Context, endpoint string) (json.RawMessage, error) {
	target, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		c.logger.Debug("status request rejected",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}

	return json.RawMessage(body), nil
}

func (c *StatusAPIClient) resolve(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("no base URL configured for endpoint %q", endpoint)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint, nil
}

// ServiceStatusPath returns the status path for a named backend service.
func ServiceStatusPath(name string) string {
	return "/api/services/" + url.PathEscape(name) + "/status"
}

// BotStatus holds the fields common to the backend's status payloads.
type BotStatus struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Mode    string `json:"mode,omitempty"`
	Version string `json:"version,omitempty"`
}

// ParseBotStatus decodes a status payload. "running" may be a bool or a string.
func ParseBotStatus(body []byte) (BotStatus, error) {
	var raw struct {
		Status  string          `json:"status"`
		Running json.RawMessage `json:"running"`
		Mode    string          `json:"mode"`
		Version string          `json:"version"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return BotStatus{}, fmt.Errorf("decode status: %w", err)
	}

	st := BotStatus{
		Status:  raw.Status,
		Mode:    raw.Mode,
		Version: raw.Version,
	}

	if len(raw.Running) > 0 {
		var b bool
		if err := json.Unmarshal(raw.Running, &b); err == nil {
			st.Running = b
		} else {
			var s string
			if err := json.Unmarshal(raw.Running, &s); err != nil {
				return BotStatus{}, fmt.Errorf("decode running: %w", err)
			}
			st.Running, _ = strconv.ParseBool(strings.TrimSpace(s))
		}
	} else {
		st.Running = strings.EqualFold(st.Status, "running")
	}

	return st, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
