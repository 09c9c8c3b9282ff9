package app

import (
	"botwatch/clients/statusapi"
	"botwatch/internal/connectivity"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	wsWriteWait       = 10 * time.Second
)

// WebSocket upgrader for live state updates
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// coordinatorView is what the status server needs from the coordinator.
type coordinatorView interface {
	State() connectivity.State
	Stats() connectivity.Stats
	Endpoint() string
	Latest() (connectivity.Update, bool)
	Refresh(ctx context.Context) (json.RawMessage, error)
}

// ConnectivityStatus is the body of GET /api/connectivity.
type ConnectivityStatus struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Endpoint    string             `json:"endpoint"`
	State       connectivity.State `json:"state"`
	Stats       connectivity.Stats `json:"stats"`
	Latest      *LatestSummary     `json:"latest,omitempty"`
	Subscribers int                `json:"subscribers"`
}

// LatestSummary describes the last payload without echoing it.
type LatestSummary struct {
	Source     connectivity.Channel `json:"source"`
	ReceivedAt time.Time            `json:"received_at"`
	Bytes      int                  `json:"bytes"`
	Bot        *statusapi.BotStatus `json:"bot,omitempty"` // Nil if the payload isn't a status document
}

// StatusServer serves health, connectivity state, manual refresh, the live
// websocket feed and Prometheus metrics.
type StatusServer struct {
	logger    *zap.Logger
	coord     coordinatorView
	hub       *Hub
	registry  *prometheus.Registry
	startTime time.Time
}

func NewStatusServer(logger *zap.Logger, coord coordinatorView, hub *Hub, startTime time.Time) *StatusServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusServer{
		logger:    logger,
		coord:     coord,
		hub:       hub,
		registry:  newMetricsRegistry(coord),
		startTime: startTime,
	}
}

// Routes builds the router.
func (s *StatusServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/connectivity", s.handleConnectivity)
	r.Get("/api/connectivity/latest", s.handleLatest)
	r.Post("/api/connectivity/refresh", s.handleRefresh)

	r.Get("/ws", s.handleWS)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// Serve runs the server on ln until ctx is cancelled, then closes websocket
// subscribers and shuts down gracefully.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	if s.hub != nil {
		s.hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	<-errCh
	return nil
}

func (s *StatusServer) status() ConnectivityStatus {
	var st ConnectivityStatus

	st.Build.Commit = BuildCommit
	st.Build.Time = BuildTime
	st.Build.GoVersion = runtime.Version()

	st.StartTime = s.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(s.startTime)
	st.Uptime = uptime.Round(time.Second).String()
	st.UptimeSec = int64(uptime.Seconds())

	st.Endpoint = s.coord.Endpoint()
	st.State = s.coord.State()
	st.Stats = s.coord.Stats()
	if s.hub != nil {
		st.Subscribers = s.hub.Count()
	}

	if u, ok := s.coord.Latest(); ok {
		summary := &LatestSummary{
			Source:     u.Source,
			ReceivedAt: u.ReceivedAt,
			Bytes:      len(u.Body),
		}
		if bot, err := statusapi.ParseBotStatus(u.Body); err == nil && bot.Status != "" {
			summary.Bot = &bot
		}
		st.Latest = summary
	}

	return st
}

func (s *StatusServer) handleConnectivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *StatusServer) handleLatest(w http.ResponseWriter, _ *http.Request) {
	u, ok := s.coord.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no payload received yet"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *StatusServer) handleRefresh(w http.ResponseWriter, req *http.Request) {
	body, err := s.coord.Refresh(req.Context())
	state := s.coord.State()
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, connectivity.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		s.logger.Warn("manual refresh failed",
			zap.String("requestId", middleware.GetReqID(req.Context())),
			zap.Error(err))
		writeJSON(w, code, map[string]any{
			"error": err.Error(),
			"state": state,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": state,
		"body":  body,
	})
}

// handleWS sends the current state, then every transition until the client
// goes away or the hub closes.
func (s *StatusServer) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, frames, ok := s.hub.Subscribe()
	if !ok {
		writeClose(conn, websocket.CloseGoingAway, "shutting down")
		return
	}
	defer s.hub.Unsubscribe(id)

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(HubMessage{Type: "state", Data: s.coord.State()}); err != nil {
		return
	}

	// Reads only detect the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case frame, ok := <-frames:
			if !ok {
				writeClose(conn, websocket.CloseGoingAway, "subscriber closed")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return // Client disconnected
			}
		}
	}
}

// requestLogger logs each request at debug level with its request ID.
func (s *StatusServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
