// Package gateway exposes the assistant over WebSocket using JSON-RPC 2.0
// frames, with streaming chat events, bearer-token auth, and Prometheus
// metrics endpoints on the same listener.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/sessions"
)

// DefaultMaxConnections caps simultaneous WebSocket clients.
const DefaultMaxConnections = 1000

// DefaultMaxTextChars bounds chat.send text length.
const DefaultMaxTextChars = 10000

// AgentHandler runs one user turn. Satisfied by agent.Supervisor.
type AgentHandler interface {
	Handle(ctx context.Context, sessionKey, text string, onDelta agent.StreamFunc) (string, error)
}

// ServerConfig configures the gateway server.
type ServerConfig struct {
	Host           string
	Port           int
	AuthToken      string
	MaxConnections int
	MaxTextChars   int

	// Version is reported by the health method.
	Version string
}

// Server is the WebSocket gateway.
type Server struct {
	cfg      ServerConfig
	agent    AgentHandler
	sessions *sessions.Store
	auth     *authenticator
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	upgrader  websocket.Upgrader
	connCount atomic.Int64
	startedAt time.Time

	httpServer *http.Server
}

// NewServer assembles a gateway. registry may be nil when metrics are
// disabled; the /metrics endpoint then serves an empty registry.
func NewServer(cfg ServerConfig, agentHandler AgentHandler, store *sessions.Store, logger *observability.Logger, metrics *observability.Metrics, registry *prometheus.Registry) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = DefaultMaxTextChars
	}
	if cfg.Port == 0 {
		cfg.Port = 18789
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		cfg:      cfg,
		agent:    agentHandler,
		sessions: store,
		auth:     &authenticator{token: cfg.AuthToken},
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info(ctx, "gateway listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	// A valid Authorization header authenticates the whole connection;
	// otherwise the first request must carry a token parameter.
	authed := s.auth.CheckRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Over-capacity clients get a clean try-again-later close after the
	// upgrade so they can tell overload apart from network failure.
	if s.connCount.Load() >= int64(s.cfg.MaxConnections) {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
	}
	defer func() {
		s.connCount.Add(-1)
		if s.metrics != nil {
			s.metrics.ActiveConnections.Dec()
		}
	}()

	c := newWSConn(s, conn, r.Context(), authed)
	s.logger.Info(c.ctx, "connection opened", "conn_id", c.id, "remote", r.RemoteAddr)
	c.run()
	s.logger.Info(context.Background(), "connection closed", "conn_id", c.id)
}

func (s *Server) serveHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d}`, int64(time.Since(s.startedAt).Seconds()))
}
