package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards embed from arbitrary origins
	},
}

// handleWebSocket upgrades the connection, registers a session, and blocks
// on the read loop until the client disconnects. Reads are the activity
// signal for idle-session eviction.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if !s.rateLimiter.Allow(ip) {
		metrics.WebSocketConnectionsRejected.WithLabelValues("rate_limit").Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "connection rate limit exceeded"})
	}
	if !s.globalLimiter.Acquire() {
		metrics.WebSocketConnectionsRejected.WithLabelValues("global_limit").Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server at connection capacity"})
	}
	defer s.globalLimiter.Release()

	if !s.ipLimiter.Acquire(ip) {
		metrics.WebSocketConnectionsRejected.WithLabelValues("ip_limit").Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "per-IP connection limit exceeded"})
	}
	defer s.ipLimiter.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		return nil // Upgrade already wrote the error response
	}

	sessionID := uuid.New()
	transport := newWSTransport(conn, s.clock, func() {
		s.registry.MarkActivity(sessionID)
	})
	s.registry.Register(sessionID, transport)

	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	metrics.WebSocketConnectionsCurrent.Inc()
	defer metrics.WebSocketConnectionsCurrent.Dec()

	slog.Info("Session connected", "session_id", sessionID.String(), "ip", ip)

	// First frame tells the client its session ID for the subscription API.
	if err := transport.Send(c.Request().Context(), welcomeFrame(sessionID)); err != nil {
		s.registry.Deregister(sessionID)
		return nil
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		s.registry.MarkActivity(sessionID)
	}

	s.registry.Deregister(sessionID)
	slog.Info("Session disconnected", "session_id", sessionID.String())
	return nil
}

func welcomeFrame(sessionID uuid.UUID) []byte {
	return []byte(`{"type":"welcome","session_id":"` + sessionID.String() + `"}`)
}
