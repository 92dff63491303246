package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Fan-out health snapshot and cluster membership
	s.echo.GET("/api/health", s.handleHealth)
	s.echo.GET("/api/instances", s.handleInstances)

	// Session and subscription API
	s.echo.GET("/api/sessions/:session", s.handleSessionInfo)
	s.echo.POST("/api/sessions/:session/subscriptions", s.handleSubscribe)
	s.echo.DELETE("/api/sessions/:session/subscriptions/:id", s.handleUnsubscribe)

	// Live viewer connection
	s.echo.GET("/ws", s.handleWebSocket)
}
