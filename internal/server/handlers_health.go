package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mcfalli/TickSTockAppV2-sub020/internal/errors"
	"github.com/mcfalli/TickSTockAppV2-sub020/internal/platform/version"
)

var startTime = time.Now()

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.checkRedis(ctx); err != nil {
		return c.JSON(503, map[string]any{
			"status":       "unhealthy",
			"failed_check": "redis",
			"error":        err.Error(),
		})
	}

	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) checkRedis(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

func (s *Server) handleInstances(c echo.Context) error {
	infos, err := s.instances.GetInstanceInfo(c.Request().Context())
	if err != nil {
		return apperrors.ExternalError("instance registry unavailable", err)
	}
	return c.JSON(200, map[string]any{"instances": infos})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
